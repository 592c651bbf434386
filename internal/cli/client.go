package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ParentResponse — родительский запрос из API.
type ParentResponse struct {
	ID        string          `json:"id"`
	TicketID  string          `json:"ticket_id"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	Phases    []PhaseResponse `json:"phases"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// PhaseResponse — фаза из API.
type PhaseResponse struct {
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	TicketID        string   `json:"ticket_id"`
	Status          string   `json:"status"`
	DocRefs         []string `json:"doc_refs,omitempty"`
	ExecutionID     string   `json:"execution_id,omitempty"`
	ErrorSummary    string   `json:"error_summary,omitempty"`
	VerifyAttempts  int      `json:"verify_attempts,omitempty"`
	CancelRequested bool     `json:"cancel_requested,omitempty"`
	StartedAt       string   `json:"started_at,omitempty"`
	FinishedAt      string   `json:"finished_at,omitempty"`
	UpdatedAt       string   `json:"updated_at"`
}

// ExecutionRecordResponse — запись журнала запусков из API.
type ExecutionRecordResponse struct {
	ID          string `json:"id"`
	PhaseNumber int    `json:"phase_number"`
	TicketID    string `json:"ticket_id"`
	AttemptID   string `json:"attempt_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Event       string `json:"event"`
	Detail      string `json:"detail,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// LockResponse — блокировка тикета из API.
type LockResponse struct {
	TicketID   string `json:"ticket_id"`
	HolderID   string `json:"holder_id"`
	Status     string `json:"status"`
	Held       bool   `json:"held"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
	ReleasedAt string `json:"released_at,omitempty"`
}

// --- Request types ---

// PhaseSpec — описание фазы при отправке запроса.
type PhaseSpec struct {
	Number   int      `json:"number" yaml:"number"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	DocRefs  []string `json:"doc_refs,omitempty" yaml:"doc_refs,omitempty"`
	TicketID string   `json:"ticket_id" yaml:"ticket_id"`
}

// SubmitParentRequest — приём многофазного запроса.
type SubmitParentRequest struct {
	TicketID string      `json:"ticket_id" yaml:"ticket_id"`
	Title    string      `json:"title" yaml:"title"`
	Phases   []PhaseSpec `json:"phases" yaml:"phases"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Phasegate API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Parents ---

// ListParents возвращает активные запросы.
func (c *Client) ListParents(limit int) ([]ParentResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var parents []ParentResponse
	err := c.list("/api/v1/parents", params, &parents)
	return parents, err
}

// SubmitParent отправляет новый многофазный запрос.
func (c *Client) SubmitParent(req SubmitParentRequest) (*ParentResponse, error) {
	var parent ParentResponse
	err := c.post("/api/v1/parents", req, &parent)
	return &parent, err
}

// GetParent возвращает запрос по ID.
func (c *Client) GetParent(id string) (*ParentResponse, error) {
	var parent ParentResponse
	err := c.get("/api/v1/parents/"+url.PathEscape(id), &parent)
	return &parent, err
}

// ListExecutions возвращает журнал запусков запроса.
func (c *Client) ListExecutions(parentID string) ([]ExecutionRecordResponse, error) {
	var records []ExecutionRecordResponse
	err := c.list("/api/v1/parents/"+url.PathEscape(parentID)+"/executions", nil, &records)
	return records, err
}

// --- Phases ---

// CancelPhase запрашивает отмену выполняющейся фазы.
func (c *Client) CancelPhase(parentID string, number int, reason string) (*ParentResponse, error) {
	body := map[string]string{"reason": reason}
	var parent ParentResponse
	err := c.post(fmt.Sprintf("/api/v1/parents/%s/phases/%d/cancel", url.PathEscape(parentID), number), body, &parent)
	return &parent, err
}

// --- Locks ---

// GetLock возвращает состояние блокировки тикета.
func (c *Client) GetLock(ticketID string) (*LockResponse, error) {
	params := url.Values{}
	params.Set("ticket_id", ticketID)

	var lock LockResponse
	err := c.get("/api/v1/locks?"+params.Encode(), &lock)
	return &lock, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
