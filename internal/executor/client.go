package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 200
)

// Client — HTTP-клиент движка выполнения.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Config — конфигурация Client.
type Config struct {
	BaseURL    string        // адрес движка (обязательно)
	Token      string        // bearer-токен, если движок требует авторизацию
	Timeout    time.Duration // таймаут одного запроса (default: 30s)
	HTTPClient *http.Client  // для тестов
	Logger     *slog.Logger
}

// New создаёт новый Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse engine base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		logger:  logger,
	}, nil
}

type submitResponse struct {
	ExecutionID string `json:"execution_id"`
}

type statusResponse struct {
	State     string            `json:"state"`
	Error     string            `json:"error,omitempty"`
	Artifacts []domain.Artifact `json:"artifacts,omitempty"`
}

// Submit запускает выполнение фазы и возвращает его идентификатор.
//
// AttemptID передаётся как Idempotency-Key: повтор того же запроса
// не должен создавать второе выполнение.
func (c *Client) Submit(ctx context.Context, req domain.SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var resp submitResponse
	headers := map[string]string{"Idempotency-Key": req.AttemptID}
	if err := c.do(ctx, http.MethodPost, "/v1/executions", bytes.NewReader(body), headers, &resp); err != nil {
		return "", fmt.Errorf("submit phase %d: %w", req.PhaseNumber, err)
	}
	if resp.ExecutionID == "" {
		return "", fmt.Errorf("submit phase %d: %w: empty execution_id", req.PhaseNumber, ErrInvalidResponse)
	}

	c.logger.Debug("execution submitted",
		"parent_id", req.ParentID,
		"phase", req.PhaseNumber,
		"execution_id", resp.ExecutionID,
	)
	return resp.ExecutionID, nil
}

// Poll возвращает текущее состояние выполнения.
func (c *Client) Poll(ctx context.Context, executionID string) (domain.ExecutionStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(executionID), nil, nil, &resp); err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("poll %s: %w", executionID, err)
	}

	state, err := domain.ParseExecutionState(resp.State)
	if err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("poll %s: %w: %v", executionID, ErrInvalidResponse, err)
	}

	return domain.ExecutionStatus{
		State:     state,
		Error:     resp.Error,
		Artifacts: resp.Artifacts,
	}, nil
}

// Cancel отменяет выполнение. Отмена уже завершённого выполнения (409)
// и неизвестного выполнения (404) не считается ошибкой.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	err := c.do(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(executionID)+"/cancel", nil, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusConflict || se.Code == http.StatusNotFound) {
		c.logger.Debug("cancel ignored", "execution_id", executionID, "status", se.Code)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel %s: %w", executionID, err)
	}
	return nil
}

// Health проверяет, что движок отвечает.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// StatusError — неуспешный HTTP-ответ движка.
type StatusError struct {
	Code int
	Body string
}

// Error реализует интерфейс error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Unwrap классифицирует ответ.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrExecutionNotFound
	case e.Code == http.StatusTooManyRequests || e.Code >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
