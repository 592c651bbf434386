package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/shaiso/Phasegate/internal/domain"
)

// DefaultSummaryLimit — максимальная длина описания ошибки в отчётах (в рунах).
const DefaultSummaryLimit = 1000

// Маркеры комментариев.
const markerPrefix = "<!-- phasegate:"

// FailureMarker — маркер отчёта об ошибке конкретного выполнения.
func FailureMarker(parentID string, phase int, executionID string) string {
	return fmt.Sprintf("%sfailure:%s:%d:%s -->", markerPrefix, parentID, phase, executionID)
}

// SuccessMarker — маркер сообщения об успешном завершении выполнения.
func SuccessMarker(parentID string, phase int, executionID string) string {
	return fmt.Sprintf("%ssuccess:%s:%d:%s -->", markerPrefix, parentID, phase, executionID)
}

// PreflightMarker — маркер диагностики pre-flight для набора провалов.
func PreflightMarker(parentID string, phase int, digest string) string {
	return fmt.Sprintf("%spreflight:%s:%d:%s -->", markerPrefix, parentID, phase, digest)
}

// ParentCompletedMarker — маркер уведомления о завершении запроса.
func ParentCompletedMarker(parentID string) string {
	return fmt.Sprintf("%sparent-completed:%s -->", markerPrefix, parentID)
}

// ParentHaltedMarker — маркер уведомления об остановке запроса.
func ParentHaltedMarker(parentID string) string {
	return fmt.Sprintf("%sparent-halted:%s -->", markerPrefix, parentID)
}

// Truncate обрезает s до limit рун, добавляя многоточие.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

var funcs = template.FuncMap{
	"phases": func(nums []int) string {
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ", ")
	},
	"quote": func(s string) string {
		lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
		return "> " + strings.Join(lines, "\n> ")
	},
}

var templates = template.Must(template.New("report").Funcs(funcs).Parse(`
{{- define "failure" -}}
{{ .Marker }}
### Phase {{ .Phase }} failed: {{ .Title }}

Execution ` + "`{{ .ExecutionID }}`" + ` of request ` + "`{{ .ParentID }}`" + ` did not complete.

{{ if .Summary }}{{ quote .Summary }}
{{ else }}_No error summary was reported by the execution engine._
{{ end }}
{{- if .ArtifactID }}
{{- if eq .ArtifactOutcome "closed" }}
Artifact {{ .ArtifactID }} was auto-closed.
{{ else if eq .ArtifactOutcome "merged" }}
Artifact {{ .ArtifactID }} was already merged and was left as is.
{{ else if eq .ArtifactOutcome "already_closed" }}
Artifact {{ .ArtifactID }} was already closed.
{{ else if eq .ArtifactOutcome "close_failed" }}
Artifact {{ .ArtifactID }} could not be closed automatically. Close it manually.
{{ else }}
Artifact: {{ .ArtifactID }}
{{ end }}
{{- end }}
{{- if .Blocked }}
Blocked phases: {{ phases .Blocked }}. They will not run until a new request is submitted.
{{ else }}
No downstream phases were affected.
{{ end -}}
{{- end -}}

{{- define "artifact-close" -}}
{{ .Marker }}
Auto-closed by phasegate: phase {{ .Phase }} of request ` + "`{{ .ParentID }}`" + ` failed (execution ` + "`{{ .ExecutionID }}`" + `).

{{ if .Summary }}{{ quote .Summary }}
{{ end -}}
{{- end -}}

{{- define "success" -}}
{{ .Marker }}
### Phase {{ .Phase }} completed: {{ .Title }}

Execution ` + "`{{ .ExecutionID }}`" + ` finished successfully.
{{- if .ArtifactID }}
Artifact: {{ if .ArtifactURL }}[{{ .ArtifactID }}]({{ .ArtifactURL }}){{ else }}{{ .ArtifactID }}{{ end }}
{{- end }}
{{ if .Next }}
Phase {{ .Next }} is now ready.
{{ else }}
This was the last phase of the request.
{{ end -}}
{{- end -}}

{{- define "preflight" -}}
{{ .Marker }}
### Phase {{ .Phase }} is waiting on pre-flight checks

The launch was not attempted. It will be retried on the next tick.

{{ range .Failures -}}
- **{{ .Name }}**: {{ .Message }}{{ if .Remediation }} (fix: {{ .Remediation }}){{ end }}
{{ end -}}
{{- end -}}

{{- define "parent-completed" -}}
{{ .Marker }}
### All {{ .Phases }} phases completed

Request ` + "`{{ .ParentID }}`" + ` ({{ .Title }}) finished successfully.
{{- end -}}

{{- define "parent-halted" -}}
{{ .Marker }}
### Request halted at phase {{ .FailedPhase }}

Request ` + "`{{ .ParentID }}`" + ` ({{ .Title }}) stopped because phase {{ .FailedPhase }} failed.
{{- if .Blocked }}
Blocked phases: {{ phases .Blocked }}.
{{- end }}
{{ if .Summary }}
{{ quote .Summary }}
{{ end -}}
{{- end -}}
`))

// Renderer рендерит сообщения с ограничением длины описания ошибки.
type Renderer struct {
	summaryLimit int
}

// NewRenderer создаёт Renderer. summaryLimit <= 0 означает DefaultSummaryLimit.
func NewRenderer(summaryLimit int) *Renderer {
	if summaryLimit <= 0 {
		summaryLimit = DefaultSummaryLimit
	}
	return &Renderer{summaryLimit: summaryLimit}
}

// SummaryLimit возвращает максимальную длину описания ошибки.
func (r *Renderer) SummaryLimit() int {
	return r.summaryLimit
}

// ArtifactOutcome — что очистка сделала с артефактом упавшей фазы.
type ArtifactOutcome string

const (
	ArtifactClosed        ArtifactOutcome = "closed"
	ArtifactMerged        ArtifactOutcome = "merged"
	ArtifactAlreadyClosed ArtifactOutcome = "already_closed"
	ArtifactCloseFailed   ArtifactOutcome = "close_failed"
)

// ArtifactOutcomeFor возвращает исход для артефакта, который не закрывался.
func ArtifactOutcomeFor(state domain.ArtifactState) ArtifactOutcome {
	switch state {
	case domain.ArtifactStateMerged:
		return ArtifactMerged
	case domain.ArtifactStateClosed:
		return ArtifactAlreadyClosed
	default:
		return ""
	}
}

// FailureData — данные отчёта об ошибке фазы.
type FailureData struct {
	ParentID        string
	Phase           int
	Title           string
	ExecutionID     string
	Summary         string
	ArtifactID      string
	ArtifactOutcome ArtifactOutcome
	Blocked         []int
}

// Failure рендерит отчёт об ошибке фазы для тикета фазы.
func (r *Renderer) Failure(d FailureData) (string, error) {
	d.Summary = Truncate(d.Summary, r.summaryLimit)
	return execute("failure", struct {
		FailureData
		Marker string
	}{d, FailureMarker(d.ParentID, d.Phase, d.ExecutionID)})
}

// ArtifactClose рендерит комментарий, с которым закрывается артефакт.
func (r *Renderer) ArtifactClose(d FailureData) (string, error) {
	d.Summary = Truncate(d.Summary, r.summaryLimit)
	return execute("artifact-close", struct {
		FailureData
		Marker string
	}{d, FailureMarker(d.ParentID, d.Phase, d.ExecutionID)})
}

// SuccessData — данные сообщения об успехе.
type SuccessData struct {
	ParentID    string
	Phase       int
	Title       string
	ExecutionID string
	ArtifactID  string
	ArtifactURL string
	Next        int // 0, если фаза последняя
}

// Success рендерит сообщение об успешном завершении фазы.
func (r *Renderer) Success(d SuccessData) (string, error) {
	return execute("success", struct {
		SuccessData
		Marker string
	}{d, SuccessMarker(d.ParentID, d.Phase, d.ExecutionID)})
}

// PreflightData — данные диагностики pre-flight.
type PreflightData struct {
	ParentID string
	Phase    int
	Digest   string
	Failures []domain.CheckResult
}

// Preflight рендерит диагностику заблокированного запуска.
func (r *Renderer) Preflight(d PreflightData) (string, error) {
	return execute("preflight", struct {
		PreflightData
		Marker string
	}{d, PreflightMarker(d.ParentID, d.Phase, d.Digest)})
}

// ParentData — данные уведомлений по родительскому запросу.
type ParentData struct {
	ParentID    string
	Title       string
	Phases      int
	FailedPhase int
	Blocked     []int
	Summary     string
}

// ParentCompleted рендерит уведомление о завершении всех фаз.
func (r *Renderer) ParentCompleted(d ParentData) (string, error) {
	return execute("parent-completed", struct {
		ParentData
		Marker string
	}{d, ParentCompletedMarker(d.ParentID)})
}

// ParentHalted рендерит уведомление об остановке запроса.
func (r *Renderer) ParentHalted(d ParentData) (string, error) {
	d.Summary = Truncate(d.Summary, r.summaryLimit)
	return execute("parent-halted", struct {
		ParentData
		Marker string
	}{d, ParentHaltedMarker(d.ParentID)})
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
