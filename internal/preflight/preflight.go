package preflight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
)

const defaultCheckTimeout = 5 * time.Second

// Outcome — то, что возвращает проверка.
type Outcome struct {
	Status      domain.CheckOutcome
	Message     string
	Remediation string
}

// Pass возвращает успешный Outcome.
func Pass(msg string) Outcome {
	return Outcome{Status: domain.CheckPass, Message: msg}
}

// Warn возвращает предупреждение.
func Warn(msg, remediation string) Outcome {
	return Outcome{Status: domain.CheckWarn, Message: msg, Remediation: remediation}
}

// Fail возвращает провал проверки.
func Fail(msg, remediation string) Outcome {
	return Outcome{Status: domain.CheckFail, Message: msg, Remediation: remediation}
}

// Check — одна проверка окружения.
//
// Проверки не должны иметь побочных эффектов и должны учитывать ctx.
type Check interface {
	Name() string
	Blocking() bool
	Run(ctx context.Context) Outcome
}

type funcCheck struct {
	name     string
	blocking bool
	fn       func(ctx context.Context) Outcome
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Blocking() bool                  { return c.blocking }
func (c funcCheck) Run(ctx context.Context) Outcome { return c.fn(ctx) }

// CheckFunc оборачивает функцию в Check.
func CheckFunc(name string, blocking bool, fn func(ctx context.Context) Outcome) Check {
	return funcCheck{name: name, blocking: blocking, fn: fn}
}

// Report — результат прогона всех проверок.
type Report struct {
	Results []domain.CheckResult `json:"results"`

	// Blocked — запуск запрещён.
	Blocked bool `json:"blocked"`

	// Message — блокирующие провалы с подсказками по исправлению.
	Message string `json:"message,omitempty"`
}

// Failures возвращает блокирующие провалы.
func (r Report) Failures() []domain.CheckResult {
	var out []domain.CheckResult
	for _, res := range r.Results {
		if res.Blocks() {
			out = append(out, res)
		}
	}
	return out
}

// Advisories возвращает неблокирующие WARN/FAIL.
func (r Report) Advisories() []domain.CheckResult {
	var out []domain.CheckResult
	for _, res := range r.Results {
		if !res.Blocks() && res.Outcome != domain.CheckPass {
			out = append(out, res)
		}
	}
	return out
}

// Digest — короткий стабильный хэш блокирующих провалов.
// По нему дедуплицируются диагностические комментарии.
//
// Текст сообщения в хэш не входит: он может меняться от тика к тику
// (тело ответа, адрес соединения), а набор провалов остаётся тем же.
func (r Report) Digest() string {
	h := sha256.New()
	for _, f := range r.Failures() {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", f.Name, f.Outcome, f.Remediation)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Gate прогоняет проверки перед запуском фазы.
type Gate struct {
	checks  []Check
	timeout time.Duration
	logger  *slog.Logger
}

// Config — конфигурация Gate.
type Config struct {
	Checks       []Check
	CheckTimeout time.Duration // таймаут одной проверки (default: 5s)
	Logger       *slog.Logger
}

// New создаёт новый Gate.
func New(cfg Config) *Gate {
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		checks:  cfg.Checks,
		timeout: timeout,
		logger:  logger,
	}
}

// Checks возвращает имена зарегистрированных проверок.
func (g *Gate) Checks() []string {
	names := make([]string, 0, len(g.checks))
	for _, c := range g.checks {
		names = append(names, c.Name())
	}
	return names
}

// Run выполняет все проверки по порядку.
func (g *Gate) Run(ctx context.Context) Report {
	report := Report{Results: make([]domain.CheckResult, 0, len(g.checks))}

	var msgs []string
	for _, c := range g.checks {
		res := g.runOne(ctx, c)
		report.Results = append(report.Results, res)

		switch {
		case res.Blocks():
			report.Blocked = true
			line := fmt.Sprintf("%s: %s", res.Name, res.Message)
			if res.Remediation != "" {
				line += " (fix: " + res.Remediation + ")"
			}
			msgs = append(msgs, line)
		case res.Outcome != domain.CheckPass:
			g.logger.Warn("preflight advisory",
				"check", res.Name,
				"outcome", res.Outcome,
				"message", res.Message,
			)
		}
	}
	report.Message = strings.Join(msgs, "; ")
	return report
}

// runOne выполняет проверку с таймаутом и защитой от паники.
func (g *Gate) runOne(ctx context.Context, c Check) domain.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail(fmt.Sprintf("check panicked: %v", r), "")
			}
		}()
		done <- c.Run(ctx)
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = Fail(fmt.Sprintf("check did not finish within %s", g.timeout), "")
	}

	switch out.Status {
	case domain.CheckPass, domain.CheckWarn, domain.CheckFail:
	default:
		out = Fail(fmt.Sprintf("check returned unknown outcome %q", out.Status), "")
	}

	return domain.CheckResult{
		Name:        c.Name(),
		Outcome:     out.Status,
		Blocking:    c.Blocking(),
		Message:     out.Message,
		Remediation: out.Remediation,
		Duration:    time.Since(start),
	}
}
