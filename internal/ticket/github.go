package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/shaiso/Phasegate/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBranchPrefix      = "phasegate/"
	defaultRequestsPerSecond = 5
	commentsPerPage          = 100
)

// GitHub — реализация трекера поверх GitHub API.
type GitHub struct {
	client       *github.Client
	limiter      *rate.Limiter
	retry        RetryConfig
	branchPrefix string
	logger       *slog.Logger
}

// Config — конфигурация GitHub.
type Config struct {
	// Token — personal access token или токен GitHub App.
	Token string

	// BaseURL — адрес API для GitHub Enterprise (пусто — api.github.com).
	BaseURL string

	// BranchPrefix — префикс ветки артефакта (default: "phasegate/").
	BranchPrefix string

	// RequestsPerSecond — клиентское ограничение частоты запросов (default: 5).
	RequestsPerSecond float64

	Retry  RetryConfig
	Logger *slog.Logger
}

// NewGitHub создаёт клиента трекера.
func NewGitHub(ctx context.Context, cfg Config) (*GitHub, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(httpClient)

	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	prefix := cfg.BranchPrefix
	if prefix == "" {
		prefix = defaultBranchPrefix
	}

	retry := cfg.Retry
	retry.ApplyDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GitHub{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		retry:        retry,
		branchPrefix: prefix,
		logger:       logger,
	}, nil
}

// BranchFor возвращает имя ветки артефакта для выполнения.
func (g *GitHub) BranchFor(executionID string) string {
	return g.branchPrefix + executionID
}

// call выполняет вызов API с rate limiting и повторами.
func (g *GitHub) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	_, err := withRetry(ctx, g.retry, g.logger, op, func() (*github.Response, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn()
	})
	return err
}

// PostComment оставляет комментарий в тикете.
func (g *GitHub) PostComment(ctx context.Context, ticketID, body string) error {
	ref, err := ParseRef(ticketID)
	if err != nil {
		return err
	}

	err = g.call(ctx, "create comment", func() (*github.Response, error) {
		_, resp, err := g.client.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number,
			&github.IssueComment{Body: github.String(body)})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("comment on %s: %w", ticketID, err)
	}

	g.logger.Debug("comment posted", "ticket_id", ticketID)
	return nil
}

// HasComment проверяет, есть ли в тикете комментарий, содержащий marker.
func (g *GitHub) HasComment(ctx context.Context, ticketID, marker string) (bool, error) {
	ref, err := ParseRef(ticketID)
	if err != nil {
		return false, err
	}

	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: commentsPerPage},
	}
	for {
		var (
			comments []*github.IssueComment
			resp     *github.Response
		)
		err := g.call(ctx, "list comments", func() (*github.Response, error) {
			var err error
			comments, resp, err = g.client.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return resp, err
		})
		if err != nil {
			return false, fmt.Errorf("list comments on %s: %w", ticketID, err)
		}

		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return true, nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
}

// FindArtifactForExecution ищет pull request, созданный выполнением.
// Возвращает nil, если артефакта нет.
func (g *GitHub) FindArtifactForExecution(ctx context.Context, ticketID, executionID string) (*domain.Artifact, error) {
	ref, err := ParseRef(ticketID)
	if err != nil {
		return nil, err
	}

	branch := g.BranchFor(executionID)
	opts := &github.PullRequestListOptions{
		State:       "all",
		Head:        ref.Owner + ":" + branch,
		ListOptions: github.ListOptions{PerPage: 10},
	}

	var prs []*github.PullRequest
	err = g.call(ctx, "list pull requests", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		prs, resp, err = g.client.PullRequests.List(ctx, ref.Owner, ref.Repo, opts)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("find artifact for %s: %w", executionID, err)
	}

	for _, pr := range prs {
		if pr.GetHead().GetRef() == branch {
			a := toArtifact(ref, pr)
			return &a, nil
		}
	}
	return nil, nil
}

// GetArtifact возвращает актуальное состояние артефакта по ссылке "owner/repo#N".
func (g *GitHub) GetArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	ref, err := ParseRef(artifactID)
	if err != nil {
		return nil, err
	}

	pr, err := g.getPullRequest(ctx, ref)
	if err != nil {
		return nil, err
	}
	a := toArtifact(ref, pr)
	return &a, nil
}

// CloseArtifact закрывает открытый pull request с комментарием-отчётом.
// Закрытый или слитый артефакт не трогается.
func (g *GitHub) CloseArtifact(ctx context.Context, artifact domain.Artifact, report string) error {
	ref, err := ParseRef(artifact.ID)
	if err != nil {
		return err
	}

	pr, err := g.getPullRequest(ctx, ref)
	if err != nil {
		return err
	}
	if st := toArtifact(ref, pr).State; st != domain.ArtifactStateOpen {
		g.logger.Debug("artifact already closed, skipping", "artifact_id", artifact.ID, "state", st)
		return nil
	}

	if report != "" {
		if err := g.PostComment(ctx, artifact.ID, report); err != nil {
			// отчёт не обязателен для закрытия
			g.logger.Warn("failed to post artifact close report", "artifact_id", artifact.ID, "error", err)
		}
	}

	err = g.call(ctx, "close pull request", func() (*github.Response, error) {
		_, resp, err := g.client.PullRequests.Edit(ctx, ref.Owner, ref.Repo, ref.Number,
			&github.PullRequest{State: github.String("closed")})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("close artifact %s: %w", artifact.ID, err)
	}

	g.logger.Info("artifact closed", "artifact_id", artifact.ID)
	return nil
}

// CloseTicket закрывает тикет, оставляя комментарий report (если не пустой).
// Уже закрытый тикет не трогается.
func (g *GitHub) CloseTicket(ctx context.Context, ticketID, report string) error {
	ref, err := ParseRef(ticketID)
	if err != nil {
		return err
	}

	var issue *github.Issue
	err = g.call(ctx, "get issue", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		issue, resp, err = g.client.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	if issue.GetState() == "closed" {
		return nil
	}

	if report != "" {
		if err := g.PostComment(ctx, ticketID, report); err != nil {
			return err
		}
	}

	err = g.call(ctx, "close issue", func() (*github.Response, error) {
		_, resp, err := g.client.Issues.Edit(ctx, ref.Owner, ref.Repo, ref.Number,
			&github.IssueRequest{State: github.String("closed")})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("close ticket %s: %w", ticketID, err)
	}

	g.logger.Info("ticket closed", "ticket_id", ticketID)
	return nil
}

// RemainingRequests возвращает остаток основного лимита API.
func (g *GitHub) RemainingRequests(ctx context.Context) (int, time.Time, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, time.Time{}, err
	}
	limits, _, err := g.client.RateLimits(ctx)
	if err != nil {
		var rle *github.RateLimitError
		if errors.As(err, &rle) {
			return 0, rle.Rate.Reset.Time, nil
		}
		return 0, time.Time{}, fmt.Errorf("get rate limits: %w", err)
	}
	core := limits.GetCore()
	if core == nil {
		return 0, time.Time{}, fmt.Errorf("get rate limits: no core limit in response")
	}
	return core.Remaining, core.Reset.Time, nil
}

func (g *GitHub) getPullRequest(ctx context.Context, ref Ref) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := g.call(ctx, "get pull request", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		pr, resp, err = g.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", ref, err)
	}
	return pr, nil
}

// toArtifact переводит pull request в доменный артефакт.
func toArtifact(repo Ref, pr *github.PullRequest) domain.Artifact {
	state := domain.ArtifactStateOpen
	switch {
	case pr.GetMerged() || pr.MergedAt != nil:
		state = domain.ArtifactStateMerged
	case pr.GetState() == "closed":
		state = domain.ArtifactStateClosed
	}
	return domain.Artifact{
		ID:     Ref{Owner: repo.Owner, Repo: repo.Repo, Number: pr.GetNumber()}.String(),
		URL:    pr.GetHTMLURL(),
		Branch: pr.GetHead().GetRef(),
		State:  state,
	}
}
