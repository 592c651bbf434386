package preflight

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// maxListedFiles — сколько изменённых файлов показывать в сообщении.
const maxListedFiles = 5

// WorkspaceClean проверяет, что в рабочей копии git нет незакоммиченных изменений.
func WorkspaceClean(path string, blocking bool) Check {
	return CheckFunc("workspace-clean", blocking, func(ctx context.Context) Outcome {
		repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			return Fail(fmt.Sprintf("open git repository %s: %v", path, err),
				"point preflight.workspace_path at a git checkout")
		}

		wt, err := repo.Worktree()
		if err != nil {
			return Fail(fmt.Sprintf("open worktree: %v", err), "use a non-bare repository")
		}

		status, err := wt.Status()
		if err != nil {
			return Fail(fmt.Sprintf("read worktree status: %v", err), "")
		}
		if ctx.Err() != nil {
			return Fail("workspace status check cancelled", "")
		}

		if status.IsClean() {
			return Pass("workspace is clean")
		}

		dirty := make([]string, 0, len(status))
		for file := range status {
			dirty = append(dirty, file)
		}
		sort.Strings(dirty)
		listed := dirty
		if len(listed) > maxListedFiles {
			listed = listed[:maxListedFiles]
		}
		msg := fmt.Sprintf("%d uncommitted change(s): %s", len(dirty), strings.Join(listed, ", "))
		if len(dirty) > maxListedFiles {
			msg += ", ..."
		}
		return Fail(msg, fmt.Sprintf("commit or stash changes in %s", path))
	})
}

// Pinger — то, что умеет проверять соединение (например, *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseReachable проверяет, что база данных отвечает.
func DatabaseReachable(db Pinger) Check {
	return CheckFunc("database-reachable", true, func(ctx context.Context) Outcome {
		if err := db.Ping(ctx); err != nil {
			return Fail(fmt.Sprintf("database ping failed: %v", err), "check DB_URL and database availability")
		}
		return Pass("database is reachable")
	})
}

// ConnectionState — то, что сообщает о состоянии соединения (например, *mq.Connection).
type ConnectionState interface {
	IsConnected() bool
}

// BrokerConnected проверяет соединение с брокером сообщений.
// Неблокирующая: без брокера координатор работает через polling.
func BrokerConnected(conn ConnectionState) Check {
	return CheckFunc("broker-connected", false, func(context.Context) Outcome {
		if conn == nil || !conn.IsConnected() {
			return Warn("message broker is not connected", "check RABBITMQ_URL; events fall back to polling")
		}
		return Pass("message broker is connected")
	})
}

// RateLimiter — источник остатка лимита запросов к трекеру.
type RateLimiter interface {
	RemainingRequests(ctx context.Context) (remaining int, reset time.Time, err error)
}

// RateLimit проверяет, что в трекере осталось хотя бы minRemaining запросов.
// Неблокирующая при blocking=false: тогда низкий остаток даёт WARN.
func RateLimit(src RateLimiter, minRemaining int, blocking bool) Check {
	return CheckFunc("tracker-rate-limit", blocking, func(ctx context.Context) Outcome {
		remaining, reset, err := src.RemainingRequests(ctx)
		if err != nil {
			return Warn(fmt.Sprintf("could not read rate limit: %v", err), "")
		}
		if remaining >= minRemaining {
			return Pass(fmt.Sprintf("%d requests remaining", remaining))
		}
		msg := fmt.Sprintf("only %d requests remaining (need %d), resets at %s",
			remaining, minRemaining, reset.Format(time.RFC3339))
		if blocking {
			return Fail(msg, "wait for the rate limit window to reset")
		}
		return Warn(msg, "wait for the rate limit window to reset")
	})
}

// HealthChecker — движок выполнения, умеющий сообщать о своём состоянии.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EngineHealthy проверяет, что движок выполнения отвечает.
func EngineHealthy(engine HealthChecker) Check {
	return CheckFunc("engine-healthy", true, func(ctx context.Context) Outcome {
		err := engine.Health(ctx)
		switch {
		case err == nil:
			return Pass("execution engine is healthy")
		case errors.Is(err, context.DeadlineExceeded):
			return Fail("execution engine health check timed out", "check engine.base_url")
		default:
			return Fail(fmt.Sprintf("execution engine unhealthy: %v", err), "check engine.base_url and engine status")
		}
	})
}
