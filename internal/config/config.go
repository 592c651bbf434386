// Package config загружает конфигурацию сервисов Phasegate.
//
// Приоритет (от высшего к низшему):
//  1. Переменные окружения PHASEGATE_<SECTION>_<KEY>
//  2. Переменные окружения совместимости: DB_URL, RABBITMQ_URL, ORCH_PORT, API_PORT
//  3. YAML файл (если указан)
//  4. Значения по умолчанию
package config

import (
	"fmt"
	"time"
)

// Config — конфигурация всех сервисов.
type Config struct {
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Database     DatabaseConfig     `koanf:"database"`
	RabbitMQ     RabbitMQConfig     `koanf:"rabbitmq"`
	Engine       EngineConfig       `koanf:"engine"`
	GitHub       GitHubConfig       `koanf:"github"`
	Preflight    PreflightConfig    `koanf:"preflight"`
	Sweeper      SweeperConfig      `koanf:"sweeper"`
	HTTP         HTTPConfig         `koanf:"http"`
}

// OrchestratorConfig — параметры координатора фаз.
type OrchestratorConfig struct {
	TickInterval      time.Duration `koanf:"tick_interval"`
	BatchSize         int           `koanf:"batch_size"`
	Parallelism       int           `koanf:"parallelism"`
	SubmitTimeout     time.Duration `koanf:"submit_timeout"`
	PollTimeout       time.Duration `koanf:"poll_timeout"`
	LockTTL           time.Duration `koanf:"lock_ttl"`
	MaxVerifyAttempts int           `koanf:"max_verify_attempts"`
	RequireArtifact   bool          `koanf:"require_artifact"`
	CloseParentTicket bool          `koanf:"close_parent_ticket"`
	SummaryLimit      int           `koanf:"summary_limit"`
}

// DatabaseConfig — подключение к PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RabbitMQConfig — подключение к брокеру.
type RabbitMQConfig struct {
	URL string `koanf:"url"`
}

// EngineConfig — HTTP API движка выполнения.
type EngineConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// GitHubConfig — трекер тикетов.
type GitHubConfig struct {
	Token             string  `koanf:"token"`
	BaseURL           string  `koanf:"base_url"`
	BranchPrefix      string  `koanf:"branch_prefix"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// PreflightConfig — проверки перед запуском фазы.
type PreflightConfig struct {
	WorkspacePath         string        `koanf:"workspace_path"`
	RequireCleanWorkspace bool          `koanf:"require_clean_workspace"`
	MinRateLimit          int           `koanf:"min_rate_limit"`
	CheckTimeout          time.Duration `koanf:"check_timeout"`
}

// SweeperConfig — очистка просроченных блокировок.
type SweeperConfig struct {
	Cron string `koanf:"cron"`
}

// HTTPConfig — порты служебных HTTP серверов.
type HTTPConfig struct {
	OrchestratorPort int `koanf:"orchestrator_port"`
	APIPort          int `koanf:"api_port"`
}

// Validate проверяет, что значения допустимы.
func (c *Config) Validate() error {
	o := c.Orchestrator
	switch {
	case o.TickInterval <= 0:
		return fmt.Errorf("orchestrator.tick_interval must be positive")
	case o.BatchSize <= 0:
		return fmt.Errorf("orchestrator.batch_size must be positive")
	case o.Parallelism <= 0:
		return fmt.Errorf("orchestrator.parallelism must be positive")
	case o.LockTTL <= 0:
		return fmt.Errorf("orchestrator.lock_ttl must be positive")
	case o.MaxVerifyAttempts <= 0:
		return fmt.Errorf("orchestrator.max_verify_attempts must be positive")
	case o.SummaryLimit <= 0:
		return fmt.Errorf("orchestrator.summary_limit must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must not be negative")
	}
	if c.Preflight.MinRateLimit < 0 {
		return fmt.Errorf("preflight.min_rate_limit must not be negative")
	}

	for name, port := range map[string]int{
		"http.orchestrator_port": c.HTTP.OrchestratorPort,
		"http.api_port":          c.HTTP.APIPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	return nil
}
