package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey      string
	ClaudeModel       string
	ClassifierTimeout time.Duration
	GeneratorTimeout  time.Duration

	DatabaseURL string
	RedisURL    string
	RedisKey    string

	FacilityFeedURL         string
	FacilityRefreshInterval time.Duration
	FacilitiesFile          string
	EstimateLevelWaits      bool
	MaxTravelMinutes        int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = rule engine and default pathway only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.DurationVar(&c.ClassifierTimeout, "classifier-timeout", 30*time.Second, "deadline for one external classification (1s..2m)")
	fs.DurationVar(&c.GeneratorTimeout, "generator-timeout", 45*time.Second, "deadline for one pathway generation (1s..2m)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the shared facility board (empty = in-process board)")
	fs.StringVar(&c.RedisKey, "redis-key", "erpath:facilities", "Redis key holding the facility board")
	fs.StringVar(&c.FacilityFeedURL, "facility-feed-url", "", "HTTP endpoint serving the facility wait-time feed")
	fs.DurationVar(&c.FacilityRefreshInterval, "facility-refresh-interval", 5*time.Minute, "how often the facility feed is refreshed (10s..24h)")
	fs.StringVar(&c.FacilitiesFile, "facilities-file", "", "local JSON file of facility records, used when no feed URL is set")
	fs.BoolVar(&c.EstimateLevelWaits, "estimate-level-waits", false, "estimate per-level waits for records that carry none")
	fs.IntVar(&c.MaxTravelMinutes, "max-travel-minutes", 0, "leave out facilities farther than this many minutes (0 = keep all, max 1440)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical triage notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// A model is needed whenever a key enables the external collaborators
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if err := checkDuration("CLASSIFIER_TIMEOUT", c.ClassifierTimeout, time.Second, 2*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if err := checkDuration("GENERATOR_TIMEOUT", c.GeneratorTimeout, time.Second, 2*time.Minute); err != nil {
		errs = append(errs, err)
	}

	if c.DatabaseURL != "" && !hasScheme(c.DatabaseURL, "postgres", "postgresql") {
		errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
	}
	if c.RedisURL != "" {
		if !hasScheme(c.RedisURL, "redis", "rediss") {
			errs = append(errs, errors.New("REDIS_URL must be a redis:// or rediss:// URL"))
		}
		if c.RedisKey == "" {
			errs = append(errs, errors.New("REDIS_KEY is required when REDIS_URL is set"))
		}
	}

	if c.FacilityFeedURL != "" {
		if !hasScheme(c.FacilityFeedURL, "http", "https") {
			errs = append(errs, errors.New("FACILITY_FEED_URL must be an http:// or https:// URL"))
		}
	}
	if c.FacilityFeedURL != "" || c.FacilitiesFile != "" {
		if err := checkDuration("FACILITY_REFRESH_INTERVAL", c.FacilityRefreshInterval, 10*time.Second, 24*time.Hour); err != nil {
			errs = append(errs, err)
		}
	}

	if c.MaxTravelMinutes < 0 || c.MaxTravelMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid MAX_TRAVEL_MINUTES %d (must be 0..1440)", c.MaxTravelMinutes))
	}

	if c.SlackWebhookURL != "" && !hasScheme(c.SlackWebhookURL, "https") {
		errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an https:// URL"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func checkDuration(name string, d, lo, hi time.Duration) error {
	if d < lo || d > hi {
		return fmt.Errorf("invalid %s %s (must be %s..%s)", name, d, lo, hi)
	}
	return nil
}

func hasScheme(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
