package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ============================================================================
// CONFIGURATION STRUCTURE
// ============================================================================

// Config is the complete configuration of a board sync client.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`

	Board     Board     `yaml:"board" json:"board"`
	Identity  Identity  `yaml:"identity" json:"identity"`
	Poll      Poll      `yaml:"poll" json:"poll"`
	Transport Transport `yaml:"transport" json:"transport"`
	Cache     Cache     `yaml:"cache" json:"cache"`
	Snapshot  Snapshot  `yaml:"snapshot" json:"snapshot"`
	Metrics   Metrics   `yaml:"metrics" json:"metrics"`
	Tracing   Tracing   `yaml:"tracing" json:"tracing"`
	Logging   Logging   `yaml:"logging" json:"logging"`
	Viewer    Viewer    `yaml:"viewer" json:"viewer"`

	// LoadedFrom lists the sources that contributed, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Board identifies the board being followed and the viewer's rights on it.
type Board struct {
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`
	ID      string `yaml:"id" json:"id" validate:"required"`

	// PageURL is the rendered board page. Its query string carries the
	// invite code and the page itself carries the initial CSRF token.
	PageURL string `yaml:"page_url" json:"page_url" validate:"omitempty,url"`

	// CSRFToken skips the page bootstrap when set.
	CSRFToken string `yaml:"csrf_token" json:"csrf_token"`

	CanEdit  bool      `yaml:"can_edit" json:"can_edit"`
	Finished bool      `yaml:"finished" json:"finished"`
	DoneAt   time.Time `yaml:"done_at" json:"done_at"`
}

// Identity is the authenticated viewer, if any. An empty identity means the
// client acts through the invite code alone.
type Identity struct {
	Username string `yaml:"username" json:"username"`
	Email    string `yaml:"email" json:"email" validate:"omitempty,email"`
	Session  string `yaml:"session_cookie" json:"session_cookie"`
}

// Poll controls the reconciliation loop.
type Poll struct {
	Interval time.Duration `yaml:"interval" json:"interval" validate:"min=100ms"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"min=100ms"`
}

// Transport configures the HTTP collaborator client.
type Transport struct {
	RequestTimeout time.Duration        `yaml:"request_timeout" json:"request_timeout" validate:"min=100ms"`
	UserAgent      string               `yaml:"user_agent" json:"user_agent"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// RetryConfig holds retry settings for idempotent reads.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries" validate:"min=0,max=10"`
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor" validate:"min=1"`
	JitterFactor  float64       `yaml:"jitter_factor" json:"jitter_factor" validate:"min=0,max=1"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0,max=1"`
	MinimumRequests  uint32        `yaml:"minimum_requests" json:"minimum_requests" validate:"min=1"`
	WindowSize       time.Duration `yaml:"window_size" json:"window_size"`
	OpenDuration     time.Duration `yaml:"open_duration" json:"open_duration"`
	HalfOpenRequests uint32        `yaml:"half_open_requests" json:"half_open_requests" validate:"min=1"`
}

// Cache configures the display-name cache.
type Cache struct {
	Provider string        `yaml:"provider" json:"provider" validate:"oneof=memory redis none"`
	MaxItems int           `yaml:"max_items" json:"max_items" validate:"min=1"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Redis    RedisConfig   `yaml:"redis" json:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// Snapshot configures the warm-start snapshot file.
type Snapshot struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Metrics configures the Prometheus collector.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" validate:"min=0,max=1"`
}

// Logging configures the structured logger.
type Logging struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
}

// Viewer configures the local viewer server.
type Viewer struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Addr           string        `yaml:"addr" json:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// ============================================================================
// VALIDATION
// ============================================================================

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Cache.Provider == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache.provider is redis")
	}
	if c.Viewer.Enabled && c.Viewer.Addr == "" {
		return fmt.Errorf("viewer.addr is required when the viewer is enabled")
	}
	if c.Snapshot.Enabled && c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required when snapshots are enabled")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// EffectivePageURL returns the board page URL, deriving it from the base URL
// when none was configured.
func (c *Config) EffectivePageURL() string {
	if c.Board.PageURL != "" {
		return c.Board.PageURL
	}
	return strings.TrimRight(c.Board.BaseURL, "/") + "/board/" + url.PathEscape(c.Board.ID)
}

// applyEnvironmentDefaults adjusts settings that depend on the environment.
func (c *Config) applyEnvironmentDefaults() {
	switch c.Environment {
	case Production:
		if c.Logging.Level == "debug" {
			c.Logging.Level = "info"
		}
		c.Transport.CircuitBreaker.Enabled = true
	case Development:
		if c.Tracing.SampleRate == 0 {
			c.Tracing.SampleRate = 1.0
		}
	}
}
