package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "PEGASUS_"

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader handles loading configuration from multiple sources.
type Loader struct {
	// basePath is the directory holding configuration files
	basePath string

	// environment is the current deployment environment
	environment Environment

	// sources tracks where configuration was loaded from
	sources []string

	// fileLoaders maps file extensions to their loaders
	fileLoaders map[string]FileLoader

	// lookupEnv is os.LookupEnv outside tests
	lookupEnv func(string) (string, bool)
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a new configuration loader.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
		sources:     make([]string, 0),
		fileLoaders: make(map[string]FileLoader),
		lookupEnv:   os.LookupEnv,
	}

	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})

	return loader
}

// RegisterLoader registers a new file loader for a specific format.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// BasePath returns the directory the loader reads files from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load loads configuration using a hierarchy of sources.
// The loading order (from lowest to highest priority):
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g., production.yaml)
//  4. Local overrides file (local.yaml, development only)
//  5. Environment variables
func (l *Loader) Load() (*Config, error) {
	l.sources = l.sources[:0]

	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load local config: %w", err)
		}
	}

	if err := l.loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	l.sources = append(l.sources, "environment")

	cfg.LoadedFrom = append([]string(nil), l.sources...)
	cfg.applyEnvironmentDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a file with automatic format detection.
func (l *Loader) loadFile(name string, cfg *Config) error {
	// Deterministic order so yaml wins over json when both exist
	extensions := make([]string, 0, len(l.fileLoaders))
	for ext := range l.fileLoaders {
		extensions = append(extensions, ext)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(extensions)))

	for _, ext := range extensions {
		path := filepath.Join(l.basePath, fmt.Sprintf("%s.%s", name, ext))

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		err = l.fileLoaders[ext].Load(file, cfg)
		file.Close()
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		l.sources = append(l.sources, path)
		return nil
	}

	return os.ErrNotExist
}

// loadEnvironmentVariables overlays environment variables on the configuration.
func (l *Loader) loadEnvironmentVariables(cfg *Config) error {
	strs := map[string]*string{
		"BOARD_BASE_URL":    &cfg.Board.BaseURL,
		"BOARD_ID":          &cfg.Board.ID,
		"BOARD_PAGE_URL":    &cfg.Board.PageURL,
		"CSRF_TOKEN":        &cfg.Board.CSRFToken,
		"USERNAME":          &cfg.Identity.Username,
		"EMAIL":             &cfg.Identity.Email,
		"SESSION_COOKIE":    &cfg.Identity.Session,
		"USER_AGENT":        &cfg.Transport.UserAgent,
		"CACHE_PROVIDER":    &cfg.Cache.Provider,
		"REDIS_ADDR":        &cfg.Cache.Redis.Addr,
		"REDIS_PASSWORD":    &cfg.Cache.Redis.Password,
		"SNAPSHOT_PATH":     &cfg.Snapshot.Path,
		"METRICS_NAMESPACE": &cfg.Metrics.Namespace,
		"TRACING_ENDPOINT":  &cfg.Tracing.Endpoint,
		"TRACING_SERVICE":   &cfg.Tracing.ServiceName,
		"LOG_LEVEL":         &cfg.Logging.Level,
		"VIEWER_ADDR":       &cfg.Viewer.Addr,
	}
	for key, target := range strs {
		if val, ok := l.lookupEnv(EnvPrefix + key); ok && val != "" {
			*target = val
		}
	}

	bools := map[string]*bool{
		"BOARD_CAN_EDIT":   &cfg.Board.CanEdit,
		"BOARD_FINISHED":   &cfg.Board.Finished,
		"BREAKER_ENABLED":  &cfg.Transport.CircuitBreaker.Enabled,
		"SNAPSHOT_ENABLED": &cfg.Snapshot.Enabled,
		"METRICS_ENABLED":  &cfg.Metrics.Enabled,
		"TRACING_ENABLED":  &cfg.Tracing.Enabled,
		"VIEWER_ENABLED":   &cfg.Viewer.Enabled,
	}
	for key, target := range bools {
		if val, ok := l.lookupEnv(EnvPrefix + key); ok && val != "" {
			parsed, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*target = parsed
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL":   &cfg.Poll.Interval,
		"POLL_TIMEOUT":    &cfg.Poll.Timeout,
		"REQUEST_TIMEOUT": &cfg.Transport.RequestTimeout,
		"CACHE_TTL":       &cfg.Cache.TTL,
	}
	for key, target := range durations {
		if val, ok := l.lookupEnv(EnvPrefix + key); ok && val != "" {
			parsed, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*target = parsed
		}
	}

	if val, ok := l.lookupEnv(EnvPrefix + "REDIS_DB"); ok && val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.Cache.Redis.DB = db
	}

	if val, ok := l.lookupEnv(EnvPrefix + "BOARD_DONE_AT"); ok && val != "" {
		doneAt, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return fmt.Errorf("%sBOARD_DONE_AT: %w", EnvPrefix, err)
		}
		cfg.Board.DoneAt = doneAt
	}

	if val, ok := l.lookupEnv(EnvPrefix + "VIEWER_ALLOWED_ORIGINS"); ok && val != "" {
		cfg.Viewer.AllowedOrigins = strings.Split(val, ",")
	}

	return nil
}

// defaultConfig returns a configuration with sensible defaults.
func (l *Loader) defaultConfig() *Config {
	return &Config{
		Environment: l.environment,
		Board: Board{
			CanEdit: true,
		},
		Poll: Poll{
			Interval: time.Second,
			Timeout:  5 * time.Second,
		},
		Transport: Transport{
			RequestTimeout: 10 * time.Second,
			UserAgent:      "pegasus-boardsync/1.0",
			Retry: RetryConfig{
				MaxRetries:    2,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      2 * time.Second,
				BackoffFactor: 2.0,
				JitterFactor:  0.1,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 0.6,
				MinimumRequests:  5,
				WindowSize:       30 * time.Second,
				OpenDuration:     10 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Cache: Cache{
			Provider: "memory",
			MaxItems: 1000,
			TTL:      10 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "pegasus:user:",
			},
		},
		Snapshot: Snapshot{
			Path: "board.snapshot.zst",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "pegasus",
		},
		Tracing: Tracing{
			ServiceName: "pegasus-boardsync",
			SampleRate:  0.1,
		},
		Logging: Logging{
			Level: "info",
		},
		Viewer: Viewer{
			Addr:           "127.0.0.1:8090",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
	}
}

// ============================================================================
// FILE LOADERS
// ============================================================================

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	decoder := json.NewDecoder(reader)
	return decoder.Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

// EnvironmentFromEnv reads PEGASUS_ENV, defaulting to development.
func EnvironmentFromEnv() Environment {
	switch strings.ToLower(os.Getenv(EnvPrefix + "ENV")) {
	case string(Production):
		return Production
	case string(Staging):
		return Staging
	default:
		return Development
	}
}

// LoadFrom loads configuration from dir for the environment named by PEGASUS_ENV.
func LoadFrom(dir string) (*Config, error) {
	return NewLoader(dir, EnvironmentFromEnv()).Load()
}
