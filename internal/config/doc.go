// Package config provides configuration management for the board sync client.
//
// # Configuration Hierarchy
//
// Configuration is loaded from multiple sources in priority order (highest wins):
//  1. Default values in code (lowest priority)
//  2. base.yaml - Common configuration for all environments
//  3. {environment}.yaml - Environment-specific overrides
//  4. local.yaml - Local developer overrides, development only
//  5. PEGASUS_* environment variables (highest priority)
//
// # File Structure
//
//	config/
//	├── base.yaml           # Board, identity and transport settings
//	├── development.yaml    # Development overrides
//	├── production.yaml     # Production overrides
//	└── local.yaml          # Local overrides (gitignored)
//
// # Usage
//
//	loader := config.NewLoader("config", config.EnvironmentFromEnv())
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err
//	}
//
// # Hot Reload
//
// ConfigWatcher reloads the directory on change. Subscribers registered with
// OnChange receive the new configuration; only the poll interval and the log
// level are applied at runtime, everything else needs a restart.
//
// # Validation
//
// Struct tags are checked with go-playground/validator. Rules spanning
// several fields (a Redis address when the Redis cache is selected, a viewer
// address when the viewer is enabled) live in Config.Validate.
package config
