package config

import (
	"fmt"
	"strings"

	"github.com/playfleet/stationsync/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for unusable values.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateNetwork(&cfg.Network, result)
	validateSync(&cfg.Sync, result)
	validateStorage(&cfg.Storage, result)

	validatePort(cfg.API.Port, "api.port", result)
	if cfg.API.Port == cfg.Network.PlayerPort {
		result.AddWarning("api.port", "API port equals the player port")
	}
	if cfg.API.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if cfg.MQTT.UseTLS && cfg.MQTT.CAFile == "" {
			result.AddWarning("mqtt.ca_file", "TLS enabled without a CA file, system roots will be used")
		}
	}

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	validatePort(n.PlayerPort, "network.player_port", result)

	positive := map[string]int{
		"network.connect_timeout_ms": n.ConnectTimeoutMS,
		"network.request_timeout_ms": n.RequestTimeoutMS,
		"network.media_timeout_ms":   n.MediaTimeoutMS,
		"network.close_timeout_ms":   n.CloseTimeoutMS,
	}
	for field, v := range positive {
		if v <= 0 {
			result.AddError(field, "timeout must be positive")
		}
	}
	if n.MediaTimeoutMS > 0 && n.MediaTimeoutMS < n.RequestTimeoutMS {
		result.AddWarning("network.media_timeout_ms", "media timeout is shorter than the request timeout")
	}

	if n.ChunkSizeBytes <= 0 {
		result.AddError("network.chunk_size_bytes", "chunk size must be positive")
	} else if n.ChunkSizeBytes < 64<<10 {
		result.AddWarning("network.chunk_size_bytes",
			fmt.Sprintf("small chunk size (%d bytes) limits the largest media file", n.ChunkSizeBytes))
	}

	if n.ICMPEnabled && n.ICMPTimeoutMS <= 0 {
		result.AddError("network.icmp_timeout_ms", "ICMP timeout must be positive when ICMP is enabled")
	}
}

func validateSync(s *SyncConfig, result *ValidationResult) {
	if _, err := protocol.ParseRole(s.DefaultRole); err != nil {
		result.AddError("sync.default_role", fmt.Sprintf("%v (expected admin, user or empty)", err))
	}
	if s.HealthIntervalSec > 0 && s.HealthIntervalSec < 10 {
		result.AddWarning("sync.health_interval_sec",
			"health interval less than 10s may flood players with pings")
	}
}

func validateStorage(s *StorageConfig, result *ValidationResult) {
	if strings.TrimSpace(s.DatabasePath) == "" {
		result.AddError("storage.database_path", "database path is required")
	}
	if strings.TrimSpace(s.MediaCacheDir) == "" {
		result.AddError("storage.media_cache_dir", "media cache directory is required")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
