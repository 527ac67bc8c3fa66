// Package config handles configuration loading, validation, and persistence
// for the stationsync daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultPlayerPort = 8765
	DefaultChunkSize  = 32 << 20
)

// Config is the root configuration structure for stationsync.
type Config struct {
	mu   sync.RWMutex
	path string

	Network NetworkConfig `json:"network"`
	Sync    SyncConfig    `json:"sync"`
	Storage StorageConfig `json:"storage"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
}

// NetworkConfig holds player transport settings.
type NetworkConfig struct {
	PlayerPort       int  `json:"player_port"`
	ConnectTimeoutMS int  `json:"connect_timeout_ms"`
	RequestTimeoutMS int  `json:"request_timeout_ms"`
	MediaTimeoutMS   int  `json:"media_timeout_ms"`
	CloseTimeoutMS   int  `json:"close_timeout_ms"`
	ChunkSizeBytes   int  `json:"chunk_size_bytes"`
	ICMPEnabled      bool `json:"icmp_enabled"`
	ICMPTimeoutMS    int  `json:"icmp_timeout_ms"`
}

// ConnectTimeout returns the websocket handshake timeout.
func (n NetworkConfig) ConnectTimeout() time.Duration { return ms(n.ConnectTimeoutMS) }

// RequestTimeout returns the default reply timeout.
func (n NetworkConfig) RequestTimeout() time.Duration { return ms(n.RequestTimeoutMS) }

// MediaTimeout returns the reply timeout for media uploads.
func (n NetworkConfig) MediaTimeout() time.Duration { return ms(n.MediaTimeoutMS) }

// CloseTimeout returns the close handshake timeout.
func (n NetworkConfig) CloseTimeout() time.Duration { return ms(n.CloseTimeoutMS) }

// ICMPTimeout returns the echo reply timeout.
func (n NetworkConfig) ICMPTimeout() time.Duration { return ms(n.ICMPTimeoutMS) }

// SyncConfig holds orchestration and background task settings.
type SyncConfig struct {
	DefaultRole       string `json:"default_role"`
	RetryIntervalSec  int    `json:"retry_interval_sec"`
	HealthIntervalSec int    `json:"health_interval_sec"`
}

// StorageConfig holds local persistence paths.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	MediaCacheDir string `json:"media_cache_dir"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			PlayerPort:       DefaultPlayerPort,
			ConnectTimeoutMS: 3000,
			RequestTimeoutMS: 3000,
			MediaTimeoutMS:   240000,
			CloseTimeoutMS:   3000,
			ChunkSizeBytes:   DefaultChunkSize,
			ICMPEnabled:      true,
			ICMPTimeoutMS:    2000,
		},
		Sync: SyncConfig{
			DefaultRole:       "admin",
			RetryIntervalSec:  300,
			HealthIntervalSec: 60,
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join("data", "stationsync.db"),
			MediaCacheDir: filepath.Join("data", "media"),
		},
		API: APIConfig{
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "stationsync",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetSync returns a copy of the sync configuration.
func (c *Config) GetSync() SyncConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sync
}

// SetSync updates the sync configuration.
func (c *Config) SetSync(s SyncConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sync = s
}

// GetStorage returns a copy of the storage configuration.
func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
