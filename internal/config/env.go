package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STATIONSYNC_"

// LoadEnv reads .env style files into the process environment. Missing files
// are not an error; with no paths, ".env" is used.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays STATIONSYNC_* environment variables onto the config.
// Overrides are not persisted by Save unless the caller saves afterwards.
func (c *Config) ApplyEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Network.PlayerPort = GetEnvInt(EnvPrefix+"PLAYER_PORT", c.Network.PlayerPort)
	c.Network.RequestTimeoutMS = GetEnvInt(EnvPrefix+"REQUEST_TIMEOUT_MS", c.Network.RequestTimeoutMS)
	c.Network.MediaTimeoutMS = GetEnvInt(EnvPrefix+"MEDIA_TIMEOUT_MS", c.Network.MediaTimeoutMS)
	c.Network.ChunkSizeBytes = GetEnvInt(EnvPrefix+"CHUNK_SIZE_BYTES", c.Network.ChunkSizeBytes)
	c.Network.ICMPEnabled = GetEnvBool(EnvPrefix+"ICMP_ENABLED", c.Network.ICMPEnabled)

	c.Sync.DefaultRole = GetEnv(EnvPrefix+"DEFAULT_ROLE", c.Sync.DefaultRole)

	c.Storage.DatabasePath = GetEnv(EnvPrefix+"DATABASE_PATH", c.Storage.DatabasePath)
	c.Storage.MediaCacheDir = GetEnv(EnvPrefix+"MEDIA_CACHE_DIR", c.Storage.MediaCacheDir)

	c.API.Port = GetEnvInt(EnvPrefix+"API_PORT", c.API.Port)
	if origins := GetEnv(EnvPrefix+"ALLOWED_ORIGINS", ""); origins != "" {
		c.API.AllowedOrigins = splitList(origins)
	}

	c.MQTT.Enabled = GetEnvBool(EnvPrefix+"MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.BrokerURL = GetEnv(EnvPrefix+"MQTT_BROKER", c.MQTT.BrokerURL)
	c.MQTT.Port = GetEnvInt(EnvPrefix+"MQTT_PORT", c.MQTT.Port)

	c.Logging.Level = GetEnv(EnvPrefix+"LOG_LEVEL", c.Logging.Level)

	log.Debug().Msg("environment overrides applied")
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if the variable is
// unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool is GetEnvInt for booleans.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
