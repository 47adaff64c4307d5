// Package config reads the reconciler's environment-variable configuration
// once at startup, producing an immutable value every other
// component is constructed from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
)

// Config is the process-wide configuration loaded exactly once at startup.
type Config struct {
	Bucket             string
	Project            string
	DryRun             bool
	HeartbeatStaleSec  int
	RestartingStuckSec int
	DiscordWebhookURL  string
	Port               string
	LogMode            string
}

// Load reads every reconciler environment variable, applying the documented
// defaults. BUCKET and PROJECT are required; every other field has a default.
func Load(log *logger.Logger) (Config, error) {
	cfg := Config{
		Bucket:             getEnv("BUCKET", "", log),
		Project:            getEnv("PROJECT", "", log),
		DryRun:             getEnvAsBool("DRY_RUN", false, log),
		HeartbeatStaleSec:  getEnvAsInt("HEARTBEAT_STALE_SEC", 600, log),
		RestartingStuckSec: getEnvAsInt("RESTARTING_STUCK_SEC", 600, log),
		DiscordWebhookURL:  getEnv("DISCORD_WEBHOOK_URL", "", log),
		Port:               getEnv("PORT", "8080", log),
		LogMode:            getEnv("LOG_MODE", "development", log),
	}
	if cfg.Bucket == "" {
		return cfg, fmt.Errorf("BUCKET is required")
	}
	if cfg.Project == "" {
		return cfg, fmt.Errorf("PROJECT is required")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "env_var", key, "default", defaultVal)
		}
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Warn("environment variable could not be parsed as int, using default", "env_var", key, "provided", valStr, "default", defaultVal)
		}
		return defaultVal
	}
	return i
}

func getEnvAsBool(key string, defaultVal bool, log *logger.Logger) bool {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	valStr = strings.TrimSpace(strings.ToLower(valStr))
	return valStr == "true" || valStr == "1" || valStr == "yes"
}
