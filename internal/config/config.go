package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DatabasePath   string
	BackupDir      string
	BackupSchedule string // cron expression; empty disables backups
	SettingsPath   string
	LogLevel       string
	Port           int
	DevMode        bool
}

// Load reads configuration from the environment, with a .env file honored
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:   getEnv("MONETA_DB_PATH", "./data/ledger.db"),
		BackupDir:      getEnv("MONETA_BACKUP_DIR", "./data/backups"),
		BackupSchedule: getEnv("MONETA_BACKUP_SCHEDULE", "0 0 3 * * *"),
		SettingsPath:   getEnv("MONETA_SETTINGS_PATH", "./data/settings.json"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("PORT", 8710),
		DevMode:        getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("MONETA_DB_PATH is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
