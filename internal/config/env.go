package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays SB_* environment variables.
func parseEnv(config *Config) {
	overlayString(&config.APIKey, os.Getenv("SB_API_KEY"))
	overlayString(&config.DatabaseDriver, os.Getenv("SB_DATABASE_DRIVER"))
	overlayString(&config.DatabaseDSN, os.Getenv("SB_DATABASE_DSN"))
	if v := os.Getenv("SB_LISTS"); v != "" {
		config.Lists = splitLists(v)
	}
	if v := os.Getenv("SB_USE_MAC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.UseMAC = b
		}
	}
	if v := os.Getenv("SB_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.PollInterval = d
		}
	}
	overlayString(&config.ServerURL, os.Getenv("SB_SERVER_URL"))
	overlayString(&config.KeyServerURL, os.Getenv("SB_KEY_SERVER_URL"))
	overlayString(&config.S3Bucket, os.Getenv("SB_S3_BUCKET"))
	overlayString(&config.S3Region, os.Getenv("SB_S3_REGION"))
	overlayString(&config.S3BaseEndpoint, os.Getenv("SB_S3_BASE_ENDPOINT"))
	overlayString(&config.S3AccessKey, os.Getenv("SB_S3_ACCESS_KEY"))
	overlayString(&config.S3SecretKey, os.Getenv("SB_S3_SECRET_KEY"))
}
