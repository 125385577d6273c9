package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/flagx"
	"github.com/dmitrijs2005/safebrowse/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. Intervals use
// timex.Duration so values can be strings such as "30s" or integer
// nanoseconds.
type JsonConfig struct {
	APIKey         string         `json:"api_key"`
	DatabaseDriver string         `json:"database_driver"`
	DatabaseDSN    string         `json:"database_dsn"`
	Lists          []string       `json:"lists"`
	UseMAC         bool           `json:"use_mac"`
	PollInterval   timex.Duration `json:"poll_interval"`
	ServerURL      string         `json:"server_url"`
	KeyServerURL   string         `json:"key_server_url"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	S3AccessKey    string         `json:"s3_access_key"`
	S3SecretKey    string         `json:"s3_secret_key"`
}

// parseJson overlays values from the JSON file named by -c/-config, if any.
// Unset JSON fields leave the current values alone.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlayString(&config.APIKey, c.APIKey)
	overlayString(&config.DatabaseDriver, c.DatabaseDriver)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	if len(c.Lists) > 0 {
		config.Lists = c.Lists
	}
	if c.UseMAC {
		config.UseMAC = true
	}
	if c.PollInterval.Duration > 0 {
		config.PollInterval = time.Duration(c.PollInterval.Duration)
	}
	overlayString(&config.ServerURL, c.ServerURL)
	overlayString(&config.KeyServerURL, c.KeyServerURL)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlayString(&config.S3AccessKey, c.S3AccessKey)
	overlayString(&config.S3SecretKey, c.S3SecretKey)
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
