// Package config loads runtime configuration for the sbscan CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via the -c or -config flags.
//  3. Environment variables (SB_* names).
//  4. Command-line flags, which override everything.
package config

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// Config holds runtime settings for the client.
//
// Fields:
//   - APIKey: the developer key sent as the apikey query parameter.
//   - DatabaseDriver / DatabaseDSN: which storage back-end to open.
//   - Lists: the blocklists to mirror.
//   - UseMAC: request authenticated responses.
//   - PollInterval: how often the update loop wakes up; actual update
//     cadence is governed by the server's n: directive.
//   - ServerURL / KeyServerURL: protocol endpoints, overridable for tests.
//   - S3*: optional snapshot bucket settings.
type Config struct {
	APIKey         string
	DatabaseDriver string
	DatabaseDSN    string
	Lists          []string
	UseMAC         bool
	PollInterval   time.Duration
	ServerURL      string
	KeyServerURL   string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "safebrowse.db"
	c.Lists = append([]string(nil), common.DefaultLists...)
	c.PollInterval = 30 * time.Second
	c.S3Region = "us-east-1"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment, and command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// splitLists turns a comma-separated flag/env value into list names.
func splitLists(s string) []string {
	var lists []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			lists = append(lists, l)
		}
	}
	return lists
}
