package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-k string   API key
//	-r string   database driver: sqlite, postgres or memory
//	-d string   database DSN
//	-l string   comma-separated list names
//	-m          enable MAC authentication
//	-i int      poll interval, seconds
//	-s string   downloads/gethash server URL
//	-y string   newkey server URL
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-k", "-r", "-d", "-l", "-m", "-i", "-s", "-y"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.APIKey, "k", config.APIKey, "API key")
	fs.StringVar(&config.DatabaseDriver, "r", config.DatabaseDriver, "database driver (sqlite, postgres, memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.BoolVar(&config.UseMAC, "m", config.UseMAC, "enable MAC authentication")
	fs.StringVar(&config.ServerURL, "s", config.ServerURL, "downloads server URL")
	fs.StringVar(&config.KeyServerURL, "y", config.KeyServerURL, "key server URL")

	lists := fs.String("l", "", "comma-separated list names")
	pollSeconds := fs.Int("i", int(config.PollInterval.Seconds()), "poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *lists != "" {
		config.Lists = splitLists(*lists)
	}
	config.PollInterval = time.Duration(*pollSeconds) * time.Second
}
