// Command sbscan mirrors Safe Browsing blocklists into a local database and
// checks URLs against them.
//
// With URL arguments it looks each one up and prints the matching list (or
// "ok"). Without arguments it runs the update loop until interrupted.
//
//	sbscan -k APIKEY http://example.com/ http://evil.test/
//	sbscan -k APIKEY -d mirror.db
//	sbscan -export snapshots/mirror.gob
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/dmitrijs2005/safebrowse/internal/config"
	"github.com/dmitrijs2005/safebrowse/internal/engine"
	"github.com/dmitrijs2005/safebrowse/internal/flagx"
	"github.com/dmitrijs2005/safebrowse/internal/logging"
	"github.com/dmitrijs2005/safebrowse/internal/snapshot"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
	"github.com/dmitrijs2005/safebrowse/internal/storage/memory"
	"github.com/dmitrijs2005/safebrowse/internal/storage/postgres"
	"github.com/dmitrijs2005/safebrowse/internal/storage/sqlite"
	"github.com/dmitrijs2005/safebrowse/internal/transport"
)

func main() {
	cfg := config.LoadConfig()

	exportKey, importKey, urls := parseOwnArgs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer store.Close(context.Background())

	if exportKey != "" || importKey != "" {
		if err := runSnapshot(ctx, cfg, store, exportKey, importKey); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if cfg.APIKey == "" {
		key, err := promptAPIKey()
		if err != nil {
			log.Fatalf("API key required: %v", err)
		}
		cfg.APIKey = key
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var clientOpts []transport.Option
	if cfg.ServerURL != "" {
		clientOpts = append(clientOpts, transport.WithBaseURL(cfg.ServerURL))
	}
	if cfg.KeyServerURL != "" {
		clientOpts = append(clientOpts, transport.WithKeyURL(cfg.KeyServerURL))
	}
	client := transport.New(cfg.APIKey, clientOpts...)

	engineOpts := []engine.Option{
		engine.WithLists(cfg.Lists),
		engine.WithLogger(logger),
	}
	if cfg.UseMAC {
		engineOpts = append(engineOpts, engine.WithMAC())
	}
	eng := engine.New(store, client, engineOpts...)

	if len(urls) > 0 {
		lookupURLs(ctx, eng, urls)
		return
	}

	runUpdateLoop(ctx, eng, logger, cfg.PollInterval)
}

// parseOwnArgs handles the flags not covered by the config layers and
// returns the positional URL arguments.
func parseOwnArgs() (exportKey, importKey string, urls []string) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-export", "-import"})

	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.StringVar(&exportKey, "export", "", "export the mirror to this snapshot key and exit")
	fs.StringVar(&importKey, "import", "", "import the mirror from this snapshot key and exit")
	_ = fs.Parse(args)

	// URL arguments carry an explicit scheme. Values of known flags are
	// skipped so "-s http://mirror" is not mistaken for a lookup.
	takesValue := map[string]bool{
		"-k": true, "-r": true, "-d": true, "-l": true, "-i": true,
		"-s": true, "-y": true, "-c": true, "-config": true,
		"-export": true, "-import": true,
	}
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if takesValue[a] {
			i++
			continue
		}
		if !strings.HasPrefix(a, "-") && strings.Contains(a, "://") {
			urls = append(urls, a)
		}
	}
	return exportKey, importKey, urls
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.DatabaseDSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseDSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func runSnapshot(ctx context.Context, cfg *config.Config, store storage.Store, exportKey, importKey string) error {
	snap, err := snapshot.Open(ctx, snapshot.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return err
	}
	if exportKey != "" {
		return snap.Export(ctx, store, exportKey, cfg.Lists)
	}
	return snap.Import(ctx, store, importKey)
}

func promptAPIKey() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no terminal to prompt on; pass -k or set SB_API_KEY")
	}
	fmt.Fprint(os.Stderr, "API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(key) == 0 {
		return "", fmt.Errorf("empty key")
	}
	return string(key), nil
}

func lookupURLs(ctx context.Context, eng *engine.Engine, urls []string) {
	// Make sure the mirror exists before answering.
	if _, err := eng.Update(ctx, false); err != nil {
		log.Printf("update failed: %v", err)
	}

	for _, u := range urls {
		list, err := eng.Lookup(ctx, u)
		switch {
		case err != nil:
			fmt.Printf("%s\terror: %v\n", u, err)
		case list == "":
			fmt.Printf("%s\tok\n", u)
		default:
			fmt.Printf("%s\t%s\n", u, list)
		}
	}
}

func runUpdateLoop(ctx context.Context, eng *engine.Engine, logger logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := eng.Update(ctx, false); err != nil {
		logger.Error(ctx, "update failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.Update(ctx, false); err != nil {
				logger.Error(ctx, "update failed", "error", err)
			}
		}
	}
}
