package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataworks/strata/internal/archive"
	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/config"
	"github.com/strataworks/strata/internal/embed"
	"github.com/strataworks/strata/internal/engine"
	"github.com/strataworks/strata/internal/server"
	"github.com/strataworks/strata/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	eng, db, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer eng.Stop()

	if cfg.Retention.Enabled {
		if err := eng.StartRetention(cfg.Retention.Schedule, cfg.Retention.MaxAge, cfg.Retention.BatchSize); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "  retention: %s\n", cfg.Retention.Schedule)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: server.New(eng, VersionString()),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "strata listening on http://%s\n", cfg.ListenAddr())
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// buildEngine assembles the engine from configuration: database, cache,
// embedder, and archiver. The caller owns the returned DB.
func buildEngine(cfg config.Config) (*engine.Engine, *store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(cfg.Cache.TTL)
	}

	eng := engine.New(db, c)
	eng.Thresholds.Fresh = cfg.Freshness.FreshThreshold
	eng.Thresholds.Recent = cfg.Freshness.RecentThreshold
	eng.Thresholds.Stale = cfg.Freshness.StaleThreshold
	eng.SearchLimit = cfg.Search.MaxResults

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Embedding.APIKey != "" {
			eng.SetEmbedder(embed.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.BaseURL,
				cfg.Embedding.Model, cfg.Embedding.Dimensions))
		} else {
			fmt.Fprintln(os.Stderr, "warning: no OpenAI key, falling back to hashing embedder")
			eng.SetEmbedder(embed.NewHashing(cfg.Embedding.Dimensions))
		}
	default:
		eng.SetEmbedder(embed.NewHashing(cfg.Embedding.Dimensions))
	}

	switch cfg.Archive.Backend {
	case "s3":
		bucket, err := archive.NewBucket(context.Background(), cfg.Archive.Endpoint,
			cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("archive bucket: %w", err)
		}
		eng.SetArchiver(bucket)
	default:
		dir := cfg.Archive.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err == nil {
				dir = home + "/.strata/archive"
			} else {
				dir = "archive"
			}
		}
		eng.SetArchiver(archive.NewDir(dir))
	}

	return eng, db, nil
}
