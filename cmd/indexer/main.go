package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/builder"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "drop the index and rebuild it from the catalog")
	importPath := flag.String("import", "", "JSON file of occupation records to load into the catalog first")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *importPath, *rebuild); err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, importPath string, rebuild bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Searches are never served here, so skip Redis.
	cfg.Cache.Enabled = false
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if importPath != "" {
		n, err := importRecords(ctx, a, importPath)
		if err != nil {
			return err
		}
		slog.Info("catalog records imported", "file", importPath, "records", n)
		// imported records must reach the index even if it was populated
		rebuild = true
	}

	var res builder.Result
	if rebuild {
		res, err = a.Rebuild(ctx)
	} else {
		var built bool
		res, built, err = a.EnsureIndex(ctx)
		if err == nil && !built {
			slog.Info("index already populated, nothing to do (use -rebuild to force)")
			return nil
		}
	}
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		slog.Warn("record not indexed", "code", f.Code, "error", f.Error)
	}
	st := a.Engine.Stats()
	slog.Info("index ready",
		"indexed", res.Indexed,
		"failed", res.Failed,
		"documents", st.Documents,
		"terms", st.Terms,
		"took", res.Took,
	)
	return nil
}

func importRecords(ctx context.Context, a *app.App, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()
	records, err := catalog.DecodeRecords(f)
	if err != nil {
		return 0, err
	}
	if err := a.Catalog.UpsertAll(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
