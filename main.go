// Command collections loads collection definitions from a config file and runs a
// single import, query or export against them. With --snapshot the collections are
// restored from and saved back to a SQLite database.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asaidimu/go-collections/core/config"
	"github.com/asaidimu/go-collections/core/metrics"
	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/asaidimu/go-collections/core/query"
	"github.com/asaidimu/go-collections/sqlite"
	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type flags struct {
	configPath  string
	collection  string
	actor       string
	importPath  string
	format      string
	query       string
	exportPath  string
	snapshotDSN string
	metricsAddr string
	logLevel    string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("collections", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "collections.jsonc", "collection definitions (JSONC or YAML)")
	fs.StringVar(&f.collection, "collection", "", "collection to operate on (defaults to the only one defined)")
	fs.StringVar(&f.actor, "actor", "", "user id to act as (defaults to the system actor)")
	fs.StringVar(&f.importPath, "import", "", "file to import into the collection")
	fs.StringVar(&f.format, "format", string(persistence.FormatJSON), "import/export format: json, ndjson or csv")
	fs.StringVarP(&f.query, "query", "q", "", "query to run, as JSON or @file")
	fs.StringVar(&f.exportPath, "export", "", "file to export the collection to")
	fs.StringVar(&f.snapshotDSN, "snapshot", "", "SQLite database to restore from and save to")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address until interrupted")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (overrides the config file)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	file, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	level := file.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	defer func() { _ = logger.Sync() }()

	opts := persistence.DefaultOptions()
	opts.Logger = logger
	file.Apply(&opts)

	var snapshots *sqlite.Snapshotter
	if f.snapshotDSN != "" {
		snapshots, err = sqlite.Open(ctx, f.snapshotDSN, logger.Named("sqlite"))
		if err != nil {
			return err
		}
		defer snapshots.Close()
	}

	registry, err := persistence.NewRegistry(opts)
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := file.Provision(ctx, registry, logger); err != nil {
		return err
	}

	if snapshots != nil {
		for _, id := range registry.Collections() {
			c, _ := registry.Collection(id)
			if _, err := c.Restore(ctx, snapshots); err != nil {
				return err
			}
		}
	}

	c, err := pickCollection(registry, f.collection)
	if err != nil {
		return err
	}

	actor := persistence.SystemActor()
	if f.actor != "" {
		actor = persistence.UserActor(f.actor)
	}
	format := persistence.Format(strings.ToLower(f.format))

	if f.importPath != "" {
		data, err := os.ReadFile(f.importPath)
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		n, err := c.Import(ctx, actor, data, format)
		if err != nil {
			return err
		}
		logger.Info("Imported items", zap.String("collection", c.ID()), zap.Int("count", n))
	}

	if f.query != "" {
		if err := runQuery(ctx, c, actor, f.query); err != nil {
			return err
		}
	}

	if f.exportPath != "" {
		data, err := c.Export(ctx, actor, format)
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(f.exportPath, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		logger.Info("Exported collection", zap.String("collection", c.ID()), zap.String("path", f.exportPath))
	}

	if snapshots != nil {
		for _, id := range registry.Collections() {
			sc, _ := registry.Collection(id)
			if _, err := snapshots.SaveCollection(ctx, sc); err != nil {
				return err
			}
		}
	}

	if f.metricsAddr != "" {
		return serveMetrics(ctx, registry, f.metricsAddr, logger)
	}
	return nil
}

func pickCollection(r *persistence.Registry, id string) (*persistence.Collection, error) {
	if id != "" {
		return r.Collection(id)
	}
	ids := r.Collections()
	if len(ids) != 1 {
		return nil, fmt.Errorf("--collection is required when %d collections are defined", len(ids))
	}
	return r.Collection(ids[0])
}

func runQuery(ctx context.Context, c *persistence.Collection, actor persistence.Actor, raw string) error {
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("failed to read query file: %w", err)
		}
	}

	dsl, err := query.Parse(data)
	if err != nil {
		return err
	}
	result, err := c.Query(ctx, actor, dsl)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

func serveMetrics(ctx context.Context, r *persistence.Registry, addr string, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(r)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
