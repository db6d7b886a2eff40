package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tesseradb/tessera/storage-node/internal/config"
	"github.com/tesseradb/tessera/storage-node/internal/metrics"
	"github.com/tesseradb/tessera/storage-node/internal/model"
	"github.com/tesseradb/tessera/storage-node/internal/replay"
	"github.com/tesseradb/tessera/storage-node/internal/shard"
	"github.com/tesseradb/tessera/storage-node/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Node.NodeID),
		zap.String("commit_log_dir", cfg.Storage.CommitLogDir),
		zap.Int("shard_count", cfg.Replay.ShardCount))

	db, truncations, err := buildDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to build database from table manifest", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	replayMetrics := metrics.NewMetrics(registry, cfg.Node.NodeID)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Serving metrics", zap.String("addr", addr), zap.String("path", cfg.Metrics.Path))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	pool := shard.NewExecutorPool(&shard.Config{
		ShardCount: db.ShardCount(),
		QueueSize:  cfg.Replay.QueueSize,
		Logger:     logger,
	})
	defer pool.Stop(cfg.Replay.StopTimeout)

	ctx := context.Background()

	replayer, err := replay.CreateReplayer(ctx, db, truncations, pool, replayMetrics, logger)
	if err != nil {
		logger.Fatal("Failed to create commit log replayer", zap.Error(err))
	}

	files, err := filepath.Glob(filepath.Join(cfg.Storage.CommitLogDir, "commitlog-*.log"))
	if err != nil {
		logger.Fatal("Failed to list commit log segments", zap.Error(err))
	}
	if len(files) == 0 {
		logger.Info("No commit log segments to replay",
			zap.String("commit_log_dir", cfg.Storage.CommitLogDir))
		return
	}

	if err := replayer.Recover(ctx, files); err != nil {
		logger.Fatal("Commit log replay failed", zap.Error(err))
	}
}

// buildLogger constructs the zap logger per the logging config.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// buildDatabase materializes the in-memory database described by the table
// manifest, so segments can be replayed and inspected outside a full node.
func buildDatabase(cfg *config.Config) (*store.MemDatabase, store.TruncationStore, error) {
	db := store.NewMemDatabase(cfg.Replay.ShardCount)

	for _, t := range cfg.Tables {
		id, err := uuid.Parse(t.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("table %q: invalid id: %w", t.Name, err)
		}
		version, err := uuid.Parse(t.SchemaVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("table %q: invalid schema version: %w", t.Name, err)
		}

		columns := make([]model.Column, 0, len(t.Columns))
		for _, c := range t.Columns {
			columns = append(columns, model.Column{
				Name: c.Name,
				Kind: model.ColumnKind(c.Kind),
			})
		}

		db.AddTable(model.TableID(id), model.Schema{
			Version: model.SchemaVersion(version),
			Mapping: model.ColumnMapping{Columns: columns},
		})
	}

	return db, store.NewMemTruncationStore(), nil
}
