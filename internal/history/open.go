package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/config"
	"github.com/BaSui01/standforge/internal/database"
	"github.com/BaSui01/standforge/internal/migration"
)

// Recorder 连接池与查询指标（由 metrics.Collector 实现）
type Recorder interface {
	database.StatsRecorder
	QueryRecorder
}

// Open 按 history.backend 构建存储；backend 为 none 时返回 nil, nil
func Open(ctx context.Context, cfg *config.Config, recorder Recorder, logger *zap.Logger) (Store, error) {
	policy := Policy{MaxItems: cfg.History.MaxItems, Dedupe: cfg.History.Dedupe}

	switch cfg.History.Backend {
	case "none":
		logger.Info("history disabled")
		return nil, nil
	case "memory":
		return NewMemoryStore(policy, logger), nil
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo, policy, logger)
	case "database":
		return openDatabase(ctx, cfg.Database, policy, recorder, logger)
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.History.Backend)
	}
}

func openDatabase(ctx context.Context, dbCfg config.DatabaseConfig, policy Policy, recorder Recorder, logger *zap.Logger) (Store, error) {
	if dbCfg.AutoMigrate {
		version, err := migration.ApplyPending(ctx, dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("history: migrate: %w", err)
		}
		logger.Info("history schema ready", zap.Uint("version", version))
	}

	db, err := database.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}

	var poolOpts []database.PoolOption
	var storeOpts []GormOption
	if recorder != nil {
		poolOpts = append(poolOpts, database.WithStatsRecorder(recorder, "history"))
		storeOpts = append(storeOpts, WithQueryRecorder(recorder))
	}

	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), logger, poolOpts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	return NewGormStore(pool, policy, logger, storeOpts...)
}
