package source

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/database"
	"github.com/BaSui01/entitygraph/internal/tlsutil"
	"github.com/BaSui01/entitygraph/types"
)

// CloseFunc 释放 Open 创建的连接
type CloseFunc func(ctx context.Context) error

func noopClose(context.Context) error { return nil }

// Open 根据配置创建数据源。RateLimitRPS > 0 时包装为 RateLimited。
// 调用方负责调用返回的 CloseFunc。
func Open(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (Source, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		src    Source
		closer CloseFunc = noopClose
	)

	switch cfg.Type {
	case "memory":
		mem, err := NewFixtureRegistry().Load(ctx, cfg.FixturePath)
		if err != nil {
			return nil, nil, types.NewConfigError("load fixture %s", cfg.FixturePath).WithCause(err)
		}
		src = mem

	case "sql":
		pool, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(), poolConfig(cfg.Database), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sql source: %w", err)
		}
		opts := []SQLOption{WithSQLLogger(logger), WithPrimaryKeys(cfg.PrimaryKeys)}
		if len(cfg.TimestampFields) > 0 {
			opts = append(opts, WithTimestampFields(cfg.TimestampFields...))
		}
		src = NewSQLSource(pool, opts...)
		closer = func(context.Context) error { return pool.Close() }

	case "mongo":
		clientOpts := options.Client().ApplyURI(cfg.Mongo.URI)
		if cfg.Mongo.ConnectTimeout > 0 {
			clientOpts.SetConnectTimeout(cfg.Mongo.ConnectTimeout)
		}
		if cfg.Mongo.TLS {
			clientOpts.SetTLSConfig(tlsutil.DefaultTLSConfig())
		}
		client, err := mongo.Connect(clientOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, types.NewTransportError("", err)
		}
		src = NewMongoSource(client.Database(cfg.Mongo.Database), logger, cfg.TimestampFields...)
		closer = client.Disconnect

	default:
		return nil, nil, types.NewConfigError("unknown source type %q", cfg.Type)
	}

	if cfg.RateLimitRPS > 0 {
		src = NewRateLimited(src, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	logger.Info("data source opened",
		zap.String("source", src.Name()),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)
	return src, closer, nil
}

func poolConfig(db config.DatabaseConfig) database.PoolConfig {
	pc := database.DefaultPoolConfig()
	if db.MaxOpenConns > 0 {
		pc.MaxOpenConns = db.MaxOpenConns
	}
	if db.MaxIdleConns > 0 {
		pc.MaxIdleConns = db.MaxIdleConns
	}
	if db.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = db.ConnMaxLifetime
	}
	return pc
}
