// =============================================================================
// 📦 EntityGraph 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Source:    DefaultSourceConfig(),
		Detector:  DefaultDetectorConfig(),
		Builder:   DefaultBuilderConfig(),
		Chunking:  DefaultChunkingConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Server:    DefaultServerConfig(),
	}
}

// DefaultSourceConfig 返回默认数据源配置（内存 fixture）
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Type:            "memory",
		FixturePath:     "testdata/shop.yaml",
		Database:        DefaultDatabaseConfig(),
		Mongo:           DefaultMongoConfig(),
		RateLimitRPS:    0,
		RateLimitBurst:  10,
		TimestampFields: []string{"updated_at", "created_at"},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "entitygraph",
		Password:        "",
		Name:            "entitygraph",
		SSLMode:         "disable",
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "entitygraph",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultDetectorConfig 返回默认关系检测配置
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SampleSize:            100,
		NamePatternConfidence: 0.6,
		ValueShapeMinFraction: 0.8,
		MaxShapeTargets:       3,
		MinCardinalityRatio:   0.5,
		OverlapAcceptance:     0.5,
		OneToOneMinSample:     20,
		ConfidenceThreshold:   0.5,
		CacheTTL:              time.Hour,
	}
}

// DefaultBuilderConfig 返回默认图构建配置
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MaxDepth:             2,
		PerRelationLimit:     10,
		MaxConcurrentFetches: 4,
		MaxConcurrentBuilds:  4,
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:          1000,
		Overlap:            100,
		FlattenDepthCutoff: 2,
		TokenizerModel:     "",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "entitygraph:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "entitygraph",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "entitygraph",
	}
}

// DefaultServerConfig 返回默认 HTTP 服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		WatchFiles:      true,
	}
}
