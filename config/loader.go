// =============================================================================
// 📦 EntityGraph 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("entitygraph.yaml").
//	    WithEnvPrefix("ENTITYGRAPH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 EntityGraph 的完整配置结构
type Config struct {
	// Source 数据源配置
	Source SourceConfig `yaml:"source" env:"SOURCE"`

	// Detector 关系检测配置
	Detector DetectorConfig `yaml:"detector" env:"DETECTOR"`

	// Builder 图构建配置
	Builder BuilderConfig `yaml:"builder" env:"BUILDER"`

	// Chunking 分块配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Redis 候选关系共享缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Server serve 子命令的 HTTP 配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Relationships 声明的关系，覆盖同一字段的自动检测，只能在文件中配置
	Relationships []RelationshipConfig `yaml:"relationships" env:"-"`
}

// RelationshipConfig 声明 entity.field_name 引用 target_entity.target_key
type RelationshipConfig struct {
	Entity       string `yaml:"entity"`
	FieldName    string `yaml:"field_name"`
	TargetEntity string `yaml:"target_entity"`
	// 为空时为 "id"
	TargetKey string `yaml:"target_key"`
	// one_to_one, one_to_many, many_to_one；为空时为 many_to_one
	RelationshipType string `yaml:"relationship_type"`
}

// SourceConfig 数据源配置
type SourceConfig struct {
	// 类型: memory, sql, mongo
	Type string `yaml:"type" env:"TYPE"`
	// memory 类型使用的 YAML fixture 路径
	FixturePath string `yaml:"fixture_path" env:"FIXTURE_PATH"`
	// SQL 数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// MongoDB
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
	// 每秒调用上限，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 主键覆盖（表名 → 列名），只能在文件中配置
	PrimaryKeys map[string]string `yaml:"primary_keys" env:"-"`
	// 记录时间戳候选字段
	TimestampFields []string `yaml:"timestamp_fields" env:"TIMESTAMP_FIELDS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DetectorConfig 关系检测配置
type DetectorConfig struct {
	// 每个字段的采样数
	SampleSize int `yaml:"sample_size" env:"SAMPLE_SIZE"`
	// 命名规则匹配的固定置信度
	NamePatternConfidence float64 `yaml:"name_pattern_confidence" env:"NAME_PATTERN_CONFIDENCE"`
	// 值形态匹配所需的最小比例
	ValueShapeMinFraction float64 `yaml:"value_shape_min_fraction" env:"VALUE_SHAPE_MIN_FRACTION"`
	// 值形态匹配最多输出的目标数
	MaxShapeTargets int `yaml:"max_shape_targets" env:"MAX_SHAPE_TARGETS"`
	// 统计检测的最小基数比
	MinCardinalityRatio float64 `yaml:"min_cardinality_ratio" env:"MIN_CARDINALITY_RATIO"`
	// 统计检测接受的最小重叠率
	OverlapAcceptance float64 `yaml:"overlap_acceptance" env:"OVERLAP_ACCEPTANCE"`
	// 判定 one_to_one 的最小样本数
	OneToOneMinSample int `yaml:"one_to_one_min_sample" env:"ONE_TO_ONE_MIN_SAMPLE"`
	// 低于该置信度的候选被丢弃
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	// Redis 二级缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// BuilderConfig 图构建配置
type BuilderConfig struct {
	// 最大跳数
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// 每个关系最多子节点数
	PerRelationLimit int `yaml:"per_relation_limit" env:"PER_RELATION_LIMIT"`
	// 同层并发拉取数
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" env:"MAX_CONCURRENT_FETCHES"`
	// 并发构建多个根时的并发数
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds" env:"MAX_CONCURRENT_BUILDS"`
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	// 每块最大字符数
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻块重叠字符数
	Overlap int `yaml:"overlap" env:"OVERLAP"`
	// 展平时递归展开的最大节点深度
	FlattenDepthCutoff int `yaml:"flatten_depth_cutoff" env:"FLATTEN_DEPTH_CUTOFF"`
	// tiktoken 模型名，空则使用估算
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不单独启动
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流（0 表示不限流）
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空时不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 监听配置文件与 fixture 变更并重建 Pipeline
	WatchFiles bool `yaml:"watch_files" env:"WATCH_FILES"`
	// 证书与私钥同时配置时 HTTP 端口以 TLS 方式监听
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ENTITYGRAPH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// LoadFile 加载配置文件并验证
func LoadFile(path string) (*Config, error) {
	return NewLoader().
		WithConfigPath(path).
		WithValidator((*Config).Validate).
		Load()
}

// Validate 验证配置，失败返回 CONFIG_INVALID
func (c *Config) Validate() error {
	var errs []string

	switch c.Source.Type {
	case "memory":
		if c.Source.FixturePath == "" {
			errs = append(errs, "source.fixture_path is required for memory source")
		}
	case "sql":
		if c.Source.Database.Driver == "" {
			errs = append(errs, "source.database.driver is required for sql source")
		}
	case "mongo":
		if c.Source.Mongo.URI == "" || c.Source.Mongo.Database == "" {
			errs = append(errs, "source.mongo.uri and source.mongo.database are required for mongo source")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown source type %q", c.Source.Type))
	}
	if c.Source.RateLimitRPS < 0 {
		errs = append(errs, "source.rate_limit_rps must be non-negative")
	}

	d := c.Detector
	if d.SampleSize <= 0 {
		errs = append(errs, "detector.sample_size must be positive")
	}
	for name, v := range map[string]float64{
		"name_pattern_confidence":  d.NamePatternConfidence,
		"value_shape_min_fraction": d.ValueShapeMinFraction,
		"min_cardinality_ratio":    d.MinCardinalityRatio,
		"overlap_acceptance":       d.OverlapAcceptance,
		"confidence_threshold":     d.ConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("detector.%s must be between 0 and 1", name))
		}
	}

	if c.Builder.MaxDepth < 0 {
		errs = append(errs, "builder.max_depth must be non-negative")
	}
	if c.Builder.PerRelationLimit <= 0 {
		errs = append(errs, "builder.per_relation_limit must be positive")
	}

	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, "chunking.chunk_size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		errs = append(errs, "chunking.overlap must be in [0, chunk_size)")
	}
	if c.Chunking.FlattenDepthCutoff < 0 {
		errs = append(errs, "chunking.flatten_depth_cutoff must be non-negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port must be in [0, 65535]")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metrics_port must be in [0, 65535]")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must be non-negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	seen := make(map[string]bool, len(c.Relationships))
	for i, r := range c.Relationships {
		if r.Entity == "" || r.FieldName == "" || r.TargetEntity == "" {
			errs = append(errs, fmt.Sprintf("relationships[%d]: entity, field_name and target_entity are required", i))
			continue
		}
		if r.RelationshipType != "" && !types.ValidRelationKind(types.RelationKind(r.RelationshipType)) {
			errs = append(errs, fmt.Sprintf("relationships[%d]: unknown relationship_type %q", i, r.RelationshipType))
		}
		key := r.Entity + "." + r.FieldName
		if seen[key] {
			errs = append(errs, fmt.Sprintf("relationships[%d]: %s is declared more than once", i, key))
		}
		seen[key] = true
	}

	if len(errs) > 0 {
		// map 迭代顺序不定，排序保证错误信息稳定
		sort.Strings(errs)
		return types.NewConfigError("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeclaredCandidates 把 Relationships 转换为候选关系集合，缺省值由检测器补齐
func (c *Config) DeclaredCandidates() types.CandidateSet {
	if len(c.Relationships) == 0 {
		return nil
	}
	set := make(types.CandidateSet, 0, len(c.Relationships))
	for _, r := range c.Relationships {
		set = append(set, types.RelationshipCandidate{
			SourceEntity: r.Entity,
			LocalKey:     r.FieldName,
			TargetEntity: r.TargetEntity,
			TargetKey:    r.TargetKey,
			Kind:         types.RelationKind(r.RelationshipType),
			Confidence:   1,
			Method:       types.DetectionDeclared,
		})
	}
	return set
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
