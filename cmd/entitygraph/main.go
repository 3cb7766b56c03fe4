// =============================================================================
// EntityGraph 主入口
// =============================================================================
// 关系检测、实体图构建与分块的命令行入口，也可作为 HTTP 服务运行
//
// 使用方法:
//
//	entitygraph detect                               # 打印候选关系
//	entitygraph build --entity users --uid 1         # 构建并输出 JSONL 分块
//	entitygraph build --entity users --uid 1 --text  # 输出展平文本
//	entitygraph serve --config entitygraph.yaml      # 启动 HTTP 服务
//	entitygraph health                               # 健康检查
//	entitygraph version                              # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/entitygraph"
	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/telemetry"
	"github.com/BaSui01/entitygraph/rag"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "detect":
		err = runDetect(os.Args[2:], os.Stdout)
	case "build":
		err = runBuild(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(os.Args[2:])
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置：默认值 → YAML 文件 → 环境变量。
// 命令行覆盖之后由 FromConfig 统一验证。
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// signalContext 在收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// =============================================================================
// 🔍 detect 命令
// =============================================================================

func runDetect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fixture := fs.String("fixture", "", "Fixture file or directory (overrides source.fixture_path)")
	asJSON := fs.Bool("json", false, "Print the full snapshot as JSON")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFixture(cfg, *fixture)

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	p, closeFn, err := entitygraph.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(context.Background()) }()

	snap, err := p.Detect(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tLOCAL KEY\tTARGET\tKIND\tCONFIDENCE\tMETHOD\tRANK")
	for _, c := range snap.Candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s.%s\t%s\t%.2f\t%s\t%d\n",
			c.SourceEntity, c.LocalKey, c.TargetEntity, c.TargetKey, c.Kind, c.Confidence, c.Method, c.Rank)
	}
	fmt.Fprintf(tw, "\n%d candidates across %d entities (fingerprint %s)\n",
		len(snap.Candidates), len(snap.Entities), snap.Fingerprint)
	return tw.Flush()
}

// =============================================================================
// 🕸️ build 命令
// =============================================================================

func runBuild(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fixture := fs.String("fixture", "", "Fixture file or directory (overrides source.fixture_path)")
	entity := fs.String("entity", "", "Root entity (required)")
	uid := fs.String("uid", "", "Root record id (required)")
	depth := fs.Int("depth", -1, "Max depth (overrides builder.max_depth)")
	limit := fs.Int("limit", 0, "Per relation limit (overrides builder.per_relation_limit)")
	chunkSize := fs.Int("chunk-size", 0, "Chunk size in characters (overrides chunking.chunk_size)")
	overlap := fs.Int("overlap", -1, "Chunk overlap in characters (overrides chunking.overlap)")
	text := fs.Bool("text", false, "Print the flattened graph text instead of JSONL chunks")
	_ = fs.Parse(args)

	if *entity == "" || *uid == "" {
		fs.Usage()
		return fmt.Errorf("--entity and --uid are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFixture(cfg, *fixture)
	if *depth >= 0 {
		cfg.Builder.MaxDepth = *depth
	}
	if *limit > 0 {
		cfg.Builder.PerRelationLimit = *limit
	}
	if *chunkSize > 0 {
		cfg.Chunking.ChunkSize = *chunkSize
	}
	if *overlap >= 0 {
		cfg.Chunking.Overlap = *overlap
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() { _ = providers.Shutdown(context.Background()) }()
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, closeFn, err := entitygraph.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(context.Background()) }()

	if *text {
		g, err := p.Build(ctx, *entity, *uid)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, rag.Flatten(g, cfg.Chunking.FlattenDepthCutoff))
		return err
	}

	res, err := p.RunAndIndex(ctx, *entity, *uid, entitygraph.NewJSONLSink(out))
	if err != nil {
		return err
	}
	if res.Partial() {
		logger.Warn("build was interrupted, output is partial", zap.String("namespace", res.Namespace))
	}
	return nil
}

func applyFixture(cfg *config.Config, path string) {
	if path != "" {
		cfg.Source.Type = "memory"
		cfg.Source.FixturePath = path
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "EntityGraph %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `EntityGraph - entity graphs and context chunks from heterogeneous sources

Usage:
  entitygraph <command> [options]

Commands:
  detect    Detect relationship candidates and print them
  build     Build the entity graph for one root record and emit chunks
  serve     Start the HTTP server
  health    Check server health
  version   Show version information
  help      Show this help message

Common options:
  --config <path>    Path to configuration file (YAML)
  --fixture <path>   Load a fixture file or directory instead of source.fixture_path

Options for 'build':
  --entity <name>    Root entity (required)
  --uid <id>         Root record id (required)
  --depth <n>        Max depth
  --limit <n>        Per relation limit
  --chunk-size <n>   Chunk size in characters
  --overlap <n>      Chunk overlap in characters
  --text             Print the flattened text instead of JSONL chunks

Examples:
  entitygraph detect --fixture testdata/shop.yaml
  entitygraph build --entity users --uid 1 --depth 3
  entitygraph serve --config /etc/entitygraph/config.yaml
  entitygraph health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
