// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/chunker"
	"github.com/flyingrobots/go-design-chunk-cache/internal/config"
	"github.com/flyingrobots/go-design-chunk-cache/internal/gateway"
	"github.com/flyingrobots/go-design-chunk-cache/internal/obs"
	"github.com/flyingrobots/go-design-chunk-cache/internal/storage"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var fileKey string
	var inputPath string
	var chunkID string
	var adapterName string
	var listType string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "", "Role to run: ingest|get|list|cleanup|serve-metrics")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&fileKey, "file-key", "", "Source document file key")
	fs.StringVar(&inputPath, "input", "", "Path to JSON document for ingest")
	fs.StringVar(&chunkID, "chunk-id", "", "Chunk id for get")
	fs.StringVar(&adapterName, "adapter", "", "Adapter override: filesystem|redis|mongo")
	fs.StringVar(&listType, "type", "", "Chunk type filter for list")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if adapterName != "" {
		cfg.Storage.Default = adapterName
	}

	var logger *zap.Logger
	if cfg.Observability.LogFile != "" {
		logger = obs.NewFileLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	} else {
		logger, err = obs.NewLogger(cfg.Observability.LogLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger:", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	manager, err := buildManager(cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer manager.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := gateway.NewService(chunker.New(cfg.ChunkerOptions(), logger), manager, logger)

	switch role {
	case "ingest":
		runIngest(ctx, svc, fileKey, inputPath, logger)
	case "get":
		runGet(ctx, svc, fileKey, chunkID, logger)
	case "list":
		runList(ctx, manager, fileKey, listType, logger)
	case "cleanup":
		removed := manager.CleanupAll(ctx)
		printJSON(removed)
	case "serve-metrics":
		srv := obs.StartMetricsServer(cfg.Observability.MetricsPort)
		logger.Info("serving metrics", zap.Int("port", cfg.Observability.MetricsPort))
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	default:
		fmt.Fprintln(os.Stderr, "unknown role:", role)
		fs.Usage()
		os.Exit(2)
	}
}

func buildManager(cfg *config.Config, logger *zap.Logger) (*storage.Manager, error) {
	manager := storage.NewManager(logger)
	switch cfg.Storage.Default {
	case "filesystem":
		fsAdapter, err := storage.NewFilesystemAdapter(cfg.Storage.Filesystem, logger)
		if err != nil {
			return nil, err
		}
		manager.Register(fsAdapter.Name(), fsAdapter)
	case "redis":
		manager.Register("redis", storage.NewRedisAdapter(cfg.Storage.Redis, logger))
	case "mongo":
		mongoAdapter, err := storage.NewMongoAdapter(cfg.Storage.Mongo, logger)
		if err != nil {
			return nil, err
		}
		manager.Register(mongoAdapter.Name(), mongoAdapter)
	}
	return manager, nil
}

func runIngest(ctx context.Context, svc *gateway.Service, fileKey, inputPath string, logger *zap.Logger) {
	if fileKey == "" || inputPath == "" {
		logger.Fatal("ingest requires -file-key and -input")
	}
	payload, err := os.ReadFile(inputPath)
	if err != nil {
		logger.Fatal("read input", zap.Error(err))
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		logger.Fatal("parse input", zap.Error(err))
	}
	result, err := svc.IngestDocument(ctx, data, fileKey)
	if err != nil {
		logger.Fatal("ingest failed", zap.Error(err))
	}
	printJSON(result)
}

func runGet(ctx context.Context, svc *gateway.Service, fileKey, chunkID string, logger *zap.Logger) {
	if chunkID == "" {
		logger.Fatal("get requires -chunk-id")
	}
	result, err := svc.FetchChunk(ctx, fileKey, chunkID)
	if err != nil {
		logger.Fatal("get failed", zap.Error(err))
	}
	printJSON(result)
}

func runList(ctx context.Context, manager *storage.Manager, fileKey, listType string, logger *zap.Logger) {
	filter := chunk.Filter{FileKey: fileKey, Type: chunk.Type(listType)}
	summaries, err := manager.List(ctx, filter)
	if err != nil {
		logger.Fatal("list failed", zap.Error(err))
	}
	printJSON(summaries)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
