// Command host runs the memorall service registry plus the transport
// listeners (gRPC port and WebSocket) that expose the data-plane proxy and
// job queue to browser-extension clients. Mirrors the teacher's
// cmd/kernel/main.go: load config from the environment, start the
// long-lived component, serve HTTP/gRPC, wait for a signal, shut down.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/memorall/core/internal/registry"
	"github.com/memorall/core/internal/rpc"
	"github.com/memorall/core/internal/transport/grpcport"
	"github.com/memorall/core/internal/transport/wsport"
)

// fileConfig is the optional config-file shape loaded before env overrides
// are applied; env vars always win so a deployed container can override a
// baked-in config file without a rebuild.
type fileConfig struct {
	DatabaseURL   string `yaml:"databaseUrl"`
	NATSURL       string `yaml:"natsUrl"`
	RedisURL      string `yaml:"redisUrl"`
	EmbeddingURL  string `yaml:"embeddingUrl"`
	LLMRunnerURL  string `yaml:"llmRunnerUrl"`
	MaxConcurrent int    `yaml:"maxConcurrentJobs"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting memorall host")

	cfg := registry.DefaultConfig()
	if path := getEnv("MEMORALL_CONFIG_FILE", ""); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			logger.Fatal("failed to load config file", zap.String("path", path), zap.Error(err))
		}
		if fc.DatabaseURL != "" {
			cfg.Storage.DSN = fc.DatabaseURL
		}
		if fc.NATSURL != "" {
			cfg.NATSAddress = fc.NATSURL
		}
		if fc.RedisURL != "" {
			cfg.RedisAddress = fc.RedisURL
		}
		if fc.EmbeddingURL != "" {
			cfg.EmbeddingURL = fc.EmbeddingURL
		}
		if fc.LLMRunnerURL != "" {
			cfg.LLMBaseURL = fc.LLMRunnerURL
		}
		if fc.MaxConcurrent > 0 {
			cfg.MaxConcurrentJobs = fc.MaxConcurrent
		}
	}
	cfg.Storage.DSN = getEnv("MEMORALL_DATABASE_URL", cfg.Storage.DSN)
	cfg.NATSAddress = getEnv("MEMORALL_NATS_URL", cfg.NATSAddress)
	cfg.RedisAddress = getEnv("MEMORALL_REDIS_URL", cfg.RedisAddress)
	cfg.EmbeddingURL = getEnv("MEMORALL_EMBEDDING_URL", cfg.EmbeddingURL)
	cfg.LLMBaseURL = getEnv("MEMORALL_LLM_RUNNER_URL", cfg.LLMBaseURL)
	cfg.MasterKeyPassphrase = getEnv("MEMORALL_MASTER_KEY", "")
	if n, err := strconv.Atoi(getEnv("MEMORALL_MAX_CONCURRENT_JOBS", "")); err == nil && n > 0 {
		cfg.MaxConcurrentJobs = n
	}

	r := registry.New(cfg, logger)
	if err := r.Start(); err != nil {
		logger.Fatal("failed to start registry", zap.Error(err))
	}

	if err := r.WaitReady(30 * time.Second); err != nil {
		logger.Fatal("storage never became ready", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcAddr := getEnv("MEMORALL_GRPC_ADDR", ":9001")
	grpcServer := grpcport.NewServer(grpcAddr, func() *rpc.Dispatcher {
		return rpc.NewDispatcher(r.Store, logger)
	}, logger)
	go func() {
		if err := grpcServer.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("grpc port transport exited", zap.Error(err))
		}
	}()

	wsAddr := getEnv("MEMORALL_WS_ADDR", ":9002")
	wsHandler := wsport.NewHandler(rpc.NewDispatcher(r.Store, logger), logger)
	mux := http.NewServeMux()
	mux.Handle("/", wsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	httpServer := &http.Server{Addr: wsAddr, Handler: mux}
	go func() {
		logger.Info("websocket port transport listening", zap.String("addr", wsAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("websocket port transport failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down memorall host")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	_ = grpcServer.Close()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = r.Stop()

	logger.Info("shutdown complete")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
