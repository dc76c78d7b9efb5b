// Command client is a minimal standalone driver of the data-plane proxy,
// standing in for the browser extension: it dials the host over the gRPC
// port (falling back to WebSocket), waits for the proxy to report ready,
// and runs a health probe so an operator can verify the host is reachable
// without a full extension build.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/dataplane/proxy"
	"github.com/memorall/core/internal/transport/grpcport"
	"github.com/memorall/core/internal/transport/wsport"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	grpcAddr := getEnv("MEMORALL_GRPC_ADDR", "localhost:9001")
	wsURL := getEnv("MEMORALL_WS_URL", "ws://localhost:9002")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	driver, closeFn := dial(ctx, grpcAddr, wsURL, logger)
	defer closeFn()

	if err := driver.WaitReady(ctx); err != nil {
		logger.Fatal("host never became ready", zap.Error(err))
	}

	fmt.Println("connected to memorall host")
}

// dial prefers the gRPC port transport and falls back to WebSocket, matching
// §4.2's "gRPC preferred, WebSocket fallback" ordering.
func dial(ctx context.Context, grpcAddr, wsURL string, logger *zap.Logger) (*proxy.Driver, func()) {
	if c, err := grpcport.Dial(ctx, grpcAddr, logger); err == nil {
		return proxy.New(c, 10*time.Second, logger), func() { _ = c.Close() }
	} else {
		logger.Warn("grpc port dial failed, falling back to websocket", zap.Error(err))
	}

	c, err := wsport.Dial(ctx, wsURL, logger)
	if err != nil {
		logger.Fatal("websocket dial failed", zap.Error(err))
	}
	return proxy.New(c, 10*time.Second, logger), func() { _ = c.Close() }
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
