// File: cmd/devbroker/main.go
//
// devbroker runs the in-memory development broker: the notification REST API
// plus the STOMP-over-WebSocket push endpoint, so the client can be exercised
// end to end without the real backend.
//
//	go run ./cmd/devbroker -addr :8090
//	curl -X POST localhost:8090/api/v1/admin/notifications -d '{...}'
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickfix_notify/internal/broker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	release := flag.Bool("release", false, "run gin in release mode")
	flag.Parse()

	appLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	mode := gin.DebugMode
	if *release {
		mode = gin.ReleaseMode
	}

	b := broker.New(appLogger)
	server := &http.Server{
		Addr:         *addr,
		Handler:      b.Router(mode),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket sessions outlive any write timeout
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLogger.Info("Dev broker listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Dev broker failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Dev broker forced to shut down", zap.Error(err))
	}
}
