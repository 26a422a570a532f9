package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datasafe/pkg/app"
	"datasafe/pkg/config"
	"datasafe/pkg/server"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.ds/config.yaml)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}
	if used := config.Used(); used != "" {
		fmt.Println("🔧 Using config file:", used)
	} else {
		fmt.Println("⚠️  No config file found, using defaults and environment")
	}
	settings, err := config.Current()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	// 2. Init Core Application
	ctx := context.Background()
	application, err := app.NewApp(ctx, settings)
	if err != nil {
		log.Fatalf("❌ Failed to initialize app: %v", err)
	}
	defer application.Close()
	fmt.Printf("✅ Datasafe Core initialized (storage=%s, algorithm=%s).\n",
		settings.Storage.Type, settings.Checksum.Algorithm)

	// 3. Setup Network
	lis, err := net.Listen("tcp", settings.Server.Addr)
	if err != nil {
		log.Fatalf("❌ Failed to listen on %s: %v", settings.Server.Addr, err)
	}

	// 4. Setup gRPC Server
	metrics := server.NewMetrics()
	grpcServer := server.New(application, metrics)

	// 5. Metrics endpoint
	var metricsSrv *http.Server
	if settings.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: settings.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			fmt.Printf("📈 Metrics on %s/metrics\n", settings.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	// 6. Start Server (Async)
	go func() {
		fmt.Printf("🚀 gRPC Server listening on %s...\n", settings.Server.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("❌ Failed to serve: %v", err)
		}
	}()

	// 7. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n⚠️  Shutting down server...")
	grpcServer.GracefulStop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	fmt.Println("👋 Server stopped.")
}
