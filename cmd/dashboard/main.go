package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/hub"
	"github.com/thaveesi/blackRabbit/internal/metrics"
	"github.com/thaveesi/blackRabbit/internal/policy"
	"github.com/thaveesi/blackRabbit/internal/render"
	transporthttp "github.com/thaveesi/blackRabbit/internal/transport/http"
	"github.com/thaveesi/blackRabbit/internal/tracker"
	"github.com/thaveesi/blackRabbit/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if strings.EqualFold(cfg.LogLevel, "debug") {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	log.Printf("Starting dashboard...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Pentest API URL: %s", cfg.APIURL)
	log.Printf("Poll interval: %s", cfg.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("dashboard", reg)

	// Initialize pentest backend client
	clientOpts := []pentest.Option{pentest.WithTimeout(cfg.APITimeout)}
	if cfg.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, pentest.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	client := pentest.NewClient(cfg.APIURL, clientOpts...)

	activity := aggregator.New(client,
		aggregator.WithFetchTimeout(cfg.APITimeout),
		aggregator.WithMetrics(m),
	)

	// Initialize hub and trackers
	connectionHub := hub.NewHub()
	go connectionHub.Run(ctx)

	trackers := tracker.NewRegistry(client, cfg.PollInterval, m,
		tracker.WithFetchTimeout(cfg.APITimeout),
		tracker.WithOnUpdate(ws.NewEventPublisher(connectionHub, m)),
	)

	engine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load submission policy: %v", err)
	}

	wsServer := ws.NewServer(cfg, connectionHub, trackers, m)

	server, err := transporthttp.NewServer(transporthttp.Deps{
		Config:   cfg,
		Backend:  client,
		Activity: activity,
		Trackers: trackers,
		Hub:      connectionHub,
		Policy:   engine,
		Markdown: render.NewMarkdown(),
		Metrics:  m,
		LiveFeed: wsServer.HandleWebSocket,
	})
	if err != nil {
		log.Fatalf("Failed to create HTTP server: %v", err)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	log.Printf("Dashboard started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dashboard...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	trackers.Close()
	cancel()

	log.Println("Dashboard stopped")
}
