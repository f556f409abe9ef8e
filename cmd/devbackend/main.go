package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/devbackend"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting dev backend...")
	log.Printf("HTTP Port: %d", cfg.DevBackendPort)
	log.Printf("Database: %s", cfg.DatabaseURL)

	store, err := devbackend.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	server := devbackend.NewServer(store)
	server.HidePort = true

	go func() {
		addr := fmt.Sprintf(":%d", cfg.DevBackendPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	log.Printf("Dev backend started on port %d", cfg.DevBackendPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dev backend...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}

	log.Println("Dev backend stopped")
}
