// Command workerd serves the built-in workers over WebSocket, so clients
// can start them from ws://host/<worker-file-name> urls.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cryguy/taskworker"
	"github.com/cryguy/taskworker/internal/host/wsock"
)

func main() {
	logger := log.New(os.Stderr, "workerd: ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal(err)
	}

	engine := taskworker.NewEngine(cfg.core(), logger)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           wsock.NewServer(engine.Workers(), cfg.wsock(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	logger.Printf("serving workers on ws://%s/", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}
