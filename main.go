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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"tutor-income-tracker/config"
	"tutor-income-tracker/db"
	"tutor-income-tracker/handlers"
	"tutor-income-tracker/models"
	"tutor-income-tracker/tracker"
	"tutor-income-tracker/watcher"
)

// defaultStudents are placeholder rows so the first start is not an empty page
var defaultStudents = []models.Student{
	{Name: "Sample Student", Price: decimal.RequireFromString("1.00")},
	{Name: "Trial Lesson", Price: decimal.RequireFromString("1.00")},
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.RedisKeyPrefix)
	if err != nil {
		log.Fatalf("Could not open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	t := tracker.New(store, time.Now)

	if cfg.SeedDefaults {
		seedInitialData(ctx, t)
	}

	if cfg.ImportDir != "" {
		inbox := watcher.NewInbox(cfg.ImportDir, t)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				log.Printf("Import inbox stopped: %v", err)
			}
		}()
	}

	apiHandler := handlers.NewAPIHandler(t, cfg.CurrencySymbol)

	router := gin.Default()
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// seedInitialData adds the placeholder students that are missing
func seedInitialData(ctx context.Context, t *tracker.Tracker) {
	if err := t.SeedDefaults(ctx, defaultStudents); err != nil {
		log.Printf("Warning: could not seed default students: %v", err)
		return
	}
	log.Println("Default students verified.")
}
