package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingest-backend/cmd"
	"ingest-backend/internal/api"
	"ingest-backend/internal/database"
	"ingest-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	cmd.PipelineConfig

	APIPort string `env:"PORT" envDefault:"8080"`

	// AsyncAccept makes the notification endpoint validate and queue instead
	// of loading inline; a worker consuming RABBITMQ_URL performs the load.
	AsyncAccept bool   `env:"ASYNC_ACCEPT" envDefault:"false"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

func main() {
	log.Println("Starting ingestion API server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	objects, err := cmd.NewObjectStore(cfg.PipelineConfig)
	if err != nil {
		log.Fatalf("Failed to create object store client: %v", err)
	}

	loader, err := cmd.BuildLoader(cfg.PipelineConfig, db, objects)
	if err != nil {
		log.Fatalf("Failed to build ingestion pipeline: %v", err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Load jobs on large files take minutes; the timeout must cover the full
	// submit-and-wait round trip.
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	service := api.NewIngestService(loader, db)
	if cfg.AsyncAccept {
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		service = service.WithAsyncAccept(publisher)
	}
	service.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
