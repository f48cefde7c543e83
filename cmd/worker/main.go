package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ingest-backend/cmd"
	"ingest-backend/internal/database"
	"ingest-backend/internal/messaging"
	"ingest-backend/internal/pipeline"
	"ingest-backend/pkg/models"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	cmd.PipelineConfig

	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
}

func main() {
	log.Println("Starting ingestion worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
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

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	go consumeNotifications(loader, receiver)

	log.Println("Worker started. Waiting for notifications. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Worker stopped.")
}

func consumeNotifications(loader *pipeline.Loader, receiver messaging.Receiver) {
	ctx := context.Background()

	for task := range receiver.Tasks() {
		var payload models.NotificationTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("dropping undecodable notification task", "error", err)
			task.Reject() //nolint:errcheck
			continue
		}

		resp, err := loader.HandleNotification(ctx, payload.Envelope)
		if err != nil {
			if pipeline.IsInvalidNotification(err) {
				// Redelivery cannot fix a bad notification; drop it.
				slog.Error("rejecting invalid notification", "error", err)
				task.Reject() //nolint:errcheck
			} else {
				slog.Error("load failed, leaving redelivery to the transport", "error", err)
				task.Nack() //nolint:errcheck
			}
			continue
		}

		slog.Info("notification processed", "job_id", resp.JobId, "object", resp.Object, "rows_loaded", resp.RowsLoaded)
		task.Ack() //nolint:errcheck
	}
}
