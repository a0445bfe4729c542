package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/kafka"
	"tikiti/internal/logger"
	"tikiti/internal/notify"
	"tikiti/internal/storage"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Tikiti notification worker")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	artifacts, err := storage.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Region)
	if err != nil {
		log.Fatal("STORAGE", fmt.Sprintf("Failed to initialize artifact store: %v", err))
	}

	worker := &notify.Worker{
		DB:        &notify.DB{Bun: bunDB},
		Artifacts: artifacts,
		Email:     cfg.Email,
		SMS:       cfg.SMS,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Log:       log,
	}

	emailConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicNotifyEmail, cfg.Kafka.GroupID+"-notify")
	defer emailConsumer.Close()
	smsConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicNotifySMS, cfg.Kafka.GroupID+"-notify")
	defer smsConsumer.Close()

	go func() {
		log.Info("KAFKA", fmt.Sprintf("Consuming email tasks from %s", kafka.TopicNotifyEmail))
		_ = emailConsumer.Start(ctx, worker.HandleEmail)
	}()
	go func() {
		log.Info("KAFKA", fmt.Sprintf("Consuming SMS tasks from %s", kafka.TopicNotifySMS))
		_ = smsConsumer.Start(ctx, worker.HandleSMS)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Worker started, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received")
	cancel()
	log.Info("APP", "✅ Notification worker shutdown complete")
}
