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

	"tikiti/internal/auth"
	"tikiti/internal/config"
	"tikiti/internal/kafka"
	"tikiti/internal/logger"
	"tikiti/internal/mpesa"
	"tikiti/internal/notify"
	"tikiti/internal/orders"
	orders_api "tikiti/internal/orders/api"
	orders_db "tikiti/internal/orders/db"
	payment_api "tikiti/internal/payment/api"
	payment_db "tikiti/internal/payment/db"
	"tikiti/internal/payment/reconciler"
	"tikiti/internal/storage"
	"tikiti/internal/sweeper"
	tickets_api "tikiti/internal/tickets/api"
	tickets_db "tikiti/internal/tickets/db"
	"tikiti/internal/tickets/issuer"
	"tikiti/internal/tickets/template"
	"tikiti/internal/tickets/verifier"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Tikiti payment and ticketing service")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if cfg.Ticket.ChecksumSecret == "" {
		log.Fatal("CONFIG", "TICKET_CHECKSUM_SECRET not set")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("CONFIG", "JWT_SECRET not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
	kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer kafkaProducer.Close()

	requiredTopics := []string{
		kafka.TopicPaymentCallbacks,
		kafka.TopicNotifyEmail,
		kafka.TopicNotifySMS,
	}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}

	artifacts, err := storage.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Region)
	if err != nil {
		log.Fatal("STORAGE", fmt.Sprintf("Failed to initialize artifact store: %v", err))
	}

	paymentDB := &payment_db.DB{Bun: bunDB}
	ticketDB := &tickets_db.DB{Bun: bunDB}
	orderDB := &orders_db.DB{Bun: bunDB}

	mpesaClient := mpesa.NewClient(cfg.Daraja, mpesa.NewRedisTokenStore(redisClient), log)

	notifyProducer := &notify.Producer{Queue: kafkaProducer, Log: log}
	ticketIssuer := &issuer.Issuer{
		Store:     ticketDB,
		Renderer:  template.NewTicketPDFGenerator(),
		Artifacts: artifacts,
		Notifier:  notifyProducer,
		Secret:    cfg.Ticket.ChecksumSecret,
		Log:       log,
	}

	rec := reconciler.New(paymentDB, ticketIssuer, log)

	callbackConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicPaymentCallbacks, cfg.Kafka.GroupID)
	defer callbackConsumer.Close()
	go func() {
		log.Info("KAFKA", fmt.Sprintf("Consuming payment callbacks from %s", kafka.TopicPaymentCallbacks))
		_ = callbackConsumer.Start(ctx, func(key, value []byte) error {
			outcome, err := rec.Reconcile(ctx, value)
			if err != nil {
				log.Error("RECONCILE", fmt.Sprintf("Callback %s: %v", string(key), err))
				return err
			}
			log.LogPayment("RECONCILED", string(key), fmt.Sprintf("Outcome: %s", outcome))
			return nil
		})
	}()

	recovery := &sweeper.Sweeper{
		Store:    ticketDB,
		Issuer:   ticketIssuer,
		Interval: cfg.Ticket.SweepInterval,
		Grace:    cfg.Ticket.SweepGrace,
		Log:      log,
	}
	go recovery.Run(ctx)

	orderService := &orders.Service{DB: orderDB, Mpesa: mpesaClient, Log: log}
	ticketVerifier := &verifier.Verifier{Store: ticketDB, Secret: cfg.Ticket.ChecksumSecret, Log: log}

	paymentHandler := payment_api.NewHandler(kafkaProducer, paymentDB, log)
	orderHandler := orders_api.NewHandler(orderService, log)
	ticketHandler := tickets_api.NewHandler(ticketVerifier, ticketDB, log)

	authMW := auth.NewMiddleware(cfg.Auth.JWTSecret, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Post("/api/payments/mpesa/callback", paymentHandler.MpesaCallback)
	r.Get("/api/tickets/verify/{code}", ticketHandler.VerifyByCode)
	log.Info("ROUTER", "Public callback and legacy verify endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMW.Authenticate)
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api/orders", func(r chi.Router) {
			r.With(authMW.RequirePermission(auth.PermOrderCreate)).Post("/", orderHandler.CreateOrder)
			r.With(authMW.RequirePermission(auth.PermOrderRead)).Get("/", orderHandler.ListOrders)
			r.With(authMW.RequirePermission(auth.PermOrderRead)).Get("/{orderId}", orderHandler.GetOrder)
			r.With(authMW.RequirePermission(auth.PermOrderCreate)).Post("/{orderId}/pay", orderHandler.Pay)
			r.With(authMW.RequirePermission(auth.PermOrderReadAll)).Get("/{orderId}/payments", paymentHandler.OrderTransactions)
		})
		log.Info("ROUTER", "Order routes registered under /api/orders")

		r.Route("/api/tickets", func(r chi.Router) {
			r.With(authMW.RequirePermission(auth.PermTicketRead)).Get("/", ticketHandler.MyTickets)
			r.With(authMW.RequirePermission(auth.PermTicketVerify)).Post("/verify", ticketHandler.Verify)
			r.With(authMW.RequirePermission(auth.PermTicketVerify)).Post("/scan", ticketHandler.Scan)
			r.With(authMW.RequirePermission(auth.PermTicketCheckIn)).Post("/check-in", ticketHandler.CheckIn)
		})
		log.Info("ROUTER", "Ticket routes registered under /api/tickets")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Tikiti service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Tikiti service shutdown complete")
	}
}
