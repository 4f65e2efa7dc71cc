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

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/reservation"
	"fulfillment-service/internal/resolver"
	"fulfillment-service/internal/saga"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	positionTTL := time.Duration(cfg.Business.CourierPositionTTLSeconds) * time.Second
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, positionTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	reservationTTL := time.Duration(cfg.Business.ReservationTTLSeconds) * time.Second
	stepTimeout := time.Duration(cfg.Business.CheckoutStepTimeoutSecs) * time.Second

	reservationManager := reservation.NewManager(db, reservation.SystemClock(), eventPublisher, reservationTTL)
	fulfillmentResolver := resolver.NewResolver(db, db, db, redisClient, eventPublisher, cfg.Business.MaxDeliveryDistanceKm)
	checkoutSaga := saga.NewCheckoutSaga(reservationManager, fulfillmentResolver, db, db, eventPublisher, redisClient, reservationTTL, stepTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweepInterval := time.Duration(cfg.Business.SweepIntervalSeconds) * time.Second
	sweeper := reservation.NewSweeper(reservationManager, sweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Reservation sweeper error: %v", err)
		}
	}()

	dispatchConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	dispatchWorker := worker.NewDispatchWorker(dispatchConsumer, fulfillmentResolver, db)
	go func() {
		if err := dispatchWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Dispatch worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutSaga, fulfillmentResolver, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	dispatchWorker.Stop()

	log.Println("Server exited")
}
