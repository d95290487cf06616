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

	"rental-service/config"
	"rental-service/internal/api"
	"rental-service/internal/broker"
	"rental-service/internal/idgen"
	"rental-service/internal/redisclient"
	"rental-service/internal/scheduler"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/util"
	"rental-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("rental-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if err := idgen.Init(cfg.Server.MachineID); err != nil {
		log.Fatalf("Failed to initialize id generator: %v", err)
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetCODReleasesAvailability(cfg.Business.CODReleasesAvailability)
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrderEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	orderService := service.NewOrderService(db, redisClient, eventPublisher, cfg.Business.ReservationWindow)
	rentalService := service.NewRentalService(db, eventPublisher, cfg.Business.ReservationWindow, cfg.Business.CODReleasesAvailability)
	reconciler := service.NewReconciler(db, eventPublisher, cfg.Business.ReservationWindow)
	poster := service.NewTransactionPoster(db, eventPublisher, cfg.Business.OwnerSharePercent)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, rentalService, redisClient)
	go func() {
		if err := paymentWorker.Start(workerCtx); err != nil {
			logger.Error("Payment worker error", zap.Error(err))
		}
	}()

	sched := scheduler.NewScheduler()
	jobs := []struct {
		spec    string
		sweeper *worker.Sweeper
	}{
		{cfg.Scheduler.ExpirySweep, worker.NewSweeper("orders", cfg.Scheduler.SweepTimeout, redisClient, worker.OrderSweep(reconciler))},
		{cfg.Scheduler.TransactionSweep, worker.NewSweeper("transactions", cfg.Scheduler.SweepTimeout, redisClient, worker.TransactionSweep(poster))},
		{cfg.Scheduler.VehicleWindowSweep, worker.NewSweeper("vehicle_windows", cfg.Scheduler.SweepTimeout, redisClient, worker.VehicleWindowSweep(reconciler))},
	}
	for _, job := range jobs {
		if err := sched.Register(job.sweeper.Name(), job.spec, job.sweeper); err != nil {
			log.Fatalf("Failed to schedule sweep: %v", err)
		}
	}
	sched.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, rentalService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	sched.Stop()

	workerCancel()
	if err := paymentWorker.Stop(); err != nil {
		logger.Warn("Error stopping payment worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
