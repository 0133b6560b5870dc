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

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gradeflow/internal/cache"
	"gradeflow/internal/config"
	"gradeflow/internal/logger"
	"gradeflow/internal/repository"
	"gradeflow/internal/service"
	"gradeflow/internal/storage"
	"gradeflow/internal/transport/rest"
	"gradeflow/internal/transport/ws"
	"gradeflow/internal/worker"
)

func main() {
	printStartUpBanner()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log, cfg.Env); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	logger.Infof("AI Config:")
	logger.Infof("  Detector:  %s (%s)", cfg.AI.DetectorBackend, cfg.AI.Models.RollNumber)
	logger.Infof("  Corrector: %s (%s)", cfg.AI.CorrectorBackend, cfg.AI.Models.Correction)
	if !cfg.AI.IsEnabled() {
		logger.Warnf("  API Key:   NOT SET (using mock detector and corrector)")
	}

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		logger.Fatalf("Failed to ping MongoDB: %v", err)
	}
	logger.Infof("Connected to MongoDB (%s)", cfg.Mongo.Database)

	db := mongoClient.Database(cfg.Mongo.Database)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Fatalf("Failed to ping Redis: %v", err)
	}
	logger.Infof("Connected to Redis")

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to init object store: %v", err)
	}

	// Initialize WebSocket hub
	wsHub := ws.NewHub()

	// Initialize repositories
	userRepo := repository.NewUserRepo(db)
	classRepo := repository.NewClassRepo(db)
	examRepo := repository.NewExamRepo(db)
	sheetRepo := repository.NewSheetRepo(db)
	notificationRepo := repository.NewNotificationRepo(db)

	// Initialize caches
	rosterCache := cache.NewRosterCache(rdb)
	detectionCache := cache.NewDetectionCache(rdb)

	// AI backends
	gemini := service.NewGeminiClient(&cfg.AI)
	detector := service.NewDetector(&cfg.AI, gemini, detectionCache)
	corrector := service.NewCorrector(&cfg.AI, gemini)

	var mailer service.Mailer
	if email := service.NewEmailNotifier(cfg.Mail); email != nil {
		mailer = email
		logger.Infof("Email notifications enabled (from %s)", cfg.Mail.FromAddress)
	}

	pool := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, cfg.Worker.TaskTimeout)

	// Initialize services
	authSvc := service.NewAuthService(userRepo, cfg.Auth)
	rosterSvc := service.NewRosterService(userRepo, classRepo, examRepo, rosterCache)
	dispatcher := service.NewDispatcher(notificationRepo, userRepo, wsHub, mailer)
	sheetSvc := service.NewSheetService(sheetRepo, rosterSvc, dispatcher)
	uploadSvc := service.NewUploadService(rosterSvc, service.NewStudentMatcher(rosterSvc), detector,
		store, sheetRepo, dispatcher, cfg.HTTP.MaxUploadBytes)
	processingSvc := service.NewProcessingService(sheetSvc, rosterSvc, store, corrector, pool, dispatcher, cfg.Worker.EstimatedDelay)
	reportSvc := service.NewReportService(sheetRepo, rosterSvc)
	notificationSvc := service.NewNotificationService(notificationRepo)

	sweeper, err := service.NewStaleSweeper(processingSvc, cfg.Worker.SweepSchedule, cfg.Worker.StaleAfter)
	if err != nil {
		logger.Fatalf("Invalid sweep schedule %q: %v", cfg.Worker.SweepSchedule, err)
	}
	sweeper.Start()

	// Create router with container
	container := &rest.Container{
		HTTP:                cfg.HTTP,
		AuthService:         authSvc,
		RosterService:       rosterSvc,
		UploadService:       uploadSvc,
		SheetService:        sheetSvc,
		ProcessingService:   processingSvc,
		ReportService:       reportSvc,
		NotificationService: notificationSvc,
		WSHub:               wsHub,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           rest.NewRouter(container),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on :%s (%s)", cfg.HTTP.Port, cfg.Env)
		logger.Infof("Endpoints:")
		logger.Infof("  POST /v1/auth/login")
		logger.Infof("  POST /v1/exams/{examId}/sheets[/batch|/detect]")
		logger.Infof("  GET  /v1/exams/{examId}/summary | report.pdf")
		logger.Infof("  POST /v1/sheets/{sheetId}/process | overrides | acknowledge")
		logger.Infof("  WS   /v1/ws/notifications?token=")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("ListenAndServe: %v", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	sweeper.Stop(shutdownCtx)
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Worker pool did not drain: %v", err)
	}
	wsHub.Close()

	logger.Infof("Server exited")
}

func printStartUpBanner() {
	banner := figure.NewFigure("GRADEFLOW", "", true)
	banner.Print()

	fmt.Println("======================================================")
	fmt.Printf("GradeFlow answer-sheet API\n\n")
}
