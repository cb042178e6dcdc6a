package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/filecrypt"
	"github.com/noah-isme/gema-grading-api/pkg/pdftext"
	"github.com/noah-isme/gema-grading-api/pkg/questions"
	"github.com/noah-isme/gema-grading-api/pkg/similarity"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.Grading.Workers+10)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Exercise{}, &models.Submission{}, &models.Correction{}, &models.CorrectionFile{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	blobs, err := storage.NewS3Store(context.Background(), storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create storage client: %v", err)
	}

	scorer, err := newScorer(cfg.Scorer, logger)
	if err != nil {
		log.Fatalf("failed to create scorer: %v", err)
	}

	detector, err := questions.NewDetector(cfg.Correction.Detector)
	if err != nil {
		log.Fatalf("invalid correction detector: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	cipher := filecrypt.New()
	extractor := pdftext.New()
	segmenter := questions.NewSegmenter(cfg.Grading.Denylist)
	guard := service.NewUploadGuard(cfg.MaxUploadBytes())
	events := service.NewNATSEventPublisher(natsConn, cfg.Grading.EventSubjectPrefix, logger)

	exerciseRepo := repository.NewExerciseRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)

	grader := service.NewGradingService(
		submissionRepo,
		correctionRepo,
		blobs,
		cipher,
		extractor,
		segmenter,
		ai.NewOrchestrator(scorer, logger),
		events,
		service.GradingConfig{MismatchPolicy: cfg.Grading.MismatchPolicy},
		logger,
	)
	queue := service.NewGradingQueue(grader, cfg.Grading.Workers, cfg.Grading.QueueSize, logger)

	locker := service.NewLocalExerciseLocker()
	if redisClient != nil {
		locker = service.NewRedisExerciseLocker(redisClient, cfg.Grading.LockTTL, cfg.Grading.LockWait, logger)
	}

	submissionService := service.NewSubmissionService(service.SubmissionServiceDeps{
		Submissions: submissionRepo,
		Exercises:   exerciseRepo,
		Blobs:       blobs,
		Cipher:      cipher,
		Extractor:   extractor,
		Screener:    similarity.NewScreener(cfg.Grading.PlagiarismThreshold),
		Locker:      locker,
		Scheduler:   queue,
		Events:      events,
		Guard:       guard,
	}, validate, logger)
	correctionService := service.NewCorrectionService(
		correctionRepo,
		exerciseRepo,
		blobs,
		questions.NewBuilder(extractor, segmenter, detector),
		guard,
		validate,
		logger,
	)
	exerciseService := service.NewExerciseService(exerciseRepo, logger)

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.MaxUploadBytes()) + 1<<20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(
			submissionService,
			middleware.RateLimit("submission-create", cfg.Upload.RateLimit, cfg.Upload.RateLimitWindow),
			logger,
		),
		CorrectionHandler: handler.NewCorrectionHandler(correctionService, logger),
		ExerciseHandler:   handler.NewExerciseHandler(exerciseService, logger),
		HealthProbes:      probes,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		ExposeMetrics:     true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return queue.Run(groupCtx)
	})
	if _, err := service.RequeuePending(ctx, submissionRepo, queue, logger); err != nil {
		logger.Error().Err(err).Msg("failed to requeue pending submissions")
	}
	group.Go(func() error {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return shutdown(app, queue, logger)
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}

	logger.Info().Msg("server stopped")
}

func newScorer(cfg config.ScorerConfig, logger zerolog.Logger) (ai.Scorer, error) {
	switch cfg.Provider {
	case "openai":
		return ai.NewOpenAIScorer(ai.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.URL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	default:
		return ai.NewOllamaScorer(ai.OllamaConfig{
			URL:     cfg.URL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	}
}

func shutdown(app *fiber.App, queue *service.GradingQueue, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue.Close()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
