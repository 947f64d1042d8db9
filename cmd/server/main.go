// Command server runs the Smart Code Review API: OTP-gated sessions, the
// analysis submission pipeline, and (optionally, in the same process) the
// queue worker that performs the AI review.
//
// Configuration is environment-driven; a local .env file is honored in
// development. See internal/config for the full variable list.
//
// @title        Smart Code Review API
// @version      1.0
// @description  Session-gated, rate-limited submission pipeline for AI code review.
//
// @BasePath     /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/somdiproy/smartcode-review/internal/ai"
	"github.com/somdiproy/smartcode-review/internal/blob"
	"github.com/somdiproy/smartcode-review/internal/breaker"
	"github.com/somdiproy/smartcode-review/internal/chunk"
	"github.com/somdiproy/smartcode-review/internal/config"
	httpapi "github.com/somdiproy/smartcode-review/internal/http"
	"github.com/somdiproy/smartcode-review/internal/http/middleware"
	"github.com/somdiproy/smartcode-review/internal/notify"
	"github.com/somdiproy/smartcode-review/internal/observability"
	"github.com/somdiproy/smartcode-review/internal/queue"
	"github.com/somdiproy/smartcode-review/internal/ratelimit"
	"github.com/somdiproy/smartcode-review/internal/repo"
	"github.com/somdiproy/smartcode-review/internal/services"
	"github.com/somdiproy/smartcode-review/internal/session"
	"github.com/somdiproy/smartcode-review/internal/status"
	"github.com/somdiproy/smartcode-review/internal/sysutil"
	"github.com/somdiproy/smartcode-review/internal/worker"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; absent file is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatal().Err(err).Msg("aws config load failed")
	}

	// SQLite is shared by whichever backends selected it.
	var db *gorm.DB
	if cfg.SessionBackend == config.BackendSQLite || cfg.StatusBackend == config.BackendSQLite {
		db, err = repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("sqlite open failed")
		}
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("sqlite migrate failed")
		}
	}

	var sessions session.Store
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		sessions = session.NewSQLiteStore(db)
	default:
		sessions = session.NewMemoryStore()
	}

	var statuses status.Store
	switch cfg.StatusBackend {
	case config.BackendDynamo:
		statuses = status.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoTable)
	default:
		statuses = status.NewSQLiteStore(db)
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.Mail.SendGridKey != "" {
		sender = notify.NewSendGridSender(cfg.Mail.SendGridKey, cfg.Mail.FromEmail, cfg.Mail.FromName)
	} else {
		log.Warn().Msg("no sendgrid key configured, OTP codes are written to the log")
	}

	gate := session.NewGate(sessions, sender, session.Config{})
	defer gate.Close()

	bank := ratelimit.NewBank(ratelimit.Config{
		SessionPerMinute:  cfg.Rates.SessionPerMinute,
		APIPerMinute:      cfg.Rates.APIPerMinute,
		AnalysisPerMinute: cfg.Rates.AnalysisPerMinute,
	})
	defer bank.Close()
	usage := ratelimit.NewUsageCache(10 * time.Minute)

	var blobs blob.Store
	if cfg.AWS.S3Bucket != "" {
		blobs = blob.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AWS.S3Bucket)
	} else {
		log.Warn().Msg("no s3 bucket configured, oversized payloads stay inline on the queue")
	}

	if cfg.AWS.QueueURL == "" {
		log.Fatal().Msg("SQS_QUEUE_URL must be set")
	}
	subQueue := queue.New(sqs.NewFromConfig(awsCfg), cfg.AWS.QueueURL, blobs, queue.Config{})

	chunker := chunk.New(50_000, 100_000)
	analyses := services.NewAnalysisService(gate, bank, usage, subQueue, statuses, chunker)
	defer analyses.Close()

	brk := breaker.New(0, 0, 0)
	if cfg.WorkerEnabled {
		reviewer := ai.NewBedrockReviewer(bedrockruntime.NewFromConfig(awsCfg), cfg.AWS.BedrockModelID)
		proc := worker.New(subQueue, blobs, statuses, reviewer, brk, chunker)
		go proc.Run(ctx)
		log.Info().Str("model", cfg.AWS.BedrockModelID).Msg("queue worker started")
	}

	// Operational gauges: queue depth and breaker state.
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// Depth reports -1 when SQS is unreachable.
				if d := subQueue.Depth(ctx); d >= 0 {
					middleware.SetQueueDepth(d)
				}
				middleware.SetBreakerOpen(brk.Open())
			}
		}
	}()

	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Gate:     gate,
		Analyses: analyses,
		Bank:     bank,
		Usage:    usage,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("server stopped")
}
