package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/config"
	"github.com/pyneumonia/pyneumonia/internal/domain/diagnosis"
	"github.com/pyneumonia/pyneumonia/internal/domain/identity"
	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/domain/patient"
	"github.com/pyneumonia/pyneumonia/internal/domain/report"
	"github.com/pyneumonia/pyneumonia/internal/domain/statistics"
	"github.com/pyneumonia/pyneumonia/internal/domain/xray"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/blobstore"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/events"
	"github.com/pyneumonia/pyneumonia/internal/platform/inference"
	"github.com/pyneumonia/pyneumonia/internal/platform/middleware"
	"github.com/pyneumonia/pyneumonia/internal/platform/queue"
)

const defaultBodyLimit = 1 << 20

// services is everything the HTTP layer and the worker are built from.
type services struct {
	patients   *patient.Service
	orders     *order.Service
	xrays      *xray.Service
	diagnoses  *diagnosis.Service
	reports    *report.Service
	statistics *statistics.Service
	identity   *identity.Service
	auditLog   audit.Searcher
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
		TTL:        cfg.TokenTTL,
	}
}

// signingSecret keys the HMAC content links. Without a JWT key (development)
// links are signed with a per-process random key.
func signingSecret(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.JWTSigningKey != "" {
		return []byte(cfg.JWTSigningKey)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate link signing key")
	}
	logger.Warn().Msg("no JWT_SIGNING_KEY: image links expire on restart")
	return secret
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.StorageBackend != "minio" {
		return blobstore.NewMemoryStore(), nil
	}
	store, err := blobstore.NewMinioStore(blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// newAuditSink fans audit events out to Postgres, the log and, when brokers
// are configured, Kafka. The returned publisher is nil without Kafka.
func newAuditSink(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*audit.PGSink, audit.Sink, *events.Publisher) {
	pg := audit.NewPGSink(pool)
	sinks := audit.Fanout{pg, audit.LogSink{Logger: logger}}
	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		sinks = append(sinks, publisher)
	}
	return pg, sinks, publisher
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, store blobstore.Store, sink audit.Sink,
	searcher audit.Searcher, logger zerolog.Logger) *services {
	rec := audit.NewRecorder(sink, logger)
	tx := db.NewTxRunner(pool)
	if pool == nil {
		tx = db.NoTx{}
	}

	orderRepo := order.NewRepo(pool)
	xrayRepo := xray.NewRepo(pool)
	diagnosisRepo := diagnosis.NewRepo(pool)

	classifier := inference.NewClient(inference.Config{
		BaseURL: cfg.InferenceAPIURL,
		APIKey:  cfg.InferenceAPIKey,
		ModelID: cfg.InferenceModelID,
		Timeout: cfg.InferenceTimeout,
	})

	return &services{
		patients: patient.NewService(patient.NewRepo(pool), rec),
		orders:   order.NewService(orderRepo, order.NewPatientChecker(pool), rec),
		xrays: xray.NewService(xrayRepo, orderRepo, store, blobstore.NewSigner(signingSecret(cfg, logger)), rec, logger,
			xray.Config{MaxUploadBytes: cfg.UploadMaxBytes, LinkTTL: cfg.SignedURLTTL, PublicBaseURL: cfg.PublicBaseURL}),
		diagnoses:  diagnosis.NewService(diagnosisRepo, xrayRepo, orderRepo, store, classifier, tx, rec, logger),
		reports:    report.NewService(report.NewRepo(pool), diagnosisRepo, orderRepo, tx, rec),
		statistics: statistics.NewService(statistics.NewStore(pool)),
		identity:   identity.NewService(identity.NewRepo(pool), jwtConfig(cfg), rec, logger),
		auditLog:   searcher,
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(jwtConfig(cfg))
	}
	return auth.JWTMiddleware(jwtConfig(cfg))
}

// newRouter builds the echo server. Routes that run before authentication
// (health, login, signed image content) are mounted on e directly; every
// other route lives in the authenticated /api/v1 group.
func newRouter(cfg *config.Config, logger zerolog.Logger, pinger db.Pinger, svc *services,
	access ...middleware.AccessRecorder) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.ActiveRoleHeader},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	limiter := middleware.RateLimit(rateLimitCfg)
	bodyLimit := middleware.BodyLimit(defaultBodyLimit, cfg.UploadMaxBytes)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))

	public := e.Group("/api/v1", limiter, bodyLimit)
	identity.NewHandler(svc.identity).RegisterPublicRoutes(public)
	xray.NewHandler(svc.xrays).RegisterContentRoute(public)

	api := e.Group("/api/v1", limiter, bodyLimit, authMiddleware(cfg), middleware.Audit(logger, access...))
	identity.NewHandler(svc.identity).RegisterRoutes(api)
	patient.NewHandler(svc.patients).RegisterRoutes(api)
	order.NewHandler(svc.orders).RegisterRoutes(api)
	xray.NewHandler(svc.xrays).RegisterRoutes(api)
	diagnosis.NewHandler(svc.diagnoses).RegisterRoutes(api)
	report.NewHandler(svc.reports).RegisterRoutes(api)
	statistics.NewHandler(svc.statistics).RegisterRoutes(api)
	audit.NewHandler(svc.auditLog).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize image storage")
	}

	pgSink, sink, publisher := newAuditSink(cfg, pool, logger)
	var access []middleware.AccessRecorder
	if publisher != nil {
		defer publisher.Close()
		access = append(access, publisher)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaAuditTopic).Msg("publishing audit events to kafka")
	}

	svc := newServices(cfg, pool, store, sink, pgSink, logger)
	if cfg.AsyncAnalysis() {
		client := asynq.NewClient(queue.RedisOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
		defer client.Close()
		svc.diagnoses.SetDispatcher(queue.NewClient(client, cfg.InferenceTimeout+time.Minute))
		logger.Info().Str("redis", cfg.RedisAddr).Msg("analysis runs on the worker queue")
	}

	e := newRouter(cfg, logger, pool, svc, access...)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
