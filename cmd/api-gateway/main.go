package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/handler"
	"github.com/vinculacion/registro-api/internal/middleware"
	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/repository"
	"github.com/vinculacion/registro-api/internal/schemafit"
	"github.com/vinculacion/registro-api/internal/service"
	"github.com/vinculacion/registro-api/internal/validate"
	"github.com/vinculacion/registro-api/pkg/cache"
	"github.com/vinculacion/registro-api/pkg/config"
	"github.com/vinculacion/registro-api/pkg/database"
	"github.com/vinculacion/registro-api/pkg/logger"
	corsmiddleware "github.com/vinculacion/registro-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vinculacion/registro-api/pkg/middleware/requestid"
	"github.com/vinculacion/registro-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	uploadStore, err := storage.NewLocalStorage(cfg.Ingest.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("upload storage init failed", "error", err)
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("export storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	aliases := schemafit.DefaultAliasTable()
	if cfg.Ingest.AliasFile != "" {
		aliases, err = schemafit.LoadAliasFile(cfg.Ingest.AliasFile)
		if err != nil {
			logr.Sugar().Fatalw("alias file unreadable", "path", cfg.Ingest.AliasFile, "error", err)
		}
	}
	rowValidator := validate.New(cfg.Ingest.InstitutionEmailSuffixes)

	// Repositories.
	personRepo := repository.NewPersonRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	indicatorsRepo := repository.NewIndicatorsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Indicators.CacheTTL, logr, redisClient != nil)
	catalogSvc := service.NewCatalogService(catalogRepo, auditRepo, cacheSvc, logr)
	registrySvc := service.NewRegistryService(personRepo, auditRepo, metricsSvc, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, auditRepo, logr)
	dedupSvc := service.NewDedupService(personRepo, reviewRepo, cfg.Dedup, logr)
	reviewSvc := service.NewReviewService(reviewRepo, registrySvc, auditRepo, metricsSvc, logr)
	indicatorsSvc := service.NewIndicatorsService(indicatorsRepo, cacheSvc, metricsSvc, logr)
	exportSvc := service.NewExportService(uploadRepo, activityRepo, uploadStore, exportStore, signer, rowValidator, cfg.Ingest.EncodingFallback, logr)
	ingestSvc := service.NewIngestService(cfg.Ingest, aliases, rowValidator, catalogSvc, registrySvc, registrationSvc, activityRepo, uploadRepo, uploadStore, auditRepo, metricsSvc, logr).
		WithScanScheduler(dedupSvc)

	ctx := context.Background()
	dedupSvc.StartWorker(ctx)
	defer dedupSvc.StopWorker()

	// Handlers.
	ingestHandler := handler.NewIngestHandler(ingestSvc, exportSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc, registrySvc, indicatorsSvc, rowValidator)
	reviewHandler := handler.NewReviewHandler(reviewSvc, dedupSvc, indicatorsSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	indicatorsHandler := handler.NewIndicatorsHandler(indicatorsSvc)
	personHandler := handler.NewPersonHandler(registrySvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.GET("/exports/download", ingestHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(cfg.JWT.Secret))

	operators := authed.Group("")
	operators.Use(middleware.RBAC(models.RoleAdmin, models.RoleOperator))
	operators.POST("/ingest/preview", ingestHandler.Preview)
	operators.POST("/ingest/commit", middleware.Audit(auditRepo, models.AuditActionIngestCommit, "upload_batch"), ingestHandler.Commit)
	operators.POST("/ingest/batches/:id/export", ingestHandler.Export)
	operators.GET("/ingest/batches/:id/report.pdf", ingestHandler.ReportPDF)
	operators.PUT("/registrations/:id/attendance", registrationHandler.ToggleAttendance)
	operators.PUT("/activities/:id/attendance", registrationHandler.BulkToggleAttendance)
	operators.POST("/registry/reconcile-preview", registrationHandler.ReconcilePreview)
	operators.GET("/review/items", reviewHandler.List)
	operators.GET("/review/items/:id", reviewHandler.Get)
	operators.POST("/review/items/:id/decision", reviewHandler.Decide)
	operators.POST("/review/scan", reviewHandler.Scan)
	operators.GET("/review/stats", reviewHandler.Stats)
	operators.GET("/metadata-values", catalogHandler.Autocomplete)
	operators.GET("/catalog/:kind", catalogHandler.List)
	operators.GET("/catalog/:kind/mappings", catalogHandler.ListMappings)

	admins := authed.Group("")
	admins.Use(middleware.RBAC(models.RoleAdmin))
	admins.POST("/catalog/:kind", catalogHandler.Create)
	admins.DELETE("/catalog/:kind/:id", catalogHandler.Deactivate)
	admins.POST("/catalog/:kind/mappings", catalogHandler.MapUnknown)
	admins.PATCH("/persons/:id", personHandler.Edit)
	admins.POST("/persons/backfill", personHandler.Backfill)

	viewers := authed.Group("")
	viewers.Use(middleware.RBAC(models.RoleAdmin, models.RoleOperator, models.RoleViewer))
	viewers.GET("/registrations", registrationHandler.List)
	viewers.GET("/persons/:id", personHandler.Get)
	viewers.GET("/indicators", indicatorsHandler.Query)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
