package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/expotoworld/storefront/internal/api"
	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/config"
	"github.com/expotoworld/storefront/internal/db"
	"github.com/expotoworld/storefront/internal/logging"
	"github.com/expotoworld/storefront/internal/storage"
	"github.com/expotoworld/storefront/internal/upload"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Ensure all log output goes to stdout so App Runner captures it in Application Logs
	log.SetOutput(os.Stdout)

	log.Printf("Storefront catalog starting (GIT_SHA=%s BUILD_TIME=%s)", os.Getenv("GIT_SHA"), os.Getenv("BUILD_TIME"))

	cfg := config.Load()

	// Initialize database connection (non-fatal; allow process to start for /live)
	database, err := db.NewDatabase()
	if err != nil {
		log.Printf("[WARN] Database initialization failed at startup: %v", err)
	}
	if database != nil {
		defer database.Close()
		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := database.Init(initCtx); err != nil {
			log.Printf("[WARN] Schema initialization failed: %v", err)
		}
		cancel()
	}

	blobs, err := newBlobStore(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize %s storage: %v", cfg.Storage.Driver, err)
	}
	observer, err := storage.NewPrometheusObserver("", prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register storage metrics: %v", err)
	}
	blobs = storage.Instrument(blobs, observer)

	gateway := upload.NewGateway(blobs, cfg.Bucket, cfg.MaxUploadBytes)

	var handler *api.Handler
	var reconcileService *catalog.ReconcileService
	if database != nil {
		reconciler := catalog.NewReconciler(database, blobs, cfg.Bucket, cfg.OrphanGrace)
		handler = api.NewHandler(
			database,
			catalog.NewCoordinator(database),
			catalog.NewImageManager(database, database, blobs, cfg.Bucket),
			gateway,
			reconciler,
		)
		if cfg.ReconcileInterval > 0 {
			reconcileService = catalog.NewReconcileService(reconciler, cfg.ReconcileInterval)
			reconcileService.Start()
		}
	} else {
		handler = api.NewHandler(nil, unavailableCatalog{}, unavailableCatalog{}, gateway, nil)
	}
	handler.MaxUploadBytes = cfg.MaxUploadBytes

	router := setupRouter(cfg, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Set up graceful shutdown
	go func() {
		log.Printf("Starting server on port %s (storage=%s bucket=%s)", cfg.Port, cfg.Storage.Driver, cfg.Bucket)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if reconcileService != nil {
		reconcileService.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
}

func newBlobStore(ctx context.Context, sc config.StorageConfig) (storage.Store, error) {
	switch sc.Driver {
	case config.DriverS3:
		s3Store, err := storage.NewS3Store(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	case config.DriverLocal:
		if err := os.MkdirAll(sc.LocalDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewFilesystemStore(sc.LocalDir, sc.PublicBaseURL), nil
	default:
		return nil, errors.New("unknown STORAGE_DRIVER " + sc.Driver)
	}
}

func setupRouter(cfg config.Config, handler *api.Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.GinMode == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(logging.JSONLogger())
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigin)))

	// Serve locally stored objects under the same path layout as the object store
	if cfg.Storage.Driver == config.DriverLocal {
		router.Static("/storage/v1/object/public", cfg.Storage.LocalDir)
	}

	// Health and readiness endpoints
	router.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ready", handler.Health)
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	handler.RegisterRoutes(v1, cfg.JWTSecret, cfg.MaintenanceToken)

	// Root endpoint for basic info
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "storefront-catalog",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	return router
}

func corsConfig(origin string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", api.MaintenanceTokenHeader},
		ExposeHeaders: []string{logging.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if origin == "" || origin == "*" {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowOrigins = append(c.AllowOrigins, o)
		}
	}
	c.AllowCredentials = true
	return c
}
