package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"budgettracker/internal/cache"
	"budgettracker/internal/config"
	"budgettracker/internal/database"
	_ "budgettracker/internal/docs" // Import swagger docs
	"budgettracker/internal/handlers"
	"budgettracker/internal/logger"
	"budgettracker/internal/middleware"
	"budgettracker/internal/models"
	"budgettracker/internal/realtime"
	"budgettracker/internal/services"
	"budgettracker/internal/validator"
)

// @title           Budget Tracker API
// @version         1.0
// @description     Personal budget tracker: record income and expenses, follow them live and move them in and out as CSV.
// @termsOfService  http://swagger.io/terms/

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

const (
	busLocal    = "local"
	busPostgres = "postgres"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// Initialize logger (use ENV var if available, default to development)
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create database manager
	dbManager, err := database.NewManager(database.FromAppConfig(appConfig))
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			log.Warnw("failed to close database", "error", err)
		}
	}()

	// Run migrations
	if err := dbManager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	var snapshots *cache.SnapshotCache
	if appConfig.SnapshotCache {
		snapshots, err = cache.New(cache.DefaultTTL)
		if err != nil {
			return fmt.Errorf("failed to create snapshot cache: %w", err)
		}
		defer snapshots.Close()
	}

	// Initialize services
	db := dbManager.DB()
	var transactionService services.TransactionServicer
	hub := realtime.NewHub(func(ctx context.Context, ownerID string) ([]models.Transaction, error) {
		return transactionService.ListTransactions(ctx, ownerID, services.TransactionFilter{})
	})
	defer hub.Close()

	var notifier services.ChangeNotifier = hub
	switch appConfig.RealtimeBus {
	case busLocal, "":
	case busPostgres:
		pool, err := dbManager.PGXPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		bus := realtime.NewPGBus(pool, realtime.DefaultChannel)
		notifier = bus
		g.Go(func() error {
			// Changes may come from another instance, so the local cache cannot be trusted.
			return bus.Listen(gctx, func(ownerID string) {
				snapshots.Invalidate(ownerID)
				hub.Notify(ownerID)
			})
		})
	default:
		return fmt.Errorf("unsupported realtime bus %q", appConfig.RealtimeBus)
	}

	userService := services.NewUserService(db)
	auditService := services.NewAuditService(db)
	transactionService = services.NewTransactionService(db, snapshots, notifier)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userService, auditService)
	transactionHandler := handlers.NewTransactionHandler(transactionService, auditService, hub)

	validator.Register()

	// Initialize Gin router
	if appConfig.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CORS(appConfig.CORSOrigin))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 group
	v1 := router.Group("/api/v1")

	// Public routes
	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.AuthMiddleware(), authHandler.Logout)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware())

	// User profile
	protected.GET("/profile", authHandler.GetProfile)

	// Transaction routes
	transactions := protected.Group("/transactions")
	transactions.GET("", transactionHandler.ListTransactions)
	transactions.POST("", transactionHandler.CreateTransaction)
	transactions.GET("/search", transactionHandler.SearchTransactions)
	transactions.GET("/stream", transactionHandler.StreamTransactions)
	transactions.GET("/export", transactionHandler.ExportTransactions)
	transactions.POST("/import", transactionHandler.ImportTransactions)
	transactions.GET("/summary", transactionHandler.GetSummary)
	transactions.GET("/:id", transactionHandler.GetTransactionByID)
	transactions.DELETE("/:id", transactionHandler.DeleteTransaction)

	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the server context is cancelled.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		log.Infof("Starting budget tracker API on port %s", appConfig.Port)
		log.Infof("Swagger documentation available at http://localhost:%s/swagger/index.html", appConfig.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
