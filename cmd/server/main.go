package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/warden/backend/config"
	"github.com/warden/backend/internal/auth"
	"github.com/warden/backend/internal/cache"
	"github.com/warden/backend/internal/classifier"
	"github.com/warden/backend/internal/database"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/engine"
	"github.com/warden/backend/internal/handlers"
	"github.com/warden/backend/internal/interpreter"
	"github.com/warden/backend/internal/middleware"
	"github.com/warden/backend/internal/platform"
	"github.com/warden/backend/internal/repository"
	"github.com/warden/backend/internal/trust"
	"github.com/warden/backend/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Connect to Redis
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Running without Redis - caching and live feeds are disabled, events are ingested in-process only")
		redis = nil
	} else {
		defer redis.Close()
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	var aiService classifier.Service
	if cfg.Classifier.APIKey != "" {
		gemini, err := classifier.NewGeminiService(cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			log.Fatalf("Failed to initialize classifier: %v", err)
		}
		aiService = gemini
	} else {
		log.Println("Warning: GEMINI_API_KEY not set - all verdicts will be degraded benign")
		aiService = classifier.Disabled{}
	}

	// Initialize repositories
	trustRepo := repository.NewTrustRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	operatorRepo := repository.NewOperatorRepository(db)

	// Trust state machine and ledger
	machine := trust.NewMachine(trust.PolicyFromConfig(cfg.Trust))
	ledger := trust.NewLedger(trustRepo, machine)
	defer ledger.Close()

	// Classifier gateway; the verdict cache and live feed take Redis only
	// when it is actually up.
	var verdictCache classifier.VerdictCache
	var feed dispatcher.FeedPublisher
	var statSink engine.StatSink
	if redis != nil {
		verdictCache = redis
		feed = redis
		statSink = redis
	}

	gateway := classifier.NewGateway(aiService, verdictCache, classifier.GatewayConfig{
		CallTimeout:   cfg.Classifier.CallTimeout,
		MaxAttempts:   cfg.Classifier.MaxAttempts,
		BackoffBase:   cfg.Classifier.BackoffBase,
		MaxConcurrent: cfg.Classifier.MaxConcurrent,
		CacheTTL:      cfg.Classifier.CacheTTL,
		CallsPerSec:   cfg.Classifier.CallsPerSec,
	})

	// Platform bridge and action dispatcher
	var bridge dispatcher.PlatformAPI = platform.LogBridge{}
	if redis != nil {
		bridge = platform.NewRedisBridge(redis.GetClient(), cfg.Dispatcher.ActionChannel)
	}
	disp := dispatcher.NewDispatcher(bridge, auditRepo, feed, dispatcher.Config{
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		CallTimeout: cfg.Dispatcher.CallTimeout,
		BackoffBase: cfg.Dispatcher.BackoffBase,
		FeedChannel: cfg.Engine.AuditChannel,
	})

	// Moderation engine and event consumer
	eng := engine.New(gateway, ledger, machine, disp, feed, statSink, engine.Config{
		QueueDepth:  cfg.Engine.QueueDepth,
		FeedChannel: cfg.Engine.AuditChannel,
	})
	defer eng.Close()

	if redis != nil {
		consumer := engine.NewConsumer(redis, eng, cfg.Engine.EventChannel)
		go consumer.Run(context.Background())
	}

	// Command interpreter
	interp := interpreter.New(aiService, ledger, machine, disp, trustRepo, auditRepo, eng)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(operatorRepo, jwtService)
	trustHandler := handlers.NewTrustHandler(ledger, trustRepo, auditRepo, eng)
	commandHandler := handlers.NewCommandHandler(interp)

	// HTTP event ingress; publishes to the ingest channel when Redis is
	// up so every engine instance sees the event.
	var eventPublisher handlers.EventPublisher
	if redis != nil {
		eventPublisher = redis
	}
	eventHandler := handlers.NewEventHandler(eng, eventPublisher, cfg.Engine.EventChannel)

	// Initialize WebSocket hub (only if Redis is available)
	var wsHandler *websocket.Handler
	if redis != nil {
		hub := websocket.NewHub(redis, cfg.Engine.AuditChannel)
		go hub.Run()
		wsHandler = websocket.NewHandler(hub, jwtService, cfg.CORS.AllowedOrigins)
	}

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitCommandsPerSec)
	rateLimiter.Cleanup()

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Middleware
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Public routes
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	// WebSocket feed (only if Redis is available)
	if wsHandler != nil {
		router.GET("/ws", wsHandler.HandleWebSocket)
	}

	// Protected routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService))
	{
		api.GET("/me", authHandler.GetMe)

		// Natural-language operator commands
		api.POST("/command", middleware.RateLimitMiddleware(rateLimiter), commandHandler.Execute)

		// Platform event ingress
		api.POST("/events", eventHandler.Ingest)

		// Trust queries
		api.GET("/users/:id", trustHandler.GetUser)
		api.GET("/top-risk", trustHandler.GetTopRisk)
		api.GET("/stats", trustHandler.GetStats)
		api.GET("/audit", trustHandler.GetAudit)

		// Connected consoles (only if Redis is available)
		if wsHandler != nil {
			api.GET("/online-operators", wsHandler.GetConnectedOperators)
		}
	}

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Starting Warden server on %s (env: %s)", addr, cfg.Server.Env)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
