package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"llmdash/internal/balancer"
	"llmdash/internal/config"
	"llmdash/internal/handlers"
	"llmdash/internal/heatmap"
	"llmdash/internal/middleware"
	"llmdash/internal/models"
	"llmdash/internal/store"
	"llmdash/internal/utils"
	"llmdash/internal/version"
)

type App struct {
	cfg         *config.Config
	store       *store.Store
	logger      *utils.Logger
	wsHub       *middleware.Hub
	rateLimiter *middleware.RateLimiter
	tokens      *middleware.TokenValidator
	balancer    *balancer.Balancer
	poller      *heatmap.Poller
	sink        *handlers.FrameBroadcaster
	seed        *handlers.SeedAction
}

var app *App

func main() {
	configPath := flag.String("config", "llmdash.yaml", "path to the configuration file")
	flag.Parse()

	// Set Gin mode
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger := utils.NewLogger(cfg.Logging.File)
	defer logger.Close()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	defer st.Close()

	// Initialize application
	app = &App{
		cfg:         cfg,
		store:       st,
		logger:      logger,
		wsHub:       middleware.NewHub(logger),
		rateLimiter: middleware.NewRateLimiter(rate.Every(time.Minute/100), 10),
		tokens:      middleware.NewTokenValidator(cfg.Auth.Secret),
	}
	app.balancer = balancer.New(st, cfg.Balancer.Strategy, cfg.NodeTimeout(), logger)
	app.sink = handlers.NewFrameBroadcaster(app.wsHub)
	app.seed = handlers.NewSeedAction(st)
	app.poller = heatmap.NewPoller(utilizationSource(cfg, st), app.seed, app.sink, logger, cfg.PollInterval())

	if !app.tokens.Enabled() {
		logger.Write("API token validation disabled: no auth secret configured")
	}

	// Start background services
	go app.wsHub.Run()
	app.balancer.Start(cfg.HealthInterval(), cfg.MetricsInterval())
	app.poller.Start()

	r := setupRouter()

	// Set up graceful shutdown
	srv := &http.Server{
		Addr:           ":" + strconv.Itoa(cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	if cfg.Server.TLSEnabled {
		if cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "" {
			log.Fatalf("TLS is enabled but %s or %s not provided", config.EnvTLSCert, config.EnvTLSKey)
		}
		go func() {
			log.Printf("Starting llmdash %s HTTPS server on port %d", version.String(), cfg.Server.Port)
			if err := srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTPS server failed to start: %v", err)
			}
		}()
	} else {
		go func() {
			log.Printf("Starting llmdash %s server on port %d", version.String(), cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server failed to start: %v", err)
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop the poller and fleet monitor first so no renders race shutdown
	app.poller.Stop()
	app.balancer.Stop()
	app.rateLimiter.Stop()

	// Give server 5 seconds to finish handling requests
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

// utilizationSource selects the poller's data source: the in-process store
// by default, or a remote utilization endpoint when one is configured.
func utilizationSource(cfg *config.Config, st *store.Store) heatmap.Source {
	if cfg.Poll.UtilizationURL != "" {
		return heatmap.NewHTTPSource(cfg.Poll.UtilizationURL, cfg.Poll.Token)
	}
	return &heatmap.StoreSource{Provider: func(ctx context.Context) (*models.UtilizationEnvelope, error) {
		snapshots, err := st.UtilizationSnapshots(ctx)
		if err != nil {
			return nil, err
		}
		return &models.UtilizationEnvelope{
			Status:    models.StatusSuccess,
			Data:      snapshots,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil
	}}
}

func setupRouter() *gin.Engine {
	r := gin.New()

	// Add recovery middleware
	r.Use(gin.Recovery())

	// Add custom logging middleware
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Security middleware
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	// Rate limiting - 100 requests per minute per IP
	r.Use(app.rateLimiter.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.String()})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize handlers
	systemHandlers := handlers.NewSystemHandlers(app.store, app.poller, app.seed, app.balancer, app.wsHub, app.logger)
	serverHandlers := handlers.NewServerHandlers(app.store, app.logger)

	// API routes (require a token from the external identity service)
	api := r.Group("/api")
	api.Use(app.tokens.RequireAPIAuth())
	{
		api.GET("/health", systemHandlers.APIHealth)
		api.GET("/gpu/utilization", systemHandlers.APIGPUUtilization)
		api.GET("/gpu/seed-demo-data", systemHandlers.APISeedDemoData)
		api.GET("/gpu/history/:server_id", systemHandlers.APIGPUHistory)
		api.GET("/gpu/heatmap", app.sink.APIHeatmap)
		api.POST("/gpu/refresh", func(c *gin.Context) {
			app.poller.RefreshNow(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/llm/select", systemHandlers.APISelectServer)
		api.GET("/servers", serverHandlers.APIServers)
		api.POST("/servers", serverHandlers.APIServerCreate)
		api.PUT("/servers/:server_id", serverHandlers.APIServerUpdate)
		api.POST("/servers/:server_id/deactivate", serverHandlers.APIServerDeactivate)
	}

	// WebSocket endpoint
	r.GET("/ws", app.wsHub.HandleWebSocket())

	return r
}
