package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/tradevault/backend/src/config"
	"github.com/username/tradevault/backend/src/database"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/handlers"
	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/security"
	"github.com/username/tradevault/backend/src/services"
	"github.com/username/tradevault/backend/src/store"
	"golang.org/x/time/rate"
)

var limiter *rate.Limiter

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(config.Cfg.AllowedOrigins))
	for _, origin := range config.Cfg.AllowedOrigins {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, X-Sync-Key, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Tradevault backend server starting...")

	limiter = rate.NewLimiter(rate.Every(config.Cfg.RateLimitInterval), config.Cfg.RateLimitBurst)

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(config.Cfg.ReportCacheTTL, config.Cfg.ReportCacheCleanup)
	logger.L.Info("Report cache initialized.")

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	orderStore := store.NewSQLiteStore(database.DB)
	tradeEngine := engine.New(orderStore)

	journalService := services.NewJournalService(
		tradeEngine, orderStore,
		config.Cfg.SyncChannelKeyHash,
		reportCache,
	)

	uploadHandler := handlers.NewUploadHandler(journalService)
	syncHandler := handlers.NewSyncHandler(journalService)
	tradeHandler := handlers.NewTradeHandler(journalService)
	rebuildHandler := handlers.NewRebuildHandler(journalService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	// Worker route authenticated by channel key, not a user token.
	apiRouter.HandleFunc("POST /api/sync/orders", syncHandler.HandleSyncOrders)

	applyAuth := func(handler http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(authService, handler)
	}

	apiRouter.Handle("POST /api/upload", applyAuth(uploadHandler.HandleUpload))
	apiRouter.Handle("POST /api/trades/rebuild", applyAuth(rebuildHandler.HandleRebuild))
	apiRouter.Handle("GET /api/trades", applyAuth(tradeHandler.HandleGetTrades))
	apiRouter.Handle("GET /api/trades/summary", applyAuth(tradeHandler.HandleGetTradeSummary))
	apiRouter.Handle("GET /api/positions", applyAuth(tradeHandler.HandleGetPositions))
	apiRouter.Handle("PUT /api/trades/{tradeKey}/annotation", applyAuth(tradeHandler.HandleSaveAnnotation))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "TRADEVAULT Backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
