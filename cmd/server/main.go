package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/innkeep/backend/docs"
	"github.com/innkeep/backend/internal/database"
	"github.com/innkeep/backend/internal/handlers"
	mW "github.com/innkeep/backend/internal/middleware"
	"github.com/innkeep/backend/internal/models"
	"github.com/innkeep/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Hotel Ledger & Settlement API
// @version 1.0
// @description Ledger and settlement engine for hotel property management
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Hotel Ledger & Settlement API"
	docs.SwaggerInfo.Description = "Ledger and settlement engine for hotel property management"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	walletService := services.NewWalletService(db)
	reconciliationService := services.NewReconciliationService(db, redisClient)
	paymentService := services.NewPaymentService(db, redisClient, walletService,
		reconciliationService, services.NewCreditLimitValidator(db))
	receivableService := services.NewReceivableService(db)
	checkoutService := services.NewCheckoutService(db, redisClient, paymentService, receivableService)
	feeConfigService := services.NewFeeConfigService(db)
	authService := services.NewAuthService(db, redisClient)
	qrOrderService := services.NewQROrderService(redisClient, feeConfigService)
	qrHandler := handlers.NewQRHandler(qrOrderService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for property logos
	r.Handle("/static/property-logos/*", http.StripPrefix("/static/property-logos/",
		mW.StaticFileServer("./static/property-logos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Post("/qr/resolve", qrHandler.ResolveQR)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Payment recording
			r.Post("/payments", paymentService.RecordPayment)
			r.Get("/payments/{paymentId}", paymentService.GetPayment)

			// Checkout settlement
			r.Post("/checkout", checkoutService.CompleteCheckout)

			// Wallet ledger
			r.Get("/wallets/{walletId}/balance", walletService.GetWalletBalance)
			r.Get("/wallets/{walletId}/entries", walletService.ListWalletEntries)

			// Receivables
			r.Get("/receivables", receivableService.ListReceivables)
			r.Put("/receivables/{receivableId}", receivableService.TransitionReceivable)

			// Platform fee configuration (owner/manager only)
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRoles(models.RoleOwner, models.RoleManager))
				r.Get("/fees/config", feeConfigService.GetFeeConfig)
				r.Put("/fees/config", feeConfigService.UpdateFeeConfig)
			})

			// Reconciliation export
			r.Post("/reconciliation/export", reconciliationService.ExportReconciliation)

			// Guest ordering QR
			r.Post("/qr/generate", qrHandler.GenerateQR)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
