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
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/talkpay/backend/docs"
	"github.com/talkpay/backend/internal/config"
	"github.com/talkpay/backend/internal/database"
	"github.com/talkpay/backend/internal/handlers"
	mW "github.com/talkpay/backend/internal/middleware"
	"github.com/talkpay/backend/internal/services"
)

// @title TalkPay Ledger API
// @version 1.0
// @description Double-entry ledger and billing engine for monetized chat and calls
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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
	docs.SwaggerInfo.Title = "TalkPay Ledger API"
	docs.SwaggerInfo.Description = "Double-entry ledger and billing engine for monetized chat and calls"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	billingCfg := config.LoadBillingConfig()

	// Initialize services
	accountService := services.NewAccountService(db, billingCfg.Currency)
	if err := accountService.EnsureSystemAccounts(); err != nil {
		log.Fatalf("Failed to ensure system accounts: %v", err)
	}

	billing := services.NewBillingPolicy(billingCfg)
	notifier := services.NewBalanceNotifier(redisClient)
	engine := services.NewLedgerService(db, billing, notifier)

	payoutService := services.NewPayoutService(db, redisClient, engine)
	intentService := services.NewTopUpIntentService(redisClient, billingCfg.Currency)
	walletService := services.NewWalletService(db, engine, payoutService, intentService)
	chatBilling := services.NewChatBillingService(db, engine)
	callBilling := services.NewCallBillingService(engine)
	authService := services.NewAuthService(db, redisClient, accountService)
	topUpQRHandler := handlers.NewTopUpQRHandler(intentService, billingCfg.MinTopUp)

	// Payout worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if redisClient != nil {
		go payoutService.Run(workerCtx)
	} else {
		log.Println("Redis unavailable, payout worker disabled")
	}

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

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Collaborator callbacks. Authenticated by gateway signature at the
		// edge proxy, not by user tokens.
		r.Post("/wallet/topup/confirm", walletService.ConfirmTopUp)
		r.Post("/payouts/status", payoutService.HandlePayoutStatus)

		// Internal service-to-service billing endpoints
		r.Post("/chat/charge", chatBilling.ChargeMessage)
		r.Post("/calls/start", callBilling.StartCall)
		r.Post("/calls/end", callBilling.EndCall)
		r.Post("/calls/cancel", callBilling.CancelCall)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware(redisClient))

			r.Get("/auth/profile", authService.GetProfile)

			r.Get("/wallet/balance", walletService.GetBalance)
			r.Get("/wallet/transactions", walletService.ListTransactions)
			r.Post("/wallet/withdraw", walletService.RequestWithdrawal)
			r.Post("/wallet/topup/intent", topUpQRHandler.CreateIntent)
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
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
