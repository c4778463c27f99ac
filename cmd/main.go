package main

import (
	_ "booklend/docs"
	"booklend/internal/api"
	"booklend/internal/api/middleware"
	"booklend/internal/batch"
	"booklend/internal/config"
	"booklend/internal/domain/book"
	"booklend/internal/domain/loan"
	"booklend/internal/event"
	"booklend/internal/infrastructure/database/memory"
	"booklend/internal/infrastructure/database/postgres"
	"booklend/internal/infrastructure/logging"
	"booklend/internal/pkg/retry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// @title Booklend API
// @version 1.0
// @description Book lending: catalog, borrow, renew and return.

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, logger := initializeApp()
	if err := validateConfig(cfg); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := initializeStorage(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	rabbitMQConn := setupRabbitMQ(cfg, logger)
	publisher := initializePublisher(cfg, rabbitMQConn, logger)
	redisClient := initializeRedisClient(cfg, logger)
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg.Server.RateLimit, redisClient, logger)

	reservationService, bookService := initializeServices(cfg, store, publisher, logger)

	overdueJob, err := batch.NewOverdueScanJob(store.overdue, publisher, cfg.Loan.LateFeePerDay, logger,
		batch.WithConcurrency(cfg.Batch.Concurrency))
	if err != nil {
		logger.Error("Failed to create overdue scan job", "error", err)
		os.Exit(1)
	}
	cronScheduler := startBatchJobs(cfg, overdueJob, logger)

	router := api.SetupRouter(rateLimiter, reservationService, bookService, cfg, logger)
	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)

	handleShutdown(srv, cronScheduler, shutdownChan, serverErrors, logger,
		rateLimiter.Stop,
		func() { closeRabbitMQConnection(rabbitMQConn, logger) },
		func() { closeRedisClient(redisClient, logger) },
	)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logger)
	logger.Info("Application starting...", "driver", cfg.Database.Driver)
	return cfg, logger
}

func validateConfig(cfg *config.Config) error {
	if cfg.Server.Auth.Enabled && cfg.Server.Auth.JWTSecret == "" {
		return errors.New("server.auth.jwtSecret is required when auth is enabled")
	}
	switch cfg.Database.Driver {
	case config.DriverPostgres, config.DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return nil
}

// storage bundles the ports one driver provides.
type storage struct {
	loans   loan.Store
	ledger  loan.InventoryLedger
	books   book.Reader
	overdue batch.OverdueFinder
	close   func()
}

func initializeStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return initializeMemoryStorage(cfg, logger)
	}

	logger.Info("Initializing database connection pool...")
	dbPool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, dbPool, logger); err != nil {
			dbPool.Close()
			return nil, err
		}
	}

	loanRepo := postgres.NewLoanRepository(dbPool, cfg.Database.LockTimeout, logger)
	bookRepo := postgres.NewBookRepository(dbPool, logger)
	return &storage{
		loans:   loanRepo,
		ledger:  bookRepo,
		books:   bookRepo,
		overdue: loanRepo,
		close: func() {
			logger.Info("Closing database connection pool...")
			dbPool.Close()
		},
	}, nil
}

func initializeMemoryStorage(cfg *config.Config, logger *slog.Logger) (*storage, error) {
	logger.Warn("Using in-memory storage; data is lost on restart")
	store := memory.NewStore(logger, memory.WithLockTimeout(cfg.Database.LockTimeout))

	for _, seed := range cfg.Catalog.Books {
		if _, err := store.AddBook(book.Book{
			Title:      seed.Title,
			Author:     seed.Author,
			Genre:      seed.Genre,
			Summary:    seed.Summary,
			StockCount: seed.StockCount,
		}); err != nil {
			return nil, fmt.Errorf("failed to seed book %q: %w", seed.Title, err)
		}
	}
	logger.Info("Seeded catalog", "books", len(cfg.Catalog.Books))

	return &storage{loans: store, ledger: store, books: store, overdue: store, close: func() {}}, nil
}

func buildPolicy(cfg config.LoanConfig) loan.Policy {
	return loan.Policy{
		MaxActiveLoans:    cfg.MaxActiveLoans,
		DefaultBorrowDays: cfg.DefaultBorrowDays,
		DefaultRenewDays:  cfg.DefaultRenewDays,
	}
}

// retryOptions skips unset values so retry keeps its own defaults for them.
func retryOptions(cfg config.ReservationConfig) []retry.Option {
	var opts []retry.Option
	if cfg.MaxAttempts > 0 {
		opts = append(opts, retry.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.BaseDelay > 0 {
		opts = append(opts, retry.WithBaseDelay(cfg.BaseDelay))
	}
	if cfg.JitterFactor > 0 && cfg.JitterFactor <= 1 {
		opts = append(opts, retry.WithJitterFactor(cfg.JitterFactor))
	}
	return opts
}

func initializeServices(cfg *config.Config, store *storage, publisher event.Publisher, logger *slog.Logger) (loan.ReservationService, book.BookService) {
	logger.Info("Initializing application components...")
	reservationService := loan.NewReservationService(store.loans, store.ledger, buildPolicy(cfg.Loan), logger,
		loan.WithPublisher(publisher),
		loan.WithRetry(retryOptions(cfg.Reservation)...),
	)
	return reservationService, book.NewBookService(store.books, logger)
}

func initializePublisher(cfg *config.Config, conn *amqp.Connection, logger *slog.Logger) event.Publisher {
	if conn == nil {
		logger.Info("Loan events will not be published")
		return event.NopPublisher{}
	}
	publisher, err := event.NewRabbitMQEventPublisher(conn, cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		logger.Error("Failed to create RabbitMQ publisher, events will not be published", "error", err)
		return event.NopPublisher{}
	}
	return publisher
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on port %d", cfg.Server.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

// handleShutdown stops intake first, then the scheduler, then the outbound clients in order.
func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, shutdownChan <-chan os.Signal, serverErrors <-chan error,
	logger *slog.Logger, closers ...func()) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	select {
	case sig := <-shutdownChan:
		logger.Info("Shutdown signal received.", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil {
			logger.Error("Server exited unexpectedly", "error", err)
		}
	}

	logger.Info("Starting graceful shutdown...")
	shutdownHTTPServer(srv, logger)
	stopCronScheduler(cronScheduler, logger)
	for _, closeFn := range closers {
		closeFn()
	}
	logger.Info("Application shutdown process complete.")
}

func shutdownHTTPServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
		return
	}
	logger.Info("HTTP server gracefully stopped.")
}

func stopCronScheduler(cronScheduler *cron.Cron, logger *slog.Logger) {
	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}
}

func startBatchJobs(cfg *config.Config, overdueJob *batch.OverdueScanJob, logger *slog.Logger) *cron.Cron {
	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	if _, err := overdueJob.Schedule(c, cfg.Batch.OverdueScanSchedule, cfg.Batch.OverdueScanTimeout); err != nil {
		logger.Error("Overdue scan will not run", slog.Any("error", err))
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func initializeRedisClient(cfg *config.Config, logger *slog.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		logger.Info("Redis disabled; rate limiting stays in-process")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis, rate limiting stays in-process", "error", err, "addr", cfg.Redis.Addr)
		_ = rdb.Close()
		return nil
	}

	logger.Info("Redis client connected successfully.", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	return rdb
}

func closeRedisClient(redisClient *redis.Client, logger *slog.Logger) {
	if redisClient == nil {
		return
	}
	logger.Info("Closing Redis client connection...")
	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis client connection gracefully", "error", err)
	}
}

func rabbitMQURI(cfg config.RabbitMQConfig) (string, error) {
	if cfg.Host == "" {
		return "", errors.New("RabbitMQ host is not configured")
	}
	if (cfg.Username == "") != (cfg.Password == "") {
		return "", errors.New("RabbitMQ username and password must be provided together")
	}

	port := cfg.Port
	if port == 0 {
		port = 5672
	}
	if cfg.Username != "" {
		return fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.Username, cfg.Password, cfg.Host, port), nil
	}
	return fmt.Sprintf("amqp://%s:%d/", cfg.Host, port), nil
}

func setupRabbitMQ(cfg *config.Config, logger *slog.Logger) *amqp.Connection {
	if !cfg.RabbitMQ.Enabled {
		return nil
	}

	uri, err := rabbitMQURI(cfg.RabbitMQ)
	if err != nil {
		logger.Error("Invalid RabbitMQ configuration", "error", err)
		return nil
	}

	conn, err := connectRabbitMQ(uri, logger)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		return nil
	}
	return conn
}

func connectRabbitMQ(uri string, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	retryCount := 5
	for i := 1; i <= retryCount; i++ {
		conn, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ")

			go func() {
				closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
				if e := <-closeChan; e != nil {
					logger.Error("RabbitMQ Connection Closed", slog.Any("error", e))
				}
			}()

			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying...",
			slog.Int("attempt", i),
			slog.Int("max_attempts", retryCount),
			slog.Any("error", err),
		)
		time.Sleep(time.Duration(i*2) * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", retryCount, err)
}

func closeRabbitMQConnection(rabbitConn *amqp.Connection, logger *slog.Logger) {
	if rabbitConn == nil || rabbitConn.IsClosed() {
		return
	}
	logger.Info("Closing RabbitMQ connection...")
	if err := rabbitConn.Close(); err != nil {
		logger.Error("Failed to close RabbitMQ connection gracefully", slog.Any("error", err))
	}
}
