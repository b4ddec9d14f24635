package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"raffle/internal/cache"
	"raffle/internal/config"
	"raffle/internal/handlers"
	"raffle/internal/logging"
	"raffle/internal/notify"
	"raffle/internal/payment"
	"raffle/internal/services"
	"raffle/internal/store"
)

func main() {
	os.Exit(run())
}

// run wires the service and returns the process exit code. Deferred cleanup
// runs before main exits.
func run() int {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		return 1
	}

	// 2. Initialize logging
	defer logging.Init(logging.Options{
		Name:       cfg.Log.Name,
		File:       cfg.Log.File,
		Verbose:    cfg.Log.Verbose,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the store
	st, err := store.New(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		logger.Errorf("Failed to open store %s: %v", cfg.Database.Path, err)
		return 1
	}
	defer st.Close()

	// 4. Set up the product cache
	var productCache cache.ProductCache
	var memoryCache *cache.Memory
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(cfg.Redis.Addr)
		if err != nil {
			logger.Errorf("Failed to connect to redis: %v", err)
			return 1
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warningf("Redis ping failed, continuing: %v", err)
		}
		productCache = cache.NewRedis(client, cfg.Redis.TTL)
	} else {
		memoryCache = cache.NewMemory(cfg.Redis.TTL)
		productCache = memoryCache
	}

	// 5. Initialize the services
	catalog := services.NewCatalogService(st, productCache)
	gateway := payment.NewMocked(cfg.Payment.DeclineRate)
	settler := services.NewSettlementProcessor(st, gateway, catalog, cfg.Payment.Timeout)
	batches := services.NewBatchOrchestrator(settler, cfg.Raffle.Workers, cfg.Raffle.MaxAttempts, cfg.Raffle.RetryBackoff)
	selector := services.NewWinnerSelector(catalog, st, batches)
	raffle := services.NewRaffleService(catalog, selector, cfg.Raffle.Workers)
	scheduler := services.NewScheduler(raffle, st, cfg.Raffle.Interval, cfg.Raffle.ReservationTTL)
	if memoryCache != nil {
		scheduler.SetCacheSweeper(memoryCache)
	}
	entries := services.NewEntryService(st, st, catalog)

	// 6. Set up event delivery
	var publisher notify.Publisher = notify.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		if err != nil {
			logger.Errorf("Failed to create kafka publisher: %v", err)
			return 1
		}
		defer kp.Close()
		publisher = kp
	}
	dispatcher := notify.NewDispatcher(st, publisher, cfg.Outbox.Interval, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts)

	// One-shot mode: run the raffle once, wait for settlements, flush the
	// events they produced and exit.
	if len(os.Args) > 1 && os.Args[1] == "start-raffle" {
		if err := startRaffle(ctx, scheduler, dispatcher); err != nil {
			logger.Errorf("Raffle run failed: %v", err)
			return 1
		}
		return 0
	}

	// 7. Start the background workers
	var wg sync.WaitGroup
	dispatcher.Start(ctx, &wg)
	scheduler.Start(ctx, &wg)

	// 8. Set up the Gin router
	httpHandler := handlers.NewHTTPHandler(entries, catalog, scheduler, st, st, st)
	r := gin.New()
	r.Use(gin.Recovery())
	httpHandler.RegisterPublicRoutes(r)

	userRoutes := r.Group("/")
	userRoutes.Use(httpHandler.UserMiddleware())
	httpHandler.RegisterUserRoutes(userRoutes)

	httpHandler.RegisterAdminRoutes(r.Group("/admin"))

	// 9. Run the server until a signal arrives
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("Server shutdown: %v", err)
	}
	wg.Wait()

	select {
	case err := <-serveErr:
		logger.Errorf("Failed to run server: %v", err)
		return 1
	default:
		return 0
	}
}

func startRaffle(ctx context.Context, scheduler *services.Scheduler, dispatcher *notify.Dispatcher) error {
	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	results, err := report.Wait(ctx)
	for _, res := range results {
		logger.Infof("Batch %s: total=%d settled=%d failed=%d", res.Name, res.Total, res.Settled, res.Failed)
	}
	if err != nil {
		return err
	}
	sent, err := dispatcher.Drain(ctx)
	logger.Infof("Published %d events", sent)
	return err
}
