package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"backbone/internal/config"
	"backbone/internal/constants"
	"backbone/internal/event"
	"backbone/internal/logger"
	"backbone/internal/saga"
	"backbone/pkg/bootstrap"
	"backbone/pkg/circuitbreaker"
	"backbone/pkg/health"
	"backbone/pkg/metrics"
)

const serviceName = "backbone-service"

type App struct {
	*bootstrap.Base
	redisConnector *bootstrap.RedisConnector
	redisClient    *redis.Client
	dispatcher     *event.Dispatcher
	relay          *event.Relay
	coordinator    *saga.Coordinator
	registry       *saga.Registry
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:           bootstrap.NewBase(cfg, log),
		redisConnector: bootstrap.NewRedisConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	client, err := a.redisConnector.Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.redisClient = client

	if err := a.InitBroker(ctx, client); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	store := event.NewRedisStore(client, a.Config.Outbox.Stream)
	a.dispatcher = event.NewDispatcher(store, a.Broker, a.Config.Broker, a.Logger)
	a.relay = event.NewRelay(store, a.Broker, a.Config.Outbox, a.Config.Broker.EventStream, a.Logger)

	a.registry = saga.NewRegistry()
	a.coordinator = saga.NewCoordinator(saga.NewRedisStore(client), a.registry, a.dispatcher, a.Config.Saga, a.Logger)

	metrics.RegisterBrokerMetrics()
	metrics.RegisterDispatcherMetrics()
	metrics.RegisterSagaMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
		a.coordinator.SetBreaker(circuitbreaker.NewWrapper(a.breakerConfig()))
	}

	a.registerLifecycleHandler()
	a.initHTTPServer()

	return nil
}

func (a *App) breakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("saga-steps")
	if a.Config.CircuitBreaker.MaxRequests > 0 {
		cfg.MaxRequests = a.Config.CircuitBreaker.MaxRequests
	}
	if a.Config.CircuitBreaker.Interval > 0 {
		cfg.Interval = a.Config.CircuitBreaker.Interval
	}
	if a.Config.CircuitBreaker.Timeout > 0 {
		cfg.Timeout = a.Config.CircuitBreaker.Timeout
	}
	if a.Config.CircuitBreaker.FailureRatio > 0 {
		minRequests := a.Config.CircuitBreaker.MinRequests
		if minRequests == 0 {
			minRequests = 3
		}
		ratio := a.Config.CircuitBreaker.FailureRatio
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		}
	}
	return cfg
}

// registerLifecycleHandler logs saga lifecycle alerts flowing back through
// the event stream; it also keeps at least one handler exercising the
// dispatcher in a default deployment.
func (a *App) registerLifecycleHandler() {
	a.dispatcher.RegisterHandler(event.TypeSystemAlert, func(ctx context.Context, ev event.Event) error {
		a.Logger.InfowCtx(ctx, "System alert received",
			"source_service", ev.Source,
			"payload", ev.Payload,
		)
		return nil
	})
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.Config.Broker.RabbitMQ.Host != "" {
		healthRegistry.RegisterOptional(health.NewRabbitMQChecker(a.Broker.QueueConnected))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Broker.Stats())
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		return a.runHTTPServer(gCtx)
	})

	g.Go(func() error {
		return a.relay.Run(gCtx)
	})

	g.Go(func() error {
		return a.dispatcher.Run(gCtx, a.consumerName())
	})

	g.Go(func() error {
		return a.coordinator.RunSweeper(gCtx)
	})

	return g.Wait()
}

// runHTTPServer serves until the context is canceled, then drains in-flight
// requests. Without the shutdown leg, ListenAndServe would block forever and
// wedge the errgroup on SIGTERM.
func (a *App) runHTTPServer(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return <-errCh
	}
}

func (a *App) consumerName() string {
	if a.Config.Broker.ConsumerName != "" {
		return a.Config.Broker.ConsumerName
	}
	hostname, err := os.Hostname()
	if err != nil {
		return serviceName
	}
	return fmt.Sprintf("%s-%s", serviceName, hostname)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Infow("Shutting down backbone service")

	// The HTTP server is drained by runHTTPServer before Run returns.
	additionalShutdown := func(ctx context.Context) []error {
		return a.redisConnector.Shutdown(a.redisClient)
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
