// Package server builds the gateway's dependency graph and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/studio-gateway/internal/api"
	"github.com/JakeFAU/studio-gateway/internal/clock/system"
	"github.com/JakeFAU/studio-gateway/internal/config"
	"github.com/JakeFAU/studio-gateway/internal/events"
	eventsinks "github.com/JakeFAU/studio-gateway/internal/events/sinks"
	"github.com/JakeFAU/studio-gateway/internal/id/uuid"
	"github.com/JakeFAU/studio-gateway/internal/lightning"
	"github.com/JakeFAU/studio-gateway/internal/logging"
	"github.com/JakeFAU/studio-gateway/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/studio-gateway/internal/publisher/pubsub"
	"github.com/JakeFAU/studio-gateway/internal/studio"
	"github.com/JakeFAU/studio-gateway/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	studios         *studio.Service
	eventHub        *events.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	telemetry       telemetry.Providers
	closeOnce       sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	logger.Info("creating application",
		zap.String("listen_addr", cfg.Server.Addr()),
		zap.String("lightning_base_url", cfg.Lightning.BaseURL),
		zap.Bool("gateway_auth", cfg.Auth.Enabled),
	)
	app := &App{cfg: cfg, logger: logger}

	providers, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.telemetry = providers

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupEvents(ctx, app, publisher, reg)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	var limiter lightning.Limiter
	if cfg.Lightning.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Lightning.RateLimitRPS,
			Burst: cfg.Lightning.RateLimitBurst,
		})
		logger.Info("per-caller rate limit enabled",
			zap.Float64("rps", cfg.Lightning.RateLimitRPS),
			zap.Int("burst", cfg.Lightning.RateLimitBurst),
		)
	}
	client := lightning.New(lightning.Config{
		BaseURL:      cfg.Lightning.BaseURL,
		WebURL:       cfg.Lightning.WebURL,
		Timeout:      cfg.Lightning.Timeout(),
		UserAgent:    cfg.Lightning.UserAgent,
		Machine:      cfg.Lightning.Machine,
		WaitRunning:  cfg.Lightning.WaitRunning,
		PollInterval: cfg.Lightning.PollInterval(),
		Limiter:      limiter,
	})
	logger.Debug("lightning client configured",
		zap.String("machine", cfg.Lightning.Machine),
		zap.Bool("wait_running", cfg.Lightning.WaitRunning),
		zap.Duration("timeout", cfg.Lightning.Timeout()),
	)

	idGen := uuid.New()
	app.studios = studio.NewService(client, emitter, system.New(), idGen, logger.Named("studio"))
	app.apiServer = api.NewServer(app.studios, idGen, *cfg, logger.Named("api"))
	return app, nil
}

// Studios exposes the studio service for callers that skip HTTP, such as the
// CLI.
func (a *App) Studios() *studio.Service {
	return a.studios
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured address and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, then shuts everything down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readHeaderTimeout := time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		// Requests outlive the signal; Shutdown's timeout bounds the drain.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownTimeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close gracefully shuts down the application. Repeated calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.eventHub != nil {
		if err := a.eventHub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
		if dropped := a.eventHub.Dropped(); dropped > 0 {
			a.logger.Warn("lifecycle events dropped", zap.Int64("count", dropped))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// setupPublisher returns nil when no topic is configured.
func setupPublisher(ctx context.Context, app *App) (eventsinks.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("No Pub/Sub topic configured, lifecycle events will not be published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher, gcppublisher.WithAttributes(map[string]string{
		"source": app.cfg.Telemetry.ServiceName,
	})), nil
}

func setupEvents(
	ctx context.Context,
	app *App,
	publisher eventsinks.Publisher,
	reg prometheus.Registerer,
) (events.Emitter, error) {
	if !app.cfg.Events.Enabled {
		app.logger.Info("lifecycle events disabled")
		return events.NopEmitter{}, nil
	}
	promSink, err := eventsinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("event metrics init failed: %w", err)
	}
	sinkList := []events.Sink{promSink}
	if app.cfg.Events.LogEnabled {
		sinkList = append(sinkList, eventsinks.NewLogSink(app.logger.Named("events_log")))
		app.logger.Debug("Added event log sink")
	}
	if publisher != nil {
		sinkList = append(sinkList, eventsinks.NewPublisherSink(publisher, eventsinks.PublisherSinkConfig{
			Topic:        app.cfg.PubSub.TopicName,
			TerminalOnly: app.cfg.Events.PublishTerminalOnly,
		}))
		app.logger.Debug("Added event publisher sink",
			zap.Bool("terminal_only", app.cfg.Events.PublishTerminalOnly))
	}

	hubCfg := events.Config{
		BufferSize:     app.cfg.Events.BufferSize,
		MaxBatchEvents: app.cfg.Events.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Events.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Events.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("events_hub"),
	}
	app.eventHub = events.NewHub(hubCfg, sinkList...)
	app.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.eventHub, nil
}
