package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/intervo/stream-gateway/internal/infrastructure/configs"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/metrics"
	"github.com/intervo/stream-gateway/internal/infrastructure/ratelimiter"
	healthHandler "github.com/intervo/stream-gateway/internal/presentation/handler/health"
	roomsHandler "github.com/intervo/stream-gateway/internal/presentation/handler/rooms"
	streamsHandler "github.com/intervo/stream-gateway/internal/presentation/handler/streams"
	toolsHandler "github.com/intervo/stream-gateway/internal/presentation/handler/tools"
	webhooksHandler "github.com/intervo/stream-gateway/internal/presentation/handler/webhooks"
	"github.com/intervo/stream-gateway/internal/presentation/utils"
)

type Application struct {
	config          configs.Config
	streamsHandler  *streamsHandler.Handler
	roomsHandler    *roomsHandler.Handler
	toolsHandler    *toolsHandler.Handler
	webhooksHandler *webhooksHandler.Handler
	healthHandler   *healthHandler.Handler
	logger          logging.Logger
	ratelimiter     ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	streamsHandler *streamsHandler.Handler,
	roomsHandler *roomsHandler.Handler,
	toolsHandler *toolsHandler.Handler,
	webhooksHandler *webhooksHandler.Handler,
	healthHandler *healthHandler.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:          config,
		streamsHandler:  streamsHandler,
		roomsHandler:    roomsHandler,
		toolsHandler:    toolsHandler,
		webhooksHandler: webhooksHandler,
		healthHandler:   healthHandler,
		logger:          logger,
		ratelimiter:     ratelimiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(app.loggerMiddleware)
	r.Use(app.enableCors)

	// Long-lived upgrades stay outside the timeout and rate limiter wrappers;
	// a websocket connection would trip both.
	r.Get("/stream", app.streamsHandler.Connect)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(app.rateLimiterMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(utils.WidgetTokenGuard(app.config.Auth.WidgetSecret, func(r *http.Request) string {
				return r.URL.Query().Get("widgetId")
			}))
			r.Get("/tools", app.toolsHandler.ListTools)
		})

		r.Group(func(r chi.Router) {
			r.Use(utils.WebhookSignatureGuard(app.config.Auth.WebhookToken))
			r.Post("/webhooks/stream", app.webhooksHandler.StreamTarget)
		})

		r.Get("/rooms/{roomKey}/presence", app.roomsHandler.GetRoomPresence)

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetHealth)
		r.Get("/ready", app.healthHandler.GetHealth)
		r.Get("/live", app.healthHandler.GetHealth)
	})

	return otelhttp.NewHandler(r, "stream-gateway")
}

func (app *Application) Run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		healthHandler.SetUnhealthy()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "signal caught", map[logging.ExtraKey]any{
			"signal": s.String(),
		})

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	return nil
}
