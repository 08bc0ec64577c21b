// Package server assembles the registry, sweeper, hub, event handler and HTTP
// server into a runnable application.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/presence"
)

// App is a fully wired chat relay.
type App struct {
	Config   Config
	Registry *presence.Registry
	Hub      *Hub
	Handler  *chat.Handler
	Sweeper  *presence.Sweeper

	router http.Handler
	server *http.Server
	logger *slog.Logger
	cancel context.CancelFunc
	swept  chan struct{}
}

// NewApp applies cfg as the active configuration and wires the components.
// A nil cfg means defaults; a nil logger means slog.Default.
func NewApp(cfg *Config, logger *slog.Logger) *App {
	SetConfig(cfg)
	active := CurrentConfig()
	if logger == nil {
		logger = slog.Default()
	}

	registry := presence.NewRegistry(nil)
	hub := NewHub(logger)
	handler := chat.NewHandler(registry, hub, chat.Options{
		Policy:       active.Presence.DisconnectPolicy,
		MaxImageSize: active.MaxImageSize,
		Logger:       logger,
	})
	hub.SetEventHandler(handler)

	sweeper := presence.NewSweeper(registry, handler.ExpireNotifier(),
		presence.WithInterval(active.Presence.SweepInterval),
		presence.WithTimeout(active.Presence.Timeout),
		presence.WithEvictAfter(active.Presence.EvictAfter),
		presence.WithLocker(handler.StatusLocker()),
		presence.WithLogger(logger))

	router := SetupRoutes(hub, registry)

	return &App{
		Config:   active,
		Registry: registry,
		Hub:      hub,
		Handler:  handler,
		Sweeper:  sweeper,
		router:   router,
		server:   CreateServer(active.Port, router),
		logger:   logger,
		swept:    make(chan struct{}),
	}
}

// Router returns the HTTP handler, for mounting in tests or another server.
func (a *App) Router() http.Handler { return a.router }

// Start launches the hub loop and the liveness sweeper. It does not listen
// for HTTP; see ListenAndServe.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	go a.Hub.Run()
	go func() {
		defer close(a.swept)
		a.Sweeper.Run(ctx)
	}()
	a.logger.Info("chat relay started",
		"presence_timeout", a.Config.Presence.Timeout,
		"sweep_interval", a.Config.Presence.SweepInterval,
		"disconnect_policy", a.Config.Presence.DisconnectPolicy)
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (a *App) ListenAndServe() error {
	err := StartServer(a.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the sweeper, the HTTP listener and then every session.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		<-a.swept
	}

	var errs []error
	if err := ShutdownServer(ctx, a.server); err != nil {
		errs = append(errs, err)
	}

	timeout := a.Config.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := a.Hub.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
