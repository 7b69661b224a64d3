// Package lurker builds every component from the configuration and owns the order in
// which they start and stop.
package lurker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/onnwee/lurkbot/chat"
	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/reconcile"
	"github.com/onnwee/lurkbot/server"
	"github.com/onnwee/lurkbot/shutdown"
	"github.com/onnwee/lurkbot/twitchapi"
)

// Options are process settings that live outside the config record.
type Options struct {
	// HTTPAddr is the operator server address; empty disables it.
	HTTPAddr string
	// DBDSN enables the membership journal when set.
	DBDSN string
	Auth  *server.AuthConfig
}

// App is one running bot.
type App struct {
	Conn *chat.Conn
	Loop *reconcile.Loop

	handler  http.Handler
	httpAddr string
	coord    shutdown.Coordinator
	db       *sql.DB
}

// New wires the bot. It connects to the journal database when one is configured but
// does not touch the chat gateway until Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	conn := chat.NewConn(chat.Options{
		Addr:           cfg.IRCAddress,
		Username:       cfg.BotUsername,
		Token:          cfg.OAuthToken,
		TLS:            cfg.IRCTLS,
		ReconnectDelay: cfg.ReconnectDelay,
		Verbose:        cfg.Verbose,
	})

	httpClient := twitchapi.NewHTTPClient(cfg.HTTPTimeout)
	helix := &twitchapi.HelixClient{
		BaseURL:        cfg.HelixURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Tokens:         &twitchapi.TokenProvider{Endpoint: cfg.TokenURL, HTTPClient: httpClient},
		HTTPClient:     httpClient,
		MaxConcurrency: cfg.MaxConcurrentLookups,
	}

	loop := reconcile.NewLoop(cfg.Channels, cfg.WaitTime, helix, &chat.Membership{Conn: conn}, conn)
	handlers := &server.Handlers{Chat: conn, Loop: loop}

	app := &App{
		Conn:     conn,
		Loop:     loop,
		httpAddr: opts.HTTPAddr,
		coord: shutdown.Coordinator{
			DisconnectTimeout: cfg.DisconnectTimeout,
			StopTimeout:       cfg.StopTimeout,
		},
	}

	if opts.DBDSN != "" {
		database, err := db.Connect(ctx, opts.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("journal database: %w", err)
		}
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("journal migrations: %w", err)
		}
		journal := &db.Journal{DB: database}
		loop.Journal = journal
		handlers.Events = journal
		app.db = database
		slog.Info("membership journal enabled", slog.String("component", "db"))
	}

	auth := opts.Auth
	if auth == nil {
		auth = &server.AuthConfig{}
	}
	app.handler = server.NewRouter(handlers, auth)
	return app, nil
}

// Handler is the operator HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the chat connection, the reconciliation loop and the HTTP server, and
// blocks until ctx is done or one of them fails. Shutdown then disconnects from chat
// first and stops the rest; both phases are bounded so Run always returns.
func (a *App) Run(ctx context.Context) error {
	// Components run on their own context so chat can be disconnected before
	// anything else is cancelled.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	var wg sync.WaitGroup
	errc := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	start("chat", a.Conn.Run)
	start("reconcile", a.Loop.Run)
	if a.httpAddr != "" {
		start("http", func(c context.Context) error { return server.Start(c, a.httpAddr, a.handler) })
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case runErr = <-errc:
		slog.Error("component failed; shutting down", slog.Any("err", runErr))
	}

	err := a.coord.Shutdown(a.Conn.Disconnect, func(stopCtx context.Context) error {
		cancelRun()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	})
	if err != nil {
		slog.Warn("shutdown incomplete", slog.Any("err", err))
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	slog.Info("shutdown complete")
	return runErr
}
