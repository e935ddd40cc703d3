// Package main wires the sync client: configuration, logging, the user
// store, the transport to the object server, the sync manager, the local
// control API and an interactive shell.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/syncmanager/internal/config"
	"github.com/atinyakov/syncmanager/internal/logger"
	"github.com/atinyakov/syncmanager/internal/manager"
	handler "github.com/atinyakov/syncmanager/internal/server/handler/http"
	"github.com/atinyakov/syncmanager/internal/transport"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openUserStore(options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot open user store", zap.String("store", options.UserStore), zap.Error(err))
	}
	defer closeStore()

	tr, err := newTransport(options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot create transport", zap.Error(err))
	}

	m := manager.New(
		manager.WithUserStore(store),
		manager.WithTransport(tr),
		manager.WithSyncInterval(options.SyncInterval),
		manager.WithLogger(zapLogger),
	)
	defer m.Close()

	if err := m.Init(ctx); err != nil {
		// The shell and the control API still work offline; GetSession
		// and the session routes retry the start.
		zapLogger.Warn("sync client not started", zap.Error(err))
	}

	if options.ControlAddress != "" {
		srv := newControlServer(options.ControlAddress, m, zapLogger)
		go func() {
			zapLogger.Info("starting control API", zap.String("addr", options.ControlAddress))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLogger.Error("control API stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sh := &shell{manager: m, in: os.Stdin, out: os.Stdout, serverURL: options.ServerURL}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sh.run(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	zapLogger.Info("shutting down")
}

func newTransport(options *config.Options, logger *zap.Logger) (transport.Transport, error) {
	if options.ServerURL == "" {
		return transport.Nop{}, nil
	}
	client := &http.Client{Timeout: 30 * time.Second}
	if options.CertFile != "" {
		var err error
		client, err = transport.LoadClientCertificate(options.CertFile, options.KeyFile, options.CAFile)
		if err != nil {
			return nil, err
		}
	}
	return transport.NewHTTP(client, options.ServerURL, transport.WithLogger(logger)), nil
}

func newControlServer(addr string, m *manager.SyncManager, logger *zap.Logger) *http.Server {
	router := handler.NewRouter(
		&handler.HealthHandler{State: func() string { return string(m.State()) }, Worker: m.WorkerName()},
		&handler.UserHandler{UserService: m},
		&handler.SessionHandler{SessionService: m, Users: m},
		m.Init,
		logger,
	)
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
