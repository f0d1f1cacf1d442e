package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wagate/internal/config"
	"wagate/internal/handler"
	"wagate/internal/metrics"
	"wagate/internal/protocol/wsbridge"
	"wagate/internal/service/dispatch"
	"wagate/internal/service/pairing"
	"wagate/internal/service/ratelimit"
	"wagate/internal/service/session"
	"wagate/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	creds, err := store.NewCredentialStore(cfg.Store.AuthDir)
	if err != nil {
		log.Fatalf("failed to initialize credential store: %v", err)
	}
	artifacts, err := store.NewArtifactStore(cfg.Store.PairingDir, cfg.Store.QRSize)
	if err != nil {
		log.Fatalf("failed to initialize artifact store: %v", err)
	}

	limiter := ratelimit.New(ratelimit.Options{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.WindowDuration(),
	})

	dialer := &wsbridge.Dialer{
		URL:   cfg.Bridge.URL,
		Token: cfg.Bridge.Token,
		Opts: wsbridge.Options{
			HandshakeTimeout: cfg.Bridge.Handshake(),
			PingInterval:     cfg.Bridge.Ping(),
			CallTimeout:      cfg.Bridge.Call(),
		},
	}

	sessions := session.NewManager(dialer, creds, artifacts, limiter, session.Config{
		ReconnectInitialInterval: cfg.Session.InitialInterval(),
		ReconnectMaxInterval:     cfg.Session.MaxInterval(),
		ReconnectMaxElapsed:      cfg.Session.MaxElapsed(),
	})
	defer sessions.Shutdown()

	pairingSvc := pairing.New(sessions, artifacts, pairing.Options{
		PollInterval: cfg.Pairing.Poll(),
		Timeout:      cfg.Pairing.TimeoutDuration(),
	})

	engine := dispatch.New(sessions, limiter, dispatch.Options{
		NetworkSuffix: cfg.Dispatch.NetworkSuffix,
		BulkPacing:    cfg.Dispatch.Pacing(),
		BulkRetryWait: cfg.Dispatch.RetryWait(),
		FetchTimeout:  cfg.Dispatch.FetchTimeoutDuration(),
	})

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path)
	}

	router := handler.NewRouter(sessions, pairingSvc, engine, cfg.Auth)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(serverCfg.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(serverCfg.IdleTimeout) * time.Second,
	}

	log.Printf("wagate listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
