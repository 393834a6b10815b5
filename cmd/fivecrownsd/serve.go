package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jbbjarnason/fivesuitsrummy/internal/auth"
	"github.com/jbbjarnason/fivesuitsrummy/internal/game"
	"github.com/jbbjarnason/fivesuitsrummy/internal/hub"
	"github.com/jbbjarnason/fivesuitsrummy/internal/mail"
	"github.com/jbbjarnason/fivesuitsrummy/internal/rest"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
	"github.com/jbbjarnason/fivesuitsrummy/internal/token"
)

const shutdownTimeout = 10 * time.Second

// Serve wires the whole server together and blocks until ctx or a signal
// stops it.
func Serve(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authSvc, err := auth.NewService(cfg.databaseURL)
	if err != nil {
		return err
	}
	defer authSvc.Close()

	st, err := store.New(cfg.databaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	signer, err := token.NewSigner(cfg.sessionSecret, cfg.mediaKey, cfg.mediaSecret,
		token.WithSessionTTL(time.Duration(cfg.sessionTTLDays)*24*time.Hour))
	if err != nil {
		return err
	}

	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.smtpHost != "" {
		mailer = mail.NewSMTP(cfg.smtpHost, cfg.smtpPort, cfg.smtpUsername, cfg.smtpPassword, cfg.smtpFrom)
	}

	registry := game.NewRegistry(st)
	if err := registry.Load(ctx); err != nil {
		return err
	}
	defer registry.StopAll()

	gateway := hub.New(registry, signer, authSvc)
	api := rest.NewServer(authSvc, st, registry, signer, mailer, gateway,
		cfg.publicURL, cfg.mediaURL)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)
	mux.Handle("/", api.Router())

	server := &http.Server{
		Addr:    cfg.listenAddr(),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
