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

	"inkwell/api/internal/app"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	err = store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	cancel()
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	pgStore := store.NewPostgresStore(db)

	// Redis holds refresh sessions; Postgres takes over when it is down.
	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Printf("redis unavailable, using postgres for refresh sessions: %v", err)
		sessions = pgStore
	} else {
		defer redisStore.Close()
		sessions = redisStore
	}

	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	searchSvc := search.NewService(meili, search.NewPgFTS(db))
	defer searchSvc.Close()

	// Seed the search index from Postgres in the background.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := searchSvc.Reindex(ctx); err != nil {
			log.Printf("search: startup reindex skipped: %v", err)
		} else {
			log.Printf("search: indexed %d documents", n)
		}
	}()

	svc := app.NewService(pgStore, sessions, searchSvc, []byte(cfg.JWTSecret), cfg.AccessTTL, cfg.RefreshTTL)
	accounts := authpw.NewService(pgStore)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	exporter := export.NewService(pgStore)

	httpServer := app.NewHTTPServer(svc, accounts, mailer, exporter, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("inkwell api listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
