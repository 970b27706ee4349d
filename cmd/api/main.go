package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tnguyen14/lists/internal/app"
	"github.com/tnguyen14/lists/internal/authz"
	"github.com/tnguyen14/lists/internal/config"
	"github.com/tnguyen14/lists/internal/docstore"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log := logrus.New()
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("store connection failed")
	}
	defer cleanup()

	service := app.New(store, authz.New(cfg.SuperAdmins))
	httpServer, err := app.NewHTTPServer(service, app.HTTPConfig{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		PublicReadPaths: cfg.PublicReadPaths,
		Logger:          log,
	})
	if err != nil {
		log.WithError(err).Fatal("server setup failed")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "backend": cfg.Backend}).
			Info("lists api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return docstore.NewMemory(), func() {}, nil
	case "redis":
		store, err := docstore.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		db, err := docstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := docstore.NewPostgres(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	}
}
