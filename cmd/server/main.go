package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-oauth-proxy/internal/config"
	"gemini-oauth-proxy/internal/credential"
	"gemini-oauth-proxy/internal/logging"
	"gemini-oauth-proxy/internal/oauth"
	srv "gemini-oauth-proxy/internal/server"
	"gemini-oauth-proxy/internal/tracing"
	"gemini-oauth-proxy/internal/upstream"
	log "github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second
	gracefulWait    = 200 * time.Millisecond
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background(), cfg.Tracing.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Infof("starting gemini-oauth-proxy on %s", cfg.Addr())

	// The onboarding client id/secret serve only as the fallback for
	// account files that omit their own, per spec §6.
	oauthMgr := oauth.NewManager("", "")

	var source credential.Source
	if cfg.CredentialStore.RedisAddr != "" {
		source = credential.NewRedisSource(cfg.CredentialStore.RedisAddr)
	} else {
		source = credential.NewFileSource(cfg.CredentialStore.AccountDir)
	}

	pool := credential.NewManager(source, oauthMgr, cfg.AutoBan.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Load(ctx); err != nil {
		log.WithError(err).Warn("failed to load credentials")
	}
	if pool.Count() == 0 && cfg.CredentialStore.RedisAddr == "" && cfg.GoogleApplicationCredentials != "" {
		if _, statErr := os.Stat(cfg.GoogleApplicationCredentials); statErr == nil {
			if err := pool.Add(ctx, cfg.GoogleApplicationCredentials); err != nil {
				log.WithError(err).Warn("failed to load legacy credentials file")
			}
		}
	}
	log.Infof("loaded %d account(s)", pool.Count())

	if cfg.CredentialStore.RedisAddr == "" {
		stop, err := pool.WatchDir(ctx, cfg.CredentialStore.AccountDir)
		if err != nil {
			log.WithError(err).Warn("failed to watch account directory")
		} else {
			defer stop()
		}
	}

	client := upstream.NewClient("")
	pipeline := upstream.NewPipeline(pool, client)

	engine := srv.BuildEngine(cfg, srv.Dependencies{Pool: pool, Pipeline: pipeline})
	httpSrv := &http.Server{Addr: cfg.Addr(), Handler: engine}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown did not complete cleanly")
	}

	time.Sleep(gracefulWait)
	log.Info("server stopped")
}
