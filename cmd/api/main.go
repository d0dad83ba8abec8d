package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/intelliexo/intelliexo-backend/config"
	"github.com/intelliexo/intelliexo-backend/internal/agent"
	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/auth/middleware"
	"github.com/intelliexo/intelliexo-backend/internal/bootstrap"
	"github.com/intelliexo/intelliexo-backend/internal/logging"
	"github.com/intelliexo/intelliexo-backend/internal/session"
	sessionhttp "github.com/intelliexo/intelliexo-backend/internal/session/http"
)

const serviceName = "intelliexo-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.SetGinMode(cfg.App.Environment)

	var app *firebase.App
	if cfg.App.AuthMode == config.AuthFirebase || cfg.Session.StoreBackend == config.StoreFirestore {
		var err error
		app, err = auth.InitializeFirebase(ctx, &cfg.Firebase)
		if err != nil {
			return err
		}
	}

	authMW, err := authMiddleware(ctx, cfg, app)
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, app)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Session.StoreBackend, err)
	}
	defer store.Close() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := session.NewMetrics(reg)

	agentClient := agent.New(cfg.Agent.BaseURL, cfg.Agent.SessionID, cfg.Agent.Timeout)
	if cfg.Agent.TokenURL != "" {
		agentClient = agent.NewWithOAuth2(ctx, cfg.Agent.BaseURL, cfg.Agent.SessionID, cfg.Agent.Timeout, agent.OAuth2Config{
			TokenURL:     cfg.Agent.TokenURL,
			ClientID:     cfg.Agent.ClientID,
			ClientSecret: cfg.Agent.ClientSecret,
			Scopes:       cfg.Agent.Scopes,
		})
		logger.Info("agent client uses oauth2 client credentials", zap.String("token_url", cfg.Agent.TokenURL))
	}

	sessions := session.NewRegistry(ctx, store, agentClient, logger,
		session.WithHistoryLimit(cfg.Session.HistoryLimit),
		session.WithPersistTurns(cfg.Session.PersistTurns),
		session.WithMetrics(metrics),
		session.WithSubmitLimit(rate.Limit(float64(cfg.Session.SubmitsPerMinute)/60), cfg.Session.SubmitBurst),
	)

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    serviceName,
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:         logger,
		Auth:           authMW,
		Sessions:       sessionhttp.FromRegistry(sessions),
		Gatherer:       reg,
		Ping:           store.Ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("store", store.Backend),
			zap.String("auth", cfg.App.AuthMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Sessions first: closing them ends open event streams.
		closeErr := sessions.Close()
		return errors.Join(closeErr, srv.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func authMiddleware(ctx context.Context, cfg *config.Config, app *firebase.App) (gin.HandlerFunc, error) {
	if cfg.App.AuthMode == config.AuthDev {
		return auth.DevUser(), nil
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return middleware.FirebaseAuthMiddleware(middleware.FirebaseVerifier{Client: client}), nil
}
