package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emstrack/mqttgate/pkg/acl"
	"github.com/emstrack/mqttgate/pkg/api"
	"github.com/emstrack/mqttgate/pkg/config"
	"github.com/emstrack/mqttgate/pkg/events"
	"github.com/emstrack/mqttgate/pkg/identity"
	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/store"
	"github.com/emstrack/mqttgate/pkg/token"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database.
	db, err := store.Open(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()
	if err := store.Migrate(ctx, db, cfg.Database.Dialect()); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	go store.RunPoolStatsReporter(ctx, db, metrics, 15*time.Second)
	sqlStore := store.NewStore(db)
	logrus.WithField("driver", cfg.Database.Driver).Info("Database ready")

	// Grant lookups, optionally cached.
	var grants acl.GrantStore = sqlStore
	if cfg.Cache.Enabled {
		cacheCfg := store.CacheConfig{L1Size: cfg.Cache.L1Size, TTL: cfg.Cache.TTL}
		if cfg.Cache.RedisURL != "" {
			client, err := store.NewRedisClient(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to connect to redis")
			}
			defer client.Close()
			grants = store.NewCachedGrants(sqlStore, client, cacheCfg, logger, metrics)
			logrus.Info("Grant cache enabled with redis layer")
		} else {
			grants = store.NewCachedGrants(sqlStore, nil, cacheCfg, logger, metrics)
			logrus.Info("Grant cache enabled in-process only")
		}
	}

	// Credential handling.
	tokens := token.NewManager(sqlStore, cfg.Auth.TokenIterations)
	gateway := identity.NewGateway(sqlStore, tokens, logger)
	engine := acl.NewEngine(grants, logger, metrics)

	// Outbound resource updates.
	var publisher events.Publisher
	if cfg.Broker.URL != "" {
		publisher, err = events.NewMQTTPublisher(events.MQTTOptions{
			URL:      cfg.Broker.URL,
			ClientID: cfg.Broker.ClientID,
			Username: cfg.Broker.Username,
			Password: cfg.Broker.Password,
			QoS:      cfg.Broker.QoS,
		}, logger)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to broker")
		}
	} else {
		publisher = events.NewNopPublisher(logger)
		logrus.Info("No broker configured, resource updates will be dropped")
	}
	defer publisher.Close()

	dispatcher := events.NewDispatcher(sqlStore, publisher, logger)
	go dispatcher.Run(ctx)
	if cfg.Broker.URL != "" {
		if err := dispatcher.PublishSettings(ctx); err != nil {
			logrus.WithError(err).Error("Failed to publish settings document")
		}
	}

	server := api.NewServer(api.Deps{
		Gateway:    gateway,
		Engine:     engine,
		Grants:     grants,
		Profiles:   sqlStore,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		DB:         db,
		Log:        logger,
		Metrics:    metrics,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", httpServer.Addr).Info("Starting server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logrus.WithError(err).Fatal("Server failed")
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}
