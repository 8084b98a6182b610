// Package main provides the policy server entry point.
// The server stores versioned policies and their activation history behind
// a JSON HTTP API.
package main

import (
	"context"
	"encoding/json"
	goflag "flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/policystore/policystore/pkg/audit"
	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/auth/jwk"
	"github.com/policystore/policystore/pkg/cache"
	"github.com/policystore/policystore/pkg/metrics"
	"github.com/policystore/policystore/pkg/server"
	"github.com/policystore/policystore/pkg/sqlstore"
)

func main() {
	var configFile string

	pflag.StringVar(&configFile, "config", "", "Path to an optional YAML config file")
	pflag.String("address", "0.0.0.0:8080", "Address to listen on")
	pflag.String("db-type", "sqlite", "Database type (sqlite, postgres or mysql)")
	pflag.String("db-dsn", sqlstore.DefaultSQLiteDSN, "Database connection string")
	pflag.String("jwks", "", "Path to a JWKS file with token verification keys; empty disables token checks")
	pflag.String("identity-claim", "username", "JWT claim that names the caller")
	pflag.Bool("audit", true, "Record mutating requests in the audit trail")
	pflag.Int("audit-retention-days", 90, "Days to keep audit events; 0 keeps them forever")
	pflag.Int("cache-size", 256, "Version responses to cache in memory; 0 disables the cache")
	pflag.String("log-level", "info", "Log level (debug, info, warn or error)")

	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	pflag.Parse()
	_ = goflag.CommandLine.Parse(nil)

	// glog logs to files unless told otherwise.
	_ = goflag.Set("logtostderr", "true")

	// Every flag can also be set through the environment (POLICY_DB_DSN,
	// POLICY_JWKS, ...) or a config file.
	viper.SetEnvPrefix("POLICY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		glog.Fatalf("Failed to bind flags: %v", err)
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			glog.Fatalf("Failed to read config file: %v", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		glog.Fatalf("Invalid log level: %v", err)
	}

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	listenAddr := viper.GetString("address")
	dbType := viper.GetString("db-type")

	logger.Info("starting policy server",
		"address", listenAddr,
		"dbType", dbType,
		"audit", viper.GetBool("audit"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup database
	db, err := sqlstore.Open(dbType, viper.GetString("db-dsn"))
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	store, err := sqlstore.New[json.RawMessage](db, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize policy store: %v", err)
	}

	resolver, err := setupResolver(logger)
	if err != nil {
		glog.Fatalf("Failed to set up authorization: %v", err)
	}

	m := metrics.New()
	connector := metrics.InstrumentConnector[json.RawMessage](store, m)
	serverOpts := []server.Option{server.WithMetrics(m)}

	if viper.GetBool("audit") {
		auditStore, err := audit.NewStore(db)
		if err != nil {
			glog.Fatalf("Failed to initialize audit store: %v", err)
		}
		auditCfg := audit.DefaultConfig()
		auditCfg.RetentionDays = viper.GetInt("audit-retention-days")
		serverOpts = append(serverOpts, server.WithAudit(auditStore, auditCfg))

		// Prune old audit events in the background.
		worker := audit.NewRetentionWorker(auditStore, auditCfg.RetentionDays, logger)
		go worker.Run(ctx)
	}

	if size := viper.GetInt("cache-size"); size > 0 {
		serverOpts = append(serverOpts, server.WithResponseCache(cache.New(size, 10*time.Minute)))
	}

	srv := server.New(connector, resolver, logger, serverOpts...)
	router := srv.MountRoutes()

	logger.Info("policy server ready", "address", listenAddr)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("policy store shutdown error", "error", err)
	}

	logger.Info("policy server stopped")
}

// setupResolver builds the request authorizer. Without a JWKS file every
// request runs as the anonymous default identity, which is only suitable
// for local development.
func setupResolver(logger *slog.Logger) (auth.Resolver, error) {
	jwksPath := viper.GetString("jwks")
	if jwksPath == "" {
		logger.Warn("no JWKS file configured, running without token checks")
		return auth.NewStaticResolver(), nil
	}

	keys, err := jwk.LoadKeySet(jwksPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load JWKS file: %w", err)
	}
	logger.Info("loaded token verification keys", "path", jwksPath, "keys", keys.Len())

	return jwk.NewResolver(viper.GetString("identity-claim"), &jwk.KIDResolver{Keys: keys}, logger), nil
}
