package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	"github.com/StoreViewLabs/storeview/identity/internal/businesslink"
	"github.com/StoreViewLabs/storeview/identity/internal/config"
	"github.com/StoreViewLabs/storeview/identity/internal/database"
	"github.com/StoreViewLabs/storeview/identity/internal/kratos"
	"github.com/StoreViewLabs/storeview/identity/internal/logging"
	"github.com/StoreViewLabs/storeview/identity/internal/metrics"
	"github.com/StoreViewLabs/storeview/identity/internal/server"
	"github.com/StoreViewLabs/storeview/identity/internal/session"
	"github.com/StoreViewLabs/storeview/identity/internal/tenants"
	"github.com/StoreViewLabs/storeview/identity/internal/tracing"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"github.com/StoreViewLabs/storeview/identity/internal/vt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "storeview-identity"

var (
	cfgFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "StoreView identity federation service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("kratos-public-url", "", "Kratos public API URL")
	cmd.PersistentFlags().String("kratos-admin-url", "", "Kratos admin API URL")
	cmd.PersistentFlags().String("vt-base-url", "", "VT API base URL")
	cmd.PersistentFlags().String("otlp-endpoint", "", "OTLP/HTTP collector endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "kratos.public_url", "kratos-public-url")
	bindFlag(cmd, "kratos.admin_url", "kratos-admin-url")
	bindFlag(cmd, "vt.base_url", "vt-base-url")
	bindFlag(cmd, "tracing.otlp_endpoint", "otlp-endpoint")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   appConfig.TracingOTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(registry)

	identityStore, err := users.NewStore(users.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: users.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}
	tenantStore, err := tenants.NewStore(tenants.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	credentials, err := auth.NewCredentialStore(auth.CredentialStoreConfig{
		Identities: identityStore,
		BcryptCost: appConfig.BcryptCost,
	})
	if err != nil {
		return err
	}

	orchestratorConfig := auth.OrchestratorConfig{
		Credentials: credentials,
		Logger:      logger,
		Metrics:     collectorSet,
	}
	if appConfig.KratosEnabled() {
		provider, err := kratos.NewProvider(kratos.Config{
			PublicURL:  appConfig.KratosPublicURL,
			AdminURL:   appConfig.KratosAdminURL,
			SchemaID:   appConfig.KratosSchemaID,
			HTTPClient: tracing.HTTPClient(appConfig.KratosTimeout),
		})
		if err != nil {
			return err
		}
		synchronizer, err := auth.NewSynchronizer(auth.SynchronizerConfig{
			Provider:      provider,
			ProvisionedBy: appConfig.KratosProvisionedBy,
			Timeout:       appConfig.KratosTimeout,
			Logger:        logger,
			Metrics:       collectorSet,
		})
		if err != nil {
			return err
		}
		orchestratorConfig.External = synchronizer
	} else {
		logger.Warn("kratos not configured; sessions will carry no provider token")
	}
	orchestrator, err := auth.NewOrchestrator(orchestratorConfig)
	if err != nil {
		return err
	}

	builderConfig := session.BuilderConfig{Tenants: tenantStore, Logger: logger}
	if appConfig.VTEnabled() {
		client, err := vt.NewClient(vt.ClientConfig{
			BaseURL:      appConfig.VTBaseURL,
			ServiceToken: appConfig.VTServiceToken,
			HTTPClient:   tracing.HTTPClient(appConfig.VTTimeout),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		resolver, err := businesslink.NewResolver(businesslink.ResolverConfig{
			Service: client,
			Timeout: appConfig.VTTimeout,
			Logger:  logger,
			Metrics: collectorSet,
		})
		if err != nil {
			return err
		}
		builderConfig.Linker = resolver
	}
	builder, err := session.NewBuilder(builderConfig)
	if err != nil {
		return err
	}

	codec, err := session.NewCodec(session.CodecConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		Audience:      appConfig.SessionAudience,
		CookieName:    appConfig.SessionCookieName,
		TTL:           appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Auth:           orchestrator,
		Sessions:       builder,
		Codec:          codec,
		Realtime:       server.NewSessionDispatcher(),
		Metrics:        registry,
		Logger:         logger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		TrustedProxies: appConfig.TrustedProxies,
		RateLimit: server.RateLimitConfig{
			Rate:  rate.Limit(appConfig.RateLimitRPS),
			Burst: appConfig.RateLimitBurst,
		},
		SecureCookies: appConfig.SessionCookieSecure,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("kratos_enabled", appConfig.KratosEnabled()),
			zap.Bool("vt_enabled", appConfig.VTEnabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
