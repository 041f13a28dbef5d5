package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/config"
	"github.com/MarcoPoloResearchLab/corkboard/internal/forum"
	"github.com/MarcoPoloResearchLab/corkboard/internal/logging"
	"github.com/MarcoPoloResearchLab/corkboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/corkboard/internal/presence"
	"github.com/MarcoPoloResearchLab/corkboard/internal/server"
	"github.com/MarcoPoloResearchLab/corkboard/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corkboard-api",
		Short: "Corkboard discussion board service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newWatchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("store", defaults.GetString("store.driver"), "Store driver (memory, sqlite, pebble, redis)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("pebble-path", defaults.GetString("pebble.path"), "Pebble data directory")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("admin-password", "", "Admin password (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("admin.token_ttl_minutes"), "Admin token TTL in minutes")
	cmd.PersistentFlags().Duration("heartbeat-interval", defaults.GetDuration("presence.heartbeat_interval"), "Presence heartbeat interval")
	cmd.PersistentFlags().Duration("presence-timeout", defaults.GetDuration("presence.timeout"), "Presence entry timeout")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.driver", "store")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "pebble.path", "pebble-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "admin.password", "admin-password")
	bindFlag(cmd, "admin.signing_secret", "signing-secret")
	bindFlag(cmd, "admin.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "presence.heartbeat_interval", "heartbeat-interval")
	bindFlag(cmd, "presence.timeout", "presence-timeout")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()
	backing, closeStore, err := openStore(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	store := recorder.InstrumentStore(backing)

	repository, err := forum.NewRepository(forum.RepositoryConfig{
		Store:      store,
		Clock:      time.Now,
		IDProvider: forum.NewUUIDProvider(),
		Logger:     logger.Named("forum"),
	})
	if err != nil {
		return err
	}
	usersService, err := users.NewService(users.ServiceConfig{Store: store, Logger: logger.Named("users")})
	if err != nil {
		return err
	}
	board, err := presence.NewBoard(presence.BoardConfig{
		Store:    store,
		Clock:    time.Now,
		Timeout:  appConfig.PresenceTimeout,
		Logger:   logger.Named("presence"),
		Observer: recorder.ObserveOnlineSessions,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AdminSigningSecret),
		Issuer:        "corkboard-admin",
		Audience:      "corkboard-api",
		TokenTTL:      appConfig.AdminTokenTTL,
	})
	if err != nil {
		return err
	}
	adminGate, err := auth.NewAdminGate(auth.AdminGateConfig{
		Password:   appConfig.AdminPassword,
		Issuer:     tokenIssuer,
		CookieName: appConfig.AdminCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Forum:          repository,
		Users:          usersService,
		Presence:       board,
		Store:          store,
		AdminGate:      adminGate,
		Metrics:        recorder,
		Logger:         logger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		LatestLimit:    appConfig.LatestThreadLimit,
	})
	if err != nil {
		return err
	}

	// Request contexts derive from the signal context so open streams end on shutdown.
	httpServer := &http.Server{
		Addr:        appConfig.HTTPAddress,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store", appConfig.StoreDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newWatchCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join presence as a session and print the online count as it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), username, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Display name to register under")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runWatch(ctx context.Context, username string, out io.Writer) error {
	name, err := users.ValidateUsername(username)
	if err != nil {
		return err
	}
	appConfig, err := config.LoadPresence(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	board, err := presence.NewBoard(presence.BoardConfig{
		Store:   store,
		Timeout: appConfig.PresenceTimeout,
		Logger:  logger.Named("presence"),
	})
	if err != nil {
		return err
	}
	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Board:    board,
		Interval: appConfig.HeartbeatInterval,
		Logger:   logger.Named("tracker"),
		OnCount: func(count int) {
			fmt.Fprintf(out, "%s %d online\n", time.Now().Format(time.TimeOnly), count)
		},
	})
	if err != nil {
		return err
	}

	if err := tracker.Start(signalCtx, name); err != nil {
		return err
	}
	logger.Info("watching presence", zap.String("session_id", tracker.SessionID()), zap.String("username", name))
	<-signalCtx.Done()

	leaveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return tracker.Stop(leaveCtx)
}
