package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gistchat/gistchat/internal/api"
	"github.com/gistchat/gistchat/internal/client"
	"github.com/gistchat/gistchat/internal/config"
	"github.com/gistchat/gistchat/internal/stats"
	"github.com/gistchat/gistchat/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "gistchat",
	Short: "Serverless chat client synchronized through document stores",
	RunE:  run,
}

var (
	flagConfig   string
	flagListen   string
	flagDataDir  string
	flagUsername string
	flagOrigins  []string
	flagDebug    bool

	flagGistURL   string
	flagGistToken string
	flagGistID    string
	flagBinURL    string
	flagBinID     string
	flagBinKey    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "path to a TOML config file")
	flags.StringVar(&flagListen, "listen", "", "widget gateway listen address")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the local store (empty for in-memory)")
	flags.StringVar(&flagUsername, "username", "", "display name (defaults to the stored or a generated one)")
	flags.StringSliceVar(&flagOrigins, "allowed-origins", nil, "allowed CORS origins for the widget gateway")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")

	flags.StringVar(&flagGistURL, "gist-url", "", "gist API base URL")
	flags.StringVar(&flagGistToken, "gist-token", os.Getenv("GISTCHAT_GIST_TOKEN"), "gist API token (env GISTCHAT_GIST_TOKEN)")
	flags.StringVar(&flagGistID, "gist-id", "", "existing signaling gist id")
	flags.StringVar(&flagBinURL, "bin-url", "", "shared bin base URL")
	flags.StringVar(&flagBinID, "bin-id", "", "shared bin document id")
	flags.StringVar(&flagBinKey, "bin-key", os.Getenv("GISTCHAT_BIN_KEY"), "shared bin access key (env GISTCHAT_BIN_KEY)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagUsername != "" {
		cfg.Username = flagUsername
	}
	if len(flagOrigins) > 0 {
		cfg.AllowedOrigins = flagOrigins
	}
	if flagGistURL != "" {
		cfg.Gist.BaseURL = flagGistURL
	}
	if flagGistToken != "" {
		cfg.Gist.Token = flagGistToken
	}
	if flagGistID != "" {
		cfg.Gist.DocumentID = flagGistID
	}
	if flagBinURL != "" {
		cfg.Bin.BaseURL = flagBinURL
	}
	if flagBinID != "" {
		cfg.Bin.ID = flagBinID
	}
	if flagBinKey != "" {
		cfg.Bin.AccessKey = flagBinKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLocalStore(cfg *config.Config, logger zerolog.Logger) (store.LocalStore, error) {
	if cfg.DataDir == "" {
		logger.Warn().Msg("no data directory configured, chat state will not survive restarts")
		return store.NewMemoryStore(), nil
	}
	return store.OpenPebbleStore(cfg.DataDir, logger)
}

func newRemoteStores(cfg *config.Config, local store.LocalStore, logger zerolog.Logger) []store.RemoteStore {
	// The signaling gist id survives restarts in the local store so a
	// client keeps appending to its own document.
	gistID := cfg.Gist.DocumentID
	if gistID == "" {
		gistID = string(local.Get(store.KeyGistID))
	}

	gist := store.NewGistStore(cfg.Gist.BaseURL, cfg.Gist.Token, cfg.RequestTimeout, logger,
		store.WithGistID(gistID),
		store.WithGistCreateHook(func(id string) {
			local.Set(store.KeyGistID, []byte(id))
		}),
	)
	bin := store.NewBinStore(cfg.Bin.BaseURL, cfg.Bin.ID, cfg.Bin.AccessKey, cfg.RequestTimeout, logger)

	remotes := []store.RemoteStore{gist, bin}
	for _, r := range remotes {
		if !r.Available() {
			logger.Info().Str("store", r.Name()).Msg("remote store not configured, skipping")
		}
	}
	return remotes
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	local, err := newLocalStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close local store")
		}
	}()

	remotes := newRemoteStores(cfg, local, logger)
	session := client.NewSession(local, remotes, cfg.Username)
	logger.Info().Str("client_id", session.ID).Str("username", session.Username()).Msg("session ready")

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux, logger)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	gateway := api.NewServer(cfg, session, mux, logger)
	chat := client.NewSynchronizer(cfg, session, statsUpdater, gateway.Callbacks(), logger)
	gateway.Attach(chat)

	go chat.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gateway.Start()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown failed")
	}

	chat.Shutdown()
	logger.Info().Msg("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
