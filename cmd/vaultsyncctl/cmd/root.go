package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"

	"github.com/vaultsync/enginecore/internal/engineconfig"
	"github.com/vaultsync/enginecore/internal/orchestrator"
	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/drive/drivea"
	"github.com/vaultsync/enginecore/internal/provider/drive/driveb"
	"github.com/vaultsync/enginecore/internal/provider/gist"
	"github.com/vaultsync/enginecore/internal/secretstore/gormstore"
	"github.com/vaultsync/enginecore/internal/secretstore/memory"
)

var (
	cfgFile  string
	debug    bool
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "vaultsyncctl",
	Short: "Demo embedder for the vaultsync zero-knowledge sync engine",
	Long: `vaultsyncctl drives the vaultsync engine core from the command line:
master-key setup and unlock, provider connect/push/pull, and conflict
resolution. It is a reference embedder, not the engine itself.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./vaultsync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debug logging")
	rootCmd.PersistentFlags().String("vault-dir", ".vaultsync", "directory vaultsyncctl stores its local state in")

	_ = viper.BindPFlag("vault_dir", rootCmd.PersistentFlags().Lookup("vault-dir"))
	viper.SetDefault("app_version", "vaultsyncctl-dev")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("vaultsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("VAULTSYNC")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("could not read config file", "error", err)
		}
	}
}

// loadEngineConfig decodes the bootstrap config, defaulting the storage
// backend to a gormstore sqlite file under --vault-dir so state survives
// between invocations (each vaultsyncctl command is a fresh process).
func loadEngineConfig() (*engineconfig.Config, error) {
	settings := viper.AllSettings()
	cfg, err := engineconfig.Decode(settings)
	if err != nil {
		return nil, err
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = "vaultsyncctl-dev"
	}
	if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
		vaultDir := viper.GetString("vault_dir")
		if err := os.MkdirAll(vaultDir, 0o700); err != nil {
			return nil, fmt.Errorf("vaultsyncctl: creating vault dir: %w", err)
		}
		cfg.Storage.Backend = "gorm"
		cfg.Storage.DBType = "sqlite"
		cfg.Storage.DSN = vaultDir + "/state.db"
	}
	return cfg, nil
}

// openEngine wires a store, the stock adapters, and an Engine from cfg.
func openEngine(ctx context.Context, cfg *engineconfig.Config) (*orchestrator.Engine, func() error, error) {
	var store ports.SecretStore
	closeStore := func() error { return nil }

	switch cfg.Storage.Backend {
	case "gorm":
		s, err := gormstore.Open(cfg.Storage.DBType, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("vaultsyncctl: opening storage: %w", err)
		}
		store = s
		closeStore = s.Close
	default:
		store = memory.New()
	}

	httpDoer := &http.Client{}
	adapters := map[string]provider.Adapter{
		"gist":   gist.New(cfg.Providers.Gist.ClientID, cfg.Providers.Gist.ClientSecret, httpDoer),
		"driveA": drivea.New(cfg.Providers.DriveA.ClientID, httpDoer),
		"driveB": driveb.New(cfg.Providers.DriveB.ClientID, httpDoer),
	}

	hints := ports.PlatformHints{
		DeviceName: cfg.DeviceName,
		AppVersion: cfg.AppVersion,
	}
	if hints.DeviceName == "" {
		hostname, _ := os.Hostname()
		hints.DeviceName = hostname
	}

	eng, err := orchestrator.New(ctx, store, ports.SystemClock{}, rand.Reader, hints, adapters)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	if cfg.AutoSyncIntervalMinutes > 0 {
		eng.SetAutoSync(cfg.AutoSyncIntervalMinutes)
	}
	return eng, closeStore, nil
}
