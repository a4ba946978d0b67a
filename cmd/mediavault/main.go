package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"mediavault/internal/app"
	"mediavault/internal/config"
	"mediavault/internal/encryption"
	"mediavault/internal/store"
	"mediavault/internal/store/migrations"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config from the default (or env-overridden) path.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "mediavault",
	Short: "Token-addressed media vault",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume inbound events and resolve links",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the usage report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.NewApp(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		return a.Report(cmd.Context(), os.Stdout)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if cfg.Store.Type != "sqlite" {
			return fmt.Errorf("migrate only applies to the sqlite store (configured: %q)", cfg.Store.Type)
		}
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is not configured")
		}

		if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		db, err := store.OpenConnection(filepath.Join(cfg.Store.DataDir, "mediavault.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		if err := migrations.MigrateUp(db); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		fmt.Println("Database is up to date.")
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Bot:       %s@%s\n", cfg.Bot.Name, cfg.Bot.Host)
		fmt.Printf("Store:     %s\n", cfg.Store.Type)
		fmt.Printf("Ledger:    %s\n", cfg.Ledger.Type)
		fmt.Printf("Mirror:    %s\n", cfg.Mirror.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage mirror encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair for mirror encryption",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}

		if enc.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := promptPassphrase()
		if err != nil {
			return err
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// promptPassphrase reads a passphrase twice from the terminal without echo.
func promptPassphrase() (string, error) {
	fmt.Print("Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	fmt.Print("Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if strings.TrimSpace(string(first)) == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}

	return string(first), nil
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
}
