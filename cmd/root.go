package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/portrait/internal/config"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds flag values shared by process, batch, and serve commands.
type Options struct {
	InputPath  string
	OutputPath string
	MaskPath   string
	Matting    string
	Background string

	Workers int
	Retries int
	RPS     float64
	Collect bool

	Host string
	Port int
}

var (
	// DB is the database connection for commands that need the face collection
	DB *store.Store
	// Cfg is the loaded configuration
	Cfg *config.Config
	// Log is the structured logger built from Cfg
	Log *logger.Logger

	dbURL      string
	configPath string
	logLevel   string
	logFormat  string
)

// Version is the application version.
const Version = "0.1.0"

// needsDB marks a command whose PersistentPreRunE must open the database.
const needsDB = "needs-db"

var rootCmd = &cobra.Command{
	Use:     "portrait",
	Short:   "Face-centred portrait cropping and background removal",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			Cfg.Log.Format = logFormat
		}
		if err := Cfg.Validate(); err != nil {
			return err
		}

		Log, err = logger.New(Cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		if cmd.Annotations[needsDB] == "true" {
			return connectDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if Log != nil {
			Log.Sync()
		}
	},
}

// connectDB opens the collection store once. The --db flag wins over config.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	url := dbURL
	if url == "" {
		url = Cfg.Database.URL
	}
	var err error
	DB, err = store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/portrait)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
}
