package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/livemem/livemem/engine/infra/server"
	"github.com/livemem/livemem/engine/storage"
	"github.com/livemem/livemem/pkg/config"
	"github.com/livemem/livemem/pkg/logger"
)

const defaultEnvFile = ".env"

// ServeCmd returns the serve command, the production entrypoint of the
// service.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Live Memory MCP server",
		RunE:  handleServeCmd,
	}

	defaults := config.Default()
	cmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	cmd.Flags().Int("port", defaults.Port, "Port to listen on")
	cmd.Flags().String("base-url", "", "Public base URL announced to SSE clients (default http://{host}:{port})")
	cmd.Flags().String("env-file", defaultEnvFile, "Environment file to load before reading the configuration")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	cmd.Flags().Bool("log-source", false, "Include source file and line in logs")
	cmd.Flags().Bool("debug", false, "Enable debug mode (sets log level to debug)")
	cmd.Flags().Bool("memory", false, "Use an in-memory store instead of S3 (local development)")

	return cmd
}

func handleServeCmd(cmd *cobra.Command, _ []string) error {
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	if err := setupLogging(cmd); err != nil {
		return err
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	store, err := buildStore(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())

	return server.Run(ctx, cfg, store)
}

// loadEnvFile feeds the file into the process environment before config.Load
// reads it. A missing default .env is fine; a missing explicit file is not.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if err := godotenv.Load(envFile); err != nil {
		if os.IsNotExist(err) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", envFile, err)
	}
	return nil
}

func setupLogging(cmd *cobra.Command) error {
	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logLevel = "debug"
	}
	logger.SetupLogger(logLevel, logJSON, logSource)
	return nil
}

// buildConfig loads the environment-driven configuration, then lets explicit
// flags win over it.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("base-url") {
		cfg.PublicBaseURL, _ = cmd.Flags().GetString("base-url")
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug, _ = cmd.Flags().GetBool("debug")
	}
	return cfg, nil
}

func buildStore(cmd *cobra.Command, cfg *config.Config) (storage.Store, error) {
	if inMemory, _ := cmd.Flags().GetBool("memory"); inMemory {
		logger.GetDefault().Warn("using the in-memory store, data will not survive a restart")
		return storage.NewMemoryStore(), nil
	}
	if !cfg.S3Configured() {
		return nil, fmt.Errorf(
			"S3 is not configured — set S3_ENDPOINT_URL and S3_ACCESS_KEY_ID, or pass --memory for local development")
	}
	store, err := storage.NewS3Store(storage.S3Config{
		EndpointURL:     cfg.S3EndpointURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Bucket:          cfg.S3BucketName,
		Region:          cfg.S3RegionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build S3 store: %w", err)
	}
	return store, nil
}
