package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tcmartin/botrunner/pkg/api"
	"github.com/tcmartin/botrunner/pkg/config"
	"github.com/tcmartin/botrunner/pkg/cronexpr"
	"github.com/tcmartin/botrunner/pkg/execution"
	"github.com/tcmartin/botrunner/pkg/lease"
	"github.com/tcmartin/botrunner/pkg/loader"
	"github.com/tcmartin/botrunner/pkg/middleware"
	"github.com/tcmartin/botrunner/pkg/schedule"
	"github.com/tcmartin/botrunner/pkg/storage"
	"github.com/tcmartin/botrunner/pkg/trigger"
)

const version = "0.1.0"

var (
	configPath string
	botsDir    string
)

func main() {
	// Load environment variables from .env file if present
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "botrunner",
		Short:   "botrunner schedules and executes automation bots",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the botrunner API server and scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&botsDir, "bots", "", "Directory of YAML bot definitions to load at startup")

	validateCmd := &cobra.Command{
		Use:   "validate <cron expression>",
		Short: "Validate a cron expression and preview its next runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single scheduler sweep against the configured storage",
		RunE:  runSweep,
	}

	rootCmd.AddCommand(serveCmd, validateCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogging(cfg.Logging)

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.provider.Close()

	if botsDir != "" {
		if err := seedBots(app, botsDir); err != nil {
			return fmt.Errorf("failed to load bot definitions: %w", err)
		}
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error)
	go func() {
		log.Printf("botrunner %s listening on %s:%d", version, cfg.Server.Host, cfg.Server.Port)
		errCh <- app.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.server.Stop(ctx); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
	}

	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	expr := args[0]
	if err := cronexpr.Validate(expr); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", expr, cronexpr.Describe(expr))

	runs, err := cronexpr.NextRuns(expr, time.Now(), time.UTC, 5)
	if err != nil {
		return err
	}
	fmt.Println("Next runs (UTC):")
	for _, run := range runs {
		fmt.Printf("  %s\n", run.Format(time.RFC3339))
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.provider.Close()

	result, err := app.sweeper.RunDueBots(context.Background(), time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Sweep complete: %d executed, %d successful, %d failed\n",
		result.Executed, result.Successful, result.Failed)
	for _, r := range result.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Printf("  bot %s execution %s: %s\n", r.BotID, r.ExecutionID, status)
	}
	return nil
}

// app holds the wired components of a running botrunner instance.
type app struct {
	provider storage.StorageProvider
	sweeper  *trigger.Sweeper
	server   *api.Server
}

func newApp(cfg *config.Config) (*app, error) {
	providerCfg := storage.ProviderConfig{Type: storage.ProviderType(cfg.Storage.Type)}
	if providerCfg.Type == storage.PostgreSQLProviderType {
		providerCfg.PostgreSQL = &storage.PostgreSQLProviderConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		}
	}

	provider, err := storage.NewProvider(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	timeout := time.Duration(cfg.Engine.ExecutionTimeoutSeconds) * time.Second
	machine := execution.NewStateMachine(provider.GetExecutionStore(), timeout)

	evaluator := schedule.NewEvaluator()
	dispatcher := trigger.NewDispatcher(provider.GetBotStore(), machine, execution.NewBuiltinRunner())

	var sweepLease lease.Lease
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sweepLease = lease.NewRedisLease(client)
	} else {
		sweepLease = lease.NewMemoryLease()
	}

	leaseTTL := time.Duration(cfg.Engine.LeaseTTLSeconds) * time.Second
	sweeper := trigger.NewSweeper(
		provider.GetBotStore(),
		provider.GetScheduleStore(),
		evaluator,
		dispatcher,
		sweepLease,
		leaseTTL,
		cfg.Engine.MaxConcurrentDispatches,
	)

	tokens := middleware.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	apiKeys := make([]middleware.APIKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, middleware.APIKey{UserID: k.UserID, Hash: k.Hash})
	}
	auth := middleware.NewAuthMiddleware(tokens, apiKeys)

	server := api.NewServer(cfg, dispatcher, sweeper, machine, evaluator, provider.GetScheduleStore(), auth)

	return &app{
		provider: provider,
		sweeper:  sweeper,
		server:   server,
	}, nil
}

// seedBots loads YAML bot definitions from a directory into storage.
func seedBots(app *app, dir string) error {
	bots, schedules, err := loader.LoadDir(dir)
	if err != nil {
		return err
	}

	botStore := app.provider.GetBotStore()
	for _, bot := range bots {
		if err := botStore.SaveBot(bot); err != nil {
			return fmt.Errorf("failed to save bot %s: %w", bot.ID, err)
		}
	}

	scheduleStore := app.provider.GetScheduleStore()
	evaluator := schedule.NewEvaluator()
	now := time.Now()
	for _, sched := range schedules {
		if err := evaluator.Validate(sched, now); err != nil {
			return fmt.Errorf("invalid schedule for bot %s: %w", sched.BotID, err)
		}
		if err := scheduleStore.SaveSchedule(sched); err != nil {
			return fmt.Errorf("failed to save schedule for bot %s: %w", sched.BotID, err)
		}
	}

	log.Printf("Loaded %d bots and %d schedules from %s", len(bots), len(schedules), dir)
	return nil
}

// loadConfig loads the configuration from the specified path or creates a default one
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".botrunner", "config.json"),
			"/etc/botrunner/config.json",
		}

		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}

		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	overrideConfigFromEnv(cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret must be set (or BOTRUNNER_JWT_SECRET)")
	}

	return cfg, nil
}

// overrideConfigFromEnv overrides configuration values from environment variables
func overrideConfigFromEnv(cfg *config.Config) {
	if host := os.Getenv("BOTRUNNER_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("BOTRUNNER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if storageType := os.Getenv("BOTRUNNER_STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if host := os.Getenv("BOTRUNNER_POSTGRES_HOST"); host != "" {
		cfg.Storage.Postgres.Host = host
	}
	if port := os.Getenv("BOTRUNNER_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Storage.Postgres.Port = p
		}
	}
	if database := os.Getenv("BOTRUNNER_POSTGRES_DATABASE"); database != "" {
		cfg.Storage.Postgres.Database = database
	}
	if user := os.Getenv("BOTRUNNER_POSTGRES_USER"); user != "" {
		cfg.Storage.Postgres.User = user
	}
	if password := os.Getenv("BOTRUNNER_POSTGRES_PASSWORD"); password != "" {
		cfg.Storage.Postgres.Password = password
	}

	if addr := os.Getenv("BOTRUNNER_REDIS_ADDR"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("BOTRUNNER_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if secret := os.Getenv("BOTRUNNER_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("BOTRUNNER_SCHEDULER_SECRET"); secret != "" {
		cfg.Auth.SchedulerSecret = secret
	}

	if level := os.Getenv("BOTRUNNER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// configureLogging applies the process log settings. Debug adds caller
// information to every line; error silences routine output.
func configureLogging(cfg config.LoggingConfig) {
	switch cfg.Level {
	case "debug":
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	case "error":
		log.SetOutput(io.Discard)
	default:
		log.SetFlags(log.LstdFlags)
	}
}
