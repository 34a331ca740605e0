package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/config"
	"github.com/hpungsan/robolabel/internal/db"
	"github.com/hpungsan/robolabel/internal/inference"
	"github.com/hpungsan/robolabel/internal/logging"
	"github.com/hpungsan/robolabel/internal/mcp"
	"github.com/hpungsan/robolabel/internal/ops"
	"github.com/hpungsan/robolabel/internal/prompt"
	"github.com/hpungsan/robolabel/internal/store"
	"github.com/hpungsan/robolabel/internal/tracing"
	"github.com/hpungsan/robolabel/internal/video"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "upload": true, "fetch-url": true, "analyze": true,
	"list": true, "analyses": true, "show": true, "prompt": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion(args)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
            _           _       _          _
   _ __ ___ | |__   ___ | | __ _| |__   ___| |
  | '__/ _ \| '_ \ / _ \| |/ _' | '_ \ / _ \ |
  | | | (_) | |_) | (_) | | (_| | |_) |  __/ |
  |_|  \___/|_.__/ \___/|_|\__,_|_.__/ \___|_|

  Robot arm video labeler

  Usage: robolabel <command> [options]
         robolabel --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// --help/--version need no database or model client
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && !isCLIMode(os.Args) && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'robolabel --help' for usage.\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	baseDir, err := config.BaseDir()
	if err != nil {
		return fmt.Errorf("could not determine home directory: %w", err)
	}
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	tp, err := tracing.InitTracer(ctx, cfg.TracingEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx, tp)
	}()

	env, closeEnv, err := buildEnv(ctx, baseDir, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	if isCLIMode(os.Args) {
		return newCLIApp(env).RunContext(ctx, os.Args)
	}

	// MCP server mode (default when stdin is piped)
	reclaimInterrupted(env)
	return mcp.Run(env, Version)
}

// reclaimInterrupted fails abandoned runs so they can be resumed. Only the
// long-lived modes sweep; one-shot commands leave rows to their owners.
func reclaimInterrupted(env *ops.Env) {
	if _, err := ops.ReclaimInterrupted(env); err != nil {
		env.Logger.Warn("could not mark interrupted analyses", zap.Error(err))
	}
}

// buildEnv opens the database and video store and picks the labeler.
func buildEnv(ctx context.Context, baseDir string, cfg *config.Config, logger *zap.Logger) (*ops.Env, func(), error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	vs, err := openStore(ctx, cfg)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	tpl, err := prompt.Load(cfg.PromptPath)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load prompt: %w", err)
	}

	httpClient := &http.Client{}
	env := &ops.Env{
		DB:         database,
		Config:     cfg,
		Store:      vs,
		Opener:     video.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cfg.FallbackFPS, logger),
		Labeler:    newLabeler(ctx, cfg, httpClient, logger),
		Template:   tpl,
		Model:      cfg.Model,
		HTTPClient: httpClient,
		Logger:     logger,
	}
	return env, func() { database.Close() }, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.VideoStore, error) {
	switch cfg.Storage {
	case "", config.StorageDisk:
		disk, err := store.NewDisk(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open upload dir: %w", err)
		}
		return disk, nil
	case config.StorageMinIO:
		m, err := store.NewMinIO(store.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare bucket %s: %w", cfg.MinIOBucket, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// newLabeler returns the offline mock for model "mock", otherwise a Gemini
// client behind timeouts and retries. A missing API key only surfaces when
// an analysis actually runs, so the listing commands keep working.
func newLabeler(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *zap.Logger) inference.Labeler {
	if cfg.Model == inference.MockModel {
		return &inference.Mock{}
	}
	gemini, err := inference.NewGemini(ctx, cfg.APIKey, cfg.Model, httpClient)
	if err != nil {
		return inference.LabelerFunc(func(context.Context, inference.Request) (string, error) {
			return "", err
		})
	}
	return inference.NewRetrying(gemini, inference.RetryOptions{
		Timeout:    time.Duration(cfg.InferenceTimeoutSeconds) * time.Second,
		MaxRetries: cfg.InferenceMaxRetries,
		BaseDelay:  time.Duration(cfg.InferenceRetryBaseDelayMs) * time.Millisecond,
		RPM:        cfg.InferenceRPM,
	}, logger)
}
