package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-tracker/internal/cache"
	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
	"github.com/zombor/receipt-tracker/internal/spending"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-tracker")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		dbDriver      = fs.StringLong("db-driver", "bolt", "Record store: 'bolt', 'sqlite' or 'postgres'")
		dbDSN         = fs.StringLong("db", "receipt-tracker.db", "Database file path, or DSN for postgres")
		storageType   = fs.StringLong("storage", "local", "Image storage: 'local' or 'gcs'")
		storagePath   = fs.StringLong("storage-path", "./receipts", "Storage directory path for local storage")
		bucket        = fs.StringLong("storage-bucket", "", "GCS bucket for gcs storage")
		gcsCreds      = fs.StringLong("gcs-credentials", "", "Service account JSON file for GCS (default: application default credentials)")
		publicURL     = fs.StringLong("public-url", "", "Externally reachable base URL of this server (default: http://localhost:<port>)")
		scannerType   = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'openai'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		openAIKey     = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIModel   = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openAIURL     = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		jwtSecret     = fs.StringLong("jwt-secret", "", "HS256 secret for bearer tokens; the 'sub' claim is the owner (optional)")
		defaultOwner  = fs.StringLong("default-owner", receipt.DefaultOwner, "Owner of all data when no authentication is configured")
		redisAddr     = fs.StringLong("redis-addr", "", "Redis address for the summary cache (default: in-memory)")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		cacheSize     = fs.IntLong("cache-size", 1000, "Maximum entries of the in-memory summary cache")
		cacheTTL      = fs.DurationLong("cache-ttl", 10*time.Minute, "How long a monthly summary stays cached")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver)
	var db receipt.DB
	switch *dbDriver {
	case "bolt":
		db, err = receipt.NewBoltDB(*dbDSN)
	case receipt.DriverSQLite, receipt.DriverPostgres:
		db, err = receipt.NewSQLDB(*dbDriver, *dbDSN)
	default:
		err = fmt.Errorf("invalid db driver %q (valid: bolt, sqlite or postgres)", *dbDriver)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	case "openai":
		apiKey := *openAIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI scanner...", "url", *openAIURL, "model", *openAIModel)
		scanner, err = scanning.NewOpenAI(apiKey, *openAIModel, *openAIURL)
	default:
		err = fmt.Errorf("invalid scanner type %q (valid: gemini, ollama or openai)", *scannerType)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	if *publicURL == "" {
		*publicURL = fmt.Sprintf("http://localhost:%d", *port)
	}
	slog.Info("Initializing storage...", "type", *storageType)
	var store receipt.Storage
	switch *storageType {
	case "local":
		store, err = receipt.NewLocalStorage(*storagePath, *publicURL)
	case "gcs":
		var opts []option.ClientOption
		if *gcsCreds != "" {
			opts = append(opts, option.WithCredentialsFile(*gcsCreds))
		}
		store, err = receipt.NewGCSStorage(ctx, *bucket, opts...)
	default:
		err = fmt.Errorf("invalid storage type %q (valid: local or gcs)", *storageType)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Summary cache: redis when reachable, otherwise in memory
	var summaries cache.Cache[spending.Summary]
	if *redisAddr != "" {
		client, err := cache.Connect(ctx, *redisAddr, *redisPassword, *redisDB)
		if err != nil {
			slog.Warn("Redis unavailable, using in-memory cache", "address", *redisAddr, "error", err)
		} else {
			defer client.Close()
			summaries = cache.NewRedis[spending.Summary](client, "receipt-tracker", *cacheTTL)
			slog.Info("Using redis summary cache", "address", *redisAddr)
		}
	}
	if summaries == nil {
		lru := cache.NewLRU[spending.Summary](*cacheSize, *cacheTTL)
		janitor := cache.NewJanitor(lru)
		janitor.Start(time.Minute)
		defer janitor.Stop()
		summaries = lru
	}

	// Initialize service
	receiptService := receipt.NewService(db, scanner, store, summaries)

	// Initialize server
	auth := receipt.Auth{
		Username:     *authUser,
		Password:     *authPass,
		JWTSecret:    *jwtSecret,
		DefaultOwner: *defaultOwner,
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           receipt.NewServer(receiptService, auth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", httpServer.Addr, "public_url", *publicURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	switch {
	case *jwtSecret != "":
		slog.Info("Bearer token auth enabled", "basic_auth", *authUser != "")
	case *authUser != "" || *authPass != "":
		slog.Info("Basic auth enabled", "user", *authUser)
	default:
		slog.Info("Authentication disabled", "owner", *defaultOwner)
	}

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
