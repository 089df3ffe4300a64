package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/smartreceipt/internal/parsing"
	"github.com/zombor/smartreceipt/internal/receipt"
	"github.com/zombor/smartreceipt/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("smartreceipt")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbDriver      = fs.StringLong("db-driver", "bolt", "Database: 'bolt' or 'postgres'")
		dbPath        = fs.StringLong("db", "smartreceipt.db", "BoltDB file path")
		databaseURL   = fs.StringLong("database-url", "", "Postgres connection string (db-driver=postgres)")
		storageDriver = fs.StringLong("storage-driver", "local", "File storage: 'local' or 's3'")
		storagePath   = fs.StringLong("storage", "./receipts", "Storage directory path (storage-driver=local)")
		s3Bucket      = fs.StringLong("s3-bucket", "", "S3 bucket for uploads and transcripts")
		s3Prefix      = fs.StringLong("s3-prefix", "receipts/", "S3 key prefix")
		awsRegion     = fs.StringLong("aws-region", "", "AWS region for Textract and S3")
		awsAccessKey  = fs.StringLong("aws-access-key", "", "AWS access key (default credential chain if empty)")
		awsSecretKey  = fs.StringLong("aws-secret-key", "", "AWS secret key")
		ocrBackend    = fs.StringLong("ocr", "textract", "OCR backend: 'textract', 'gemini' or 'ollama'")
		nerBackend    = fs.StringLong("ner", "none", "Entity recognizer: 'gemini', 'ollama' or 'none'")
		classifier    = fs.StringLong("classifier", "keywords", "Category classifier: 'keywords', 'gemini', 'ollama' or 'none'")
		categories    = fs.StringLong("categories-file", "", "YAML keyword rules (built-in rules if empty)")
		cacheSize     = fs.IntLong("category-cache-size", parsing.DefaultCategoryCacheSize, "Category cache entries")
		pairing       = fs.StringLong("pairing", "adjacent", "Entity pairing: 'adjacent' or 'window'")
		pairingWindow = fs.IntLong("pairing-window", 3, "Entities to look ahead for a price (pairing=window)")
		maxImageMB    = fs.IntLong("max-image-mb", 5, "Largest accepted image in MiB")
		ocrAttempts   = fs.IntLong("ocr-attempts", 3, "OCR attempts before giving up")
		ocrTimeout    = fs.DurationLong("ocr-timeout", 30*time.Second, "Timeout for each OCR attempt")
		enhance       = fs.BoolLong("enhance", "Grayscale, contrast and sharpen images before OCR")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_             = fs.StringLong("config", "", "Config file (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SMARTRECEIPT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
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

	if err := setupLogging(*logFormat, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver)
	db, err := openDB(*dbDriver, *dbPath, *databaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	b := &backends{
		aws: scanning.AWSOptions{
			Region:    *awsRegion,
			AccessKey: *awsAccessKey,
			SecretKey: *awsSecretKey,
		},
		image: scanning.ImageOptions{
			Enhance:  *enhance,
			MaxBytes: *maxImageMB << 20,
		},
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
	}
	defer b.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "driver", *storageDriver)
	store, err := b.storage(ctx, *storageDriver, *storagePath, *s3Bucket, *s3Prefix)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing OCR...", "backend", *ocrBackend)
	analyzer, err := b.analyzer(ctx, *ocrBackend)
	if err != nil {
		slog.Error("Failed to initialize OCR", "error", err)
		os.Exit(1)
	}

	recognizer, err := b.recognizer(ctx, *nerBackend)
	if err != nil {
		slog.Error("Failed to initialize entity recognizer", "error", err)
		os.Exit(1)
	}

	cls, err := b.classifier(ctx, *classifier, *categories)
	if err != nil {
		slog.Error("Failed to initialize classifier", "error", err)
		os.Exit(1)
	}
	resolver, err := parsing.NewCategoryResolver(cls, *cacheSize)
	if err != nil {
		slog.Error("Failed to initialize category cache", "error", err)
		os.Exit(1)
	}

	cfg := parsing.DefaultConfig()
	cfg.MaxImageBytes = *maxImageMB << 20
	cfg.OCRAttempts = *ocrAttempts
	cfg.OCRTimeout = *ocrTimeout
	cfg.Pairing = parsing.NewPairingStrategy(*pairing, *pairingWindow)
	pipeline := parsing.NewPipeline(analyzer, recognizer, resolver, cfg)

	// Initialize service
	receiptService := receipt.NewService(db, pipeline, store)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, version)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// setupLogging installs the default slog handler
func setupLogging(format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q (valid: text, json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// openDB opens the persistence gateway for the selected driver
func openDB(driver, path, databaseURL string) (receipt.DB, error) {
	switch driver {
	case "bolt":
		return receipt.NewBoltDB(path)
	case "postgres":
		if databaseURL == "" {
			return nil, errors.New("--database-url is required for the postgres driver")
		}
		return receipt.NewGormDB(databaseURL)
	default:
		return nil, fmt.Errorf("invalid db driver %q (valid: bolt, postgres)", driver)
	}
}
