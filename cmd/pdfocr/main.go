package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	if opts.version {
		fmt.Printf("pdfocr %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return 0
	}
	if opts.cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Debug().Str("version", app.BuildVersion).Str("commit", app.BuildCommit).Msg("pdfocr starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, opts.cfg)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
	}
	return exitCode(err)
}

// exitCode maps run errors to the process exit status: 0 when the batch
// completed, even with failed documents; 2 when there was nothing to do; 1
// otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrNoInputDocuments):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("release accelerated device")
		}
	}()
	return a.Run(ctx)
}

type options struct {
	cfg     app.Config
	version bool
}

// parseArgs builds the configuration with precedence flags > environment
// (including dotenv files) > config file > defaults.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	d := app.DefaultConfig()
	var (
		f          app.Config
		configPath string
		envFile    string
		opts       options
	)
	fs := flag.NewFlagSet("pdfocr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.InputDir, "input", d.InputDir, "Directory of PDF files to process")
	fs.StringVar(&f.OutputDir, "output", d.OutputDir, "Directory for the .txt artifacts")
	fs.StringVar(&f.WorkDir, "work", "", "Directory for temporary page rasters (system temp when empty)")
	fs.IntVar(&f.DPI, "dpi", d.DPI, "Rasterization resolution")
	fs.IntVar(&f.TargetWidth, "width", d.TargetWidth, "Normalized page width in pixels")
	fs.IntVar(&f.MaxPages, "max-pages", d.MaxPages, "Maximum pages processed per document")
	fs.BoolVar(&f.GPU, "gpu", false, "Try the OpenCL-accelerated resize backend")
	fs.StringVar(&f.Languages, "langs", d.Languages, "Plus-joined recognition languages, e.g. eng+fin")
	fs.StringVar(&f.Engine, "engine", d.Engine, "OCR engine: tesseract or vision")
	fs.IntVar(&f.PSM, "psm", 0, "Tesseract page segmentation mode (0 keeps the default)")
	fs.Float64Var(&f.MinConfidence, "min-conf", 0, "Drop words below this Tesseract confidence (0..100)")
	fs.StringVar(&f.PdftoppmPath, "pdftoppm", "", "Path to pdftoppm")
	fs.StringVar(&f.MagickPath, "magick", "", "Path to ImageMagick magick")
	fs.StringVar(&f.LLMBaseURL, "llm.base", "", "OpenAI-compatible base URL for the vision engine")
	fs.StringVar(&f.LLMModel, "llm.model", "", "Vision model name")
	fs.StringVar(&f.LLMAPIKey, "llm.key", "", "API key for the vision endpoint")
	fs.StringVar(&f.CacheDir, "cache.dir", d.CacheDir, "Vision response cache directory")
	fs.DurationVar(&f.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this; 0 disables")
	fs.BoolVar(&f.CacheClear, "cache.clear", false, "Clear the cache before the run")
	fs.BoolVar(&f.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.StringVar(&f.SummaryPath, "summary", "", "Write a JSON batch summary to this path")
	fs.BoolVar(&f.Verbose, "v", false, "Verbose logging")
	fs.StringVar(&configPath, "config", "", "YAML or JSON config file")
	fs.StringVar(&envFile, "env-file", "", "Additional dotenv file loaded after .env")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if err := app.LoadEnvFiles(".env", envFile); err != nil {
		return opts, err
	}
	cfg := d
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return opts, fmt.Errorf("config file: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "input":
			cfg.InputDir = f.InputDir
		case "output":
			cfg.OutputDir = f.OutputDir
		case "work":
			cfg.WorkDir = f.WorkDir
		case "dpi":
			cfg.DPI = f.DPI
		case "width":
			cfg.TargetWidth = f.TargetWidth
		case "max-pages":
			cfg.MaxPages = f.MaxPages
		case "gpu":
			cfg.GPU = f.GPU
		case "langs":
			cfg.Languages = f.Languages
		case "engine":
			cfg.Engine = f.Engine
		case "psm":
			cfg.PSM = f.PSM
		case "min-conf":
			cfg.MinConfidence = f.MinConfidence
		case "pdftoppm":
			cfg.PdftoppmPath = f.PdftoppmPath
		case "magick":
			cfg.MagickPath = f.MagickPath
		case "llm.base":
			cfg.LLMBaseURL = f.LLMBaseURL
		case "llm.model":
			cfg.LLMModel = f.LLMModel
		case "llm.key":
			cfg.LLMAPIKey = f.LLMAPIKey
		case "cache.dir":
			cfg.CacheDir = f.CacheDir
		case "cache.maxAge":
			cfg.CacheMaxAge = f.CacheMaxAge
		case "cache.clear":
			cfg.CacheClear = f.CacheClear
		case "cache.strictPerms":
			cfg.CacheStrictPerms = f.CacheStrictPerms
		case "summary":
			cfg.SummaryPath = f.SummaryPath
		case "v":
			cfg.Verbose = f.Verbose
		}
	})
	if err := app.ValidateConfig(cfg); err != nil {
		return opts, err
	}
	opts.cfg = cfg
	return opts, nil
}
