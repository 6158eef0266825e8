package app

import "time"

// Config holds runtime configuration for the application.
type Config struct {
	InputDir  string
	OutputDir string
	WorkDir   string

	// Rasterization and normalization
	DPI         int
	TargetWidth int
	MaxPages    int
	GPU         bool

	// Recognition
	Languages     string
	Engine        string
	PSM           int
	MinConfidence float64

	// External tools; empty means look up on PATH
	PdftoppmPath string
	MagickPath   string

	// LLM (vision engine)
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	// Cache for vision responses
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool

	SummaryPath string
	Verbose     bool
}

const (
	defaultInputDir    = "data"
	defaultOutputDir   = "output"
	defaultDPI         = 500
	defaultTargetWidth = 1800
	defaultMaxPages    = 3
	defaultLanguages   = "eng"
	defaultEngine      = "tesseract"
	defaultCacheDir    = ".pdfocr-cache"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		InputDir:    defaultInputDir,
		OutputDir:   defaultOutputDir,
		DPI:         defaultDPI,
		TargetWidth: defaultTargetWidth,
		MaxPages:    defaultMaxPages,
		Languages:   defaultLanguages,
		Engine:      defaultEngine,
		CacheDir:    defaultCacheDir,
	}
}
