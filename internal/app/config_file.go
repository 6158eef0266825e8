package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/pdfocr/internal/recognize"
)

// FileConfig is the single-file configuration schema. Sections mirror the
// flag prefixes.
type FileConfig struct {
	Input  string `yaml:"input" json:"input"`
	Output string `yaml:"output" json:"output"`
	Work   string `yaml:"work" json:"work"`

	Raster struct {
		DPI      int `yaml:"dpi" json:"dpi"`
		Width    int `yaml:"width" json:"width"`
		MaxPages int `yaml:"maxPages" json:"maxPages"`
	} `yaml:"raster" json:"raster"`

	// GPU is a pointer so a file can turn acceleration off explicitly.
	GPU *bool `yaml:"gpu" json:"gpu"`

	OCR struct {
		Langs         string  `yaml:"langs" json:"langs"`
		Engine        string  `yaml:"engine" json:"engine"`
		PSM           int     `yaml:"psm" json:"psm"`
		MinConfidence float64 `yaml:"minConfidence" json:"minConfidence"`
	} `yaml:"ocr" json:"ocr"`

	Tools struct {
		Pdftoppm string `yaml:"pdftoppm" json:"pdftoppm"`
		Magick   string `yaml:"magick" json:"magick"`
	} `yaml:"tools" json:"tools"`

	LLM struct {
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
		APIKey  string `yaml:"key" json:"key"`
	} `yaml:"llm" json:"llm"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	Summary string `yaml:"summary" json:"summary"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. It runs on top
// of DefaultConfig and below environment overrides and flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	str := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	pos := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	str(&cfg.InputDir, fc.Input)
	str(&cfg.OutputDir, fc.Output)
	str(&cfg.WorkDir, fc.Work)

	pos(&cfg.DPI, fc.Raster.DPI)
	pos(&cfg.TargetWidth, fc.Raster.Width)
	pos(&cfg.MaxPages, fc.Raster.MaxPages)
	if fc.GPU != nil {
		cfg.GPU = *fc.GPU
	}

	str(&cfg.Languages, fc.OCR.Langs)
	str(&cfg.Engine, fc.OCR.Engine)
	pos(&cfg.PSM, fc.OCR.PSM)
	if fc.OCR.MinConfidence > 0 {
		cfg.MinConfidence = fc.OCR.MinConfidence
	}

	str(&cfg.PdftoppmPath, fc.Tools.Pdftoppm)
	str(&cfg.MagickPath, fc.Tools.Magick)

	str(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	str(&cfg.LLMModel, fc.LLM.Model)
	str(&cfg.LLMAPIKey, fc.LLM.APIKey)

	str(&cfg.CacheDir, fc.Cache.Dir)
	if fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}

	str(&cfg.SummaryPath, fc.Summary)
	if fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig rejects settings the pipeline cannot run with.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputDir) == "" {
		return errors.New("config: input directory is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output directory is required")
	}
	if cfg.DPI <= 0 {
		return fmt.Errorf("config: DPI must be positive, got %d", cfg.DPI)
	}
	if cfg.TargetWidth <= 0 {
		return fmt.Errorf("config: target width must be positive, got %d", cfg.TargetWidth)
	}
	if cfg.MaxPages <= 0 {
		return fmt.Errorf("config: max pages must be positive, got %d", cfg.MaxPages)
	}
	if _, err := recognize.ParseLanguages(cfg.Languages); err != nil {
		return fmt.Errorf("config: OCR_LANGS: %w", err)
	}
	if cfg.PSM < 0 || cfg.PSM > 13 {
		return fmt.Errorf("config: page segmentation mode %d out of range 0..13", cfg.PSM)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		return fmt.Errorf("config: min confidence %v out of range 0..100", cfg.MinConfidence)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "tesseract":
	case "vision":
		if strings.TrimSpace(cfg.LLMModel) == "" {
			return errors.New("config: llm.model is required for the vision engine (or set LLM_MODEL)")
		}
	default:
		return fmt.Errorf("config: unknown OCR engine %q", cfg.Engine)
	}
	return nil
}
