package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/assemble"
	"github.com/hyperifyio/pdfocr/internal/cache"
	"github.com/hyperifyio/pdfocr/internal/device"
	"github.com/hyperifyio/pdfocr/internal/extract"
	"github.com/hyperifyio/pdfocr/internal/llm"
	"github.com/hyperifyio/pdfocr/internal/pipeline"
	"github.com/hyperifyio/pdfocr/internal/recognize"
)

type App struct {
	cfg        Config
	langs      recognize.LanguageSet
	extractor  *extract.Extractor
	dispatcher *device.Dispatcher
	runner     *recognize.Runner
	assembler  *assemble.Assembler
}

// New validates cfg and builds every stage. The accelerated device, when
// requested, is probed here; Close releases it.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	langs, err := recognize.ParseLanguages(cfg.Languages)
	if err != nil {
		return nil, err
	}

	asm := assemble.New(cfg.OutputDir)
	if err := asm.Prepare(); err != nil {
		return nil, err
	}
	if _, err := asm.Sweep(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.OutputDir).Msg("stale temp sweep failed")
	}

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		langs:     langs,
		extractor: extract.New(cfg.DPI, cfg.MaxPages, cfg.WorkDir, cfg.PdftoppmPath),
		runner:    recognize.NewRunner(engine),
		assembler: asm,
	}
	a.dispatcher = device.New(ctx, device.Options{
		Accelerate: cfg.GPU,
		Probe:      device.ProbeMagick(cfg.MagickPath, cfg.WorkDir),
	})
	log.Info().Str("engine", engine.Name()).Str("langs", langs.String()).Int("dpi", cfg.DPI).
		Int("width", cfg.TargetWidth).Int("max_pages", cfg.MaxPages).
		Str("backend", a.dispatcher.Backend().String()).Msg("pipeline ready")
	return a, nil
}

func newEngine(ctx context.Context, cfg Config) (recognize.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "tesseract":
		return recognize.NewTesseract(cfg.PSM, cfg.MinConfidence), nil
	case "vision":
		var tc *cache.TextCache
		if strings.TrimSpace(cfg.CacheDir) != "" {
			if cfg.CacheClear {
				_ = cache.ClearDir(cfg.CacheDir)
			}
			if cfg.CacheMaxAge > 0 {
				if n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
					log.Warn().Err(err).Msg("cache purge failed")
				} else if n > 0 {
					log.Debug().Int("entries", n).Msg("cache entries purged")
				}
			}
			tc = &cache.TextCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
		}
		provider := llm.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, newVisionHTTPClient())
		// Preflight is best-effort: an unreachable endpoint surfaces later as
		// per-document recognition errors.
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if ok, err := llm.HasModel(pctx, provider, cfg.LLMModel); err != nil {
			log.Warn().Err(err).Msg("LLM model list failed; continuing")
		} else if !ok {
			log.Warn().Str("model", cfg.LLMModel).Msg("LLM endpoint does not list the configured model")
		}
		return recognize.NewVision(provider, cfg.LLMModel, tc), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}

// Close releases the accelerated device if one is still held.
func (a *App) Close() error {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher.Close()
}

// Run processes every PDF in the input directory. Document failures are
// logged and summarized but do not make Run fail; ErrNoInputDocuments,
// cancellation and summary write errors do.
func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	docs, err := discoverDocuments(a.cfg.InputDir, a.langs)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return ErrNoInputDocuments
	}
	log.Info().Int("documents", len(docs)).Str("input", a.cfg.InputDir).Msg("batch start")

	p := &pipeline.Pipeline{
		Open:        pipeline.FromExtractor(a.extractor),
		Normalizer:  a.dispatcher,
		Recognizer:  a.runner,
		Writer:      a.assembler,
		TargetWidth: a.cfg.TargetWidth,
	}
	sum, runErr := p.RunBatch(ctx, docs)

	for _, f := range sum.Failures {
		log.Error().Str("doc", f.Document).Str("kind", f.Kind).Msg(f.Message)
	}
	log.Info().Int("succeeded", sum.Succeeded).Int("failed", sum.Failed).
		Int("backend_faults", a.dispatcher.Faults()).Str("backend", a.dispatcher.Backend().String()).
		Dur("elapsed", time.Since(start)).Msg("batch done")

	if strings.TrimSpace(a.cfg.SummaryPath) != "" {
		if err := a.writeSummary(sum, docs); err != nil {
			if runErr == nil {
				return err
			}
			log.Warn().Err(err).Msg("summary not written")
		}
	}
	return runErr
}

func (a *App) writeSummary(sum assemble.Summary, docs []*pipeline.Document) error {
	meta := summaryMeta{
		Version:     BuildVersion,
		Engine:      a.runner.Engine.Name(),
		Languages:   a.langs.String(),
		DPI:         a.cfg.DPI,
		TargetWidth: a.cfg.TargetWidth,
		MaxPages:    a.cfg.MaxPages,
		Backend:     a.dispatcher.Backend().String(),
		GeneratedAt: time.Now().UTC(),
	}
	if meta.Engine == "vision" {
		meta.Model = a.cfg.LLMModel
	}
	data, err := marshalSummaryJSON(meta, sum, buildSummaryDocuments(docs))
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := writeSummaryFile(a.cfg.SummaryPath, data); err != nil {
		return err
	}
	log.Info().Str("path", a.cfg.SummaryPath).Msg("summary written")
	return nil
}
