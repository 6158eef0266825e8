// Package pipeline drives one document at a time through extraction,
// normalization, recognition and assembly, one page at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/assemble"
	"github.com/hyperifyio/pdfocr/internal/device"
	"github.com/hyperifyio/pdfocr/internal/extract"
	"github.com/hyperifyio/pdfocr/internal/normalize"
	"github.com/hyperifyio/pdfocr/internal/recognize"
)

// Status is the lifecycle state of a Document.
type Status int

const (
	Pending Status = iota
	Processing
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Document is one input PDF and its processing state.
type Document struct {
	Path  string
	Langs recognize.LanguageSet

	Status      Status
	Pages       int
	SourcePages int
	Faults      int
	Artifact    string
	Err         error
	Elapsed     time.Duration
}

// PageSource yields the page rasters of one document.
type PageSource interface {
	Len() int
	SourcePages() int
	Next(ctx context.Context) (extract.Page, bool, error)
	Close() error
}

// OpenFunc opens a document for page extraction.
type OpenFunc func(ctx context.Context, path string) (PageSource, error)

// FromExtractor adapts an extract.Extractor to an OpenFunc.
func FromExtractor(e *extract.Extractor) OpenFunc {
	return func(ctx context.Context, path string) (PageSource, error) {
		pages, err := e.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return pages, nil
	}
}

// Normalizer converts a page raster to a grayscale image at the target width.
// *device.Dispatcher implements it.
type Normalizer interface {
	Normalize(ctx context.Context, page int, img image.Image, width int) (*image.Gray, error)
}

// Recognizer is implemented by *recognize.Runner.
type Recognizer interface {
	Prepare(ctx context.Context, langs recognize.LanguageSet) error
	Recognize(ctx context.Context, page int, img *image.Gray, langs recognize.LanguageSet) (string, error)
}

// Writer is implemented by *assemble.Assembler.
type Writer interface {
	Write(source string, pages []string) (string, error)
}

// Pipeline holds the stages. All stages are called from one goroutine.
type Pipeline struct {
	Open        OpenFunc
	Normalizer  Normalizer
	Recognizer  Recognizer
	Writer      Writer
	TargetWidth int
}

// Process runs doc end to end. On error doc is marked Failed and no artifact
// is published for it.
func (p *Pipeline) Process(ctx context.Context, doc *Document) error {
	start := time.Now()
	doc.Status = Processing
	faultsBefore := p.faults()
	err := p.process(ctx, doc)
	if err != nil && ctx.Err() != nil {
		// A stage killed by cancellation reports its own failure; the cause is
		// the cancellation.
		err = ctx.Err()
	}
	doc.Faults = p.faults() - faultsBefore
	doc.Elapsed = time.Since(start)
	if err != nil {
		doc.Status = Failed
		doc.Err = err
		return err
	}
	doc.Status = Done
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc *Document) error {
	name := filepath.Base(doc.Path)
	if err := p.Recognizer.Prepare(ctx, doc.Langs); err != nil {
		return err
	}
	pages, err := p.Open(ctx, doc.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pages.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("doc", name).Msg("page cleanup failed")
		}
	}()
	doc.Pages = pages.Len()
	doc.SourcePages = pages.SourcePages()

	texts := make([]string, 0, pages.Len())
	for {
		page, ok, err := pages.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		gray, err := p.Normalizer.Normalize(ctx, page.Index, page.Raster, p.TargetWidth)
		page.Raster = nil
		if err != nil {
			return err
		}
		text, err := p.Recognizer.Recognize(ctx, page.Index, gray, doc.Langs)
		if err != nil {
			return err
		}
		texts = append(texts, text)
		ev := log.Debug().Str("doc", name).Int("page", page.Index).Int("chars", len(text))
		if b, ok := p.Normalizer.(interface{ Backend() device.Kind }); ok {
			ev = ev.Str("backend", b.Backend().String())
		}
		ev.Msg("page done")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	artifact, err := p.Writer.Write(doc.Path, texts)
	if err != nil {
		return err
	}
	doc.Artifact = artifact
	return nil
}

func (p *Pipeline) faults() int {
	if f, ok := p.Normalizer.(interface{ Faults() int }); ok {
		return f.Faults()
	}
	return 0
}

// RunBatch processes docs in order. A failing document, or one already marked
// Failed by the caller, is recorded and the batch moves on. Only cancellation
// stops it early; the remaining documents then stay Pending and ctx's error
// is returned.
func (p *Pipeline) RunBatch(ctx context.Context, docs []*Document) (assemble.Summary, error) {
	var sum assemble.Summary
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := filepath.Base(doc.Path)
		if doc.Status == Failed && doc.Err != nil {
			// Rejected before processing, e.g. by a bad language sidecar.
			sum.Record(assemble.Outcome{Source: doc.Path, Kind: Kind(doc.Err), Err: doc.Err})
			log.Error().Err(doc.Err).Str("doc", name).Str("kind", Kind(doc.Err)).Msg("document failed")
			continue
		}
		log.Info().Str("doc", name).Str("langs", doc.Langs.String()).Msg("document start")
		err := p.Process(ctx, doc)
		sum.Record(assemble.Outcome{Source: doc.Path, Artifact: doc.Artifact, Kind: Kind(err), Err: err})
		if err != nil {
			log.Error().Err(err).Str("doc", name).Str("kind", Kind(err)).Msg("document failed")
			if isCanceled(err) {
				return sum, err
			}
			continue
		}
		log.Info().Str("doc", name).Int("pages", doc.Pages).Int("source_pages", doc.SourcePages).
			Dur("elapsed", doc.Elapsed).Str("artifact", doc.Artifact).Msg("document done")
	}
	return sum, nil
}

// Kind names the class of a document error for summaries and logs.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		ee *extract.ExtractionError
		ne *normalize.NormalizationError
		re *recognize.RecognitionError
		ae *assemble.AssemblyError
		bf *device.BackendFault
	)
	switch {
	case isCanceled(err):
		return "canceled"
	case errors.As(err, &ee):
		return "extraction"
	case errors.As(err, &ne):
		return "normalization"
	case errors.As(err, &re):
		return "recognition"
	case errors.As(err, &ae):
		return "assembly"
	case errors.As(err, &bf):
		return "backend"
	default:
		return "internal"
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
