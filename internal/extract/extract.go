// Package extract turns a PDF file into a lazy, bounded sequence of page
// rasters.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

func init() {
	// Page counting needs no pdfcpu user config; keep it from creating one.
	api.DisableConfigDir()
}

// Page is one rasterized PDF page. The Raster is owned by whoever holds the
// Page; stages hand it on and drop their own reference.
type Page struct {
	Index  int
	Raster image.Image
}

// ExtractionError reports a PDF that could not be opened or a page that could
// not be rasterized. Page is -1 for document-level failures.
type ExtractionError struct {
	Path string
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("extract %s: %v", filepath.Base(e.Path), e.Err)
	}
	return fmt.Sprintf("extract %s page %d: %v", filepath.Base(e.Path), e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Rasterizer renders one 1-based page of a PDF to a PNG file named
// prefix+".png" and returns that path.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, page, dpi int, prefix string) (string, error)
}

// Extractor opens PDFs for page-by-page rasterization.
type Extractor struct {
	DPI        int
	MaxPages   int
	WorkDir    string
	Rasterizer Rasterizer
}

// New returns an Extractor that rasterizes with pdftoppm.
func New(dpi, maxPages int, workDir, pdftoppmPath string) *Extractor {
	return &Extractor{
		DPI:        dpi,
		MaxPages:   maxPages,
		WorkDir:    workDir,
		Rasterizer: Pdftoppm{Path: pdftoppmPath},
	}
}

// Open validates the PDF, reads its page count and prepares a per-document
// temporary directory. The returned Pages must be closed.
func (e *Extractor) Open(ctx context.Context, path string) (*Pages, error) {
	if e.DPI <= 0 || e.MaxPages <= 0 {
		return nil, &ExtractionError{Path: path, Page: -1, Err: fmt.Errorf("invalid bounds dpi=%d maxPages=%d", e.DPI, e.MaxPages)}
	}
	n, err := countPages(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Page: -1, Err: err}
	}
	if n == 0 {
		return nil, &ExtractionError{Path: path, Page: -1, Err: errors.New("document has no pages")}
	}
	total := n
	if total > e.MaxPages {
		log.Debug().Str("doc", filepath.Base(path)).Int("pages", n).Int("max", e.MaxPages).Msg("truncating page range")
		total = e.MaxPages
	}
	dir, err := os.MkdirTemp(e.WorkDir, "pdfocr-pages-")
	if err != nil {
		return nil, &ExtractionError{Path: path, Page: -1, Err: fmt.Errorf("temp dir: %w", err)}
	}
	return &Pages{
		path:   path,
		dpi:    e.DPI,
		dir:    dir,
		total:  total,
		source: n,
		r:      e.Rasterizer,
	}, nil
}

func countPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return n, nil
}

// Pages is a finite, non-restartable sequence of page rasters.
type Pages struct {
	path   string
	dpi    int
	dir    string
	next   int
	total  int
	source int
	r      Rasterizer
}

// Len is the number of pages the sequence yields (the capped count).
func (p *Pages) Len() int { return p.total }

// SourcePages is the page count of the PDF before capping.
func (p *Pages) SourcePages() int { return p.source }

// Next rasterizes and returns the next page. ok is false once the sequence is
// exhausted, after an error, or after Close.
func (p *Pages) Next(ctx context.Context) (page Page, ok bool, err error) {
	if p.dir == "" || p.next >= p.total {
		return Page{}, false, nil
	}
	idx := p.next
	if err := ctx.Err(); err != nil {
		p.next = p.total
		return Page{}, false, err
	}
	img, err := p.rasterize(ctx, idx)
	if err != nil {
		p.next = p.total
		return Page{}, false, &ExtractionError{Path: p.path, Page: idx, Err: err}
	}
	p.next++
	return Page{Index: idx, Raster: img}, true, nil
}

func (p *Pages) rasterize(ctx context.Context, idx int) (image.Image, error) {
	prefix := filepath.Join(p.dir, "page-"+strconv.Itoa(idx+1))
	file, err := p.r.Rasterize(ctx, p.path, idx+1, p.dpi, prefix)
	if file != "" {
		defer os.Remove(file)
	}
	if err != nil {
		return nil, err
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty raster %v", b)
	}
	return img, nil
}

// Close removes the temporary directory. It is safe to call more than once.
func (p *Pages) Close() error {
	if p.dir == "" {
		return nil
	}
	dir := p.dir
	p.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove page dir: %w", err)
	}
	return nil
}
