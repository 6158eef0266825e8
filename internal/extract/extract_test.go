package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

func writePDF(t *testing.T, dir string, pages int) string {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 24)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("Page %d", i))
	}
	path := filepath.Join(dir, fmt.Sprintf("doc-%d.pdf", pages))
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

// fakeRasterizer writes a PNG whose width encodes the page number.
type fakeRasterizer struct {
	failOn int
	calls  []int
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _ string, page, _ int, prefix string) (string, error) {
	f.calls = append(f.calls, page)
	if page == f.failOn {
		return "", errors.New("corrupt content stream")
	}
	img := image.NewGray(image.Rect(0, 0, 10+page, 20))
	out := prefix + ".png"
	fh, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	return out, png.Encode(fh, img)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestPages_TruncatesAtMaxPagesInOrder(t *testing.T) {
	src := t.TempDir()
	work := t.TempDir()
	path := writePDF(t, src, 5)
	fr := &fakeRasterizer{}
	e := &Extractor{DPI: 300, MaxPages: 3, WorkDir: work, Rasterizer: fr}

	pages, err := e.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pages.Len() != 3 || pages.SourcePages() != 5 {
		t.Fatalf("Len=%d SourcePages=%d, want 3 and 5", pages.Len(), pages.SourcePages())
	}
	var got []int
	for {
		p, ok, err := pages.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if w := p.Raster.Bounds().Dx(); w != 10+p.Index+1 {
			t.Fatalf("page %d has width %d, rasters out of order", p.Index, w)
		}
		got = append(got, p.Index)
	}
	if fmt.Sprint(got) != "[0 1 2]" {
		t.Fatalf("indexes = %v, want [0 1 2]", got)
	}
	if fmt.Sprint(fr.calls) != "[1 2 3]" {
		t.Fatalf("rasterized pages = %v, want [1 2 3]", fr.calls)
	}
	if _, ok, _ := pages.Next(context.Background()); ok {
		t.Fatalf("sequence restarted after exhaustion")
	}
	if err := pages.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pages.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	assertEmptyDir(t, work)
}

func TestPages_ShortDocument(t *testing.T) {
	path := writePDF(t, t.TempDir(), 2)
	e := &Extractor{DPI: 300, MaxPages: 3, WorkDir: t.TempDir(), Rasterizer: &fakeRasterizer{}}
	pages, err := e.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer pages.Close()
	if pages.Len() != 2 {
		t.Fatalf("Len=%d, want 2", pages.Len())
	}
}

func TestOpen_CorruptPDF(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\nthis is not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Extractor{DPI: 300, MaxPages: 3, WorkDir: work, Rasterizer: &fakeRasterizer{}}
	_, err := e.Open(context.Background(), path)
	var xe *ExtractionError
	if !errors.As(err, &xe) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if xe.Page != -1 {
		t.Fatalf("page = %d, want -1 for document-level failure", xe.Page)
	}
	assertEmptyDir(t, work)
}

func TestPages_RasterFailureCarriesPageIndex(t *testing.T) {
	work := t.TempDir()
	path := writePDF(t, t.TempDir(), 4)
	e := &Extractor{DPI: 300, MaxPages: 4, WorkDir: work, Rasterizer: &fakeRasterizer{failOn: 2}}
	pages, err := e.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok, err := pages.Next(context.Background()); !ok || err != nil {
		t.Fatalf("first page: ok=%v err=%v", ok, err)
	}
	_, ok, err := pages.Next(context.Background())
	var xe *ExtractionError
	if ok || !errors.As(err, &xe) || xe.Page != 1 {
		t.Fatalf("expected ExtractionError on page 1, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := pages.Next(context.Background()); ok || err != nil {
		t.Fatalf("sequence continued after error: ok=%v err=%v", ok, err)
	}
	pages.Close()
	assertEmptyDir(t, work)
}

func TestPages_CanceledContext(t *testing.T) {
	path := writePDF(t, t.TempDir(), 1)
	e := &Extractor{DPI: 300, MaxPages: 3, WorkDir: t.TempDir(), Rasterizer: &fakeRasterizer{}}
	pages, err := e.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer pages.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok, err := pages.Next(ctx); ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("ok=%v err=%v, want context.Canceled", ok, err)
	}
}

func TestPdftoppm_RealBinary(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed in PATH")
	}
	path := writePDF(t, t.TempDir(), 2)
	e := New(72, 3, t.TempDir(), "")
	pages, err := e.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer pages.Close()
	p, ok, err := pages.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	// A4 at 72 DPI is 595 points wide.
	if w := p.Raster.Bounds().Dx(); w < 590 || w > 600 {
		t.Fatalf("unexpected raster width %d", w)
	}
}
