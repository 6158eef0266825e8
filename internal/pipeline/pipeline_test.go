package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperifyio/pdfocr/internal/assemble"
	"github.com/hyperifyio/pdfocr/internal/device"
	"github.com/hyperifyio/pdfocr/internal/extract"
	"github.com/hyperifyio/pdfocr/internal/normalize"
	"github.com/hyperifyio/pdfocr/internal/recognize"
)

func writePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 18)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("%s page %d", name, i))
	}
	path := filepath.Join(dir, name)
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

// stripeRasterizer renders page n as a 100 x (50+10n) RGBA image whose
// content depends on n, so the recognized text identifies the page.
type stripeRasterizer struct{}

func (stripeRasterizer) Rasterize(_ context.Context, _ string, page, _ int, prefix string) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50+10*page))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < 100; x++ {
			v := uint8((x*page + y*3) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: uint8(page * 20), A: 255})
		}
	}
	out := prefix + ".png"
	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return out, png.Encode(f, img)
}

// brokenPageRasterizer renders like stripeRasterizer but fails on one
// 1-based page number.
type brokenPageRasterizer struct {
	failPage int
	calls    int
}

func (r *brokenPageRasterizer) Rasterize(ctx context.Context, pdfPath string, page, dpi int, prefix string) (string, error) {
	r.calls++
	if page == r.failPage {
		return "", errors.New("pdftoppm: exit status 99")
	}
	return stripeRasterizer{}.Rasterize(ctx, pdfPath, page, dpi, prefix)
}

// checksumEngine "recognizes" a page as its geometry plus a pixel checksum.
type checksumEngine struct {
	installed []string
	calls     int
}

func (e *checksumEngine) Name() string { return "checksum" }

func (e *checksumEngine) Languages() ([]string, error) { return e.installed, nil }

func (e *checksumEngine) Recognize(_ context.Context, img *image.Gray, langs recognize.LanguageSet) (string, error) {
	e.calls++
	sum := 0
	for _, v := range img.Pix {
		sum += int(v)
	}
	b := img.Bounds()
	return fmt.Sprintf("%s %dx%d %d\n\n", langs, b.Dx(), b.Dy(), sum), nil
}

type faultyDevice struct {
	faultOnCall int
	calls       int
	closes      int
}

func (d *faultyDevice) Name() string { return "faulty" }

func (d *faultyDevice) Resize(_ context.Context, src *image.Gray, width int) (*image.Gray, error) {
	d.calls++
	if d.calls == d.faultOnCall {
		return nil, errors.New("device lost")
	}
	return normalize.Resize(src, width)
}

func (d *faultyDevice) Close() error {
	d.closes++
	return nil
}

type fixture struct {
	in, out string
	disp    *device.Dispatcher
	engine  *checksumEngine
	p       *Pipeline
}

func newFixture(t *testing.T, maxPages int, dev device.Device) *fixture {
	t.Helper()
	f := &fixture{in: t.TempDir(), out: t.TempDir()}
	opts := device.Options{}
	if dev != nil {
		opts = device.Options{Accelerate: true, Probe: func(context.Context) (device.Device, error) { return dev, nil }}
	}
	f.disp = device.New(context.Background(), opts)
	t.Cleanup(func() { _ = f.disp.Close() })
	f.engine = &checksumEngine{installed: []string{"eng", "fin"}}
	ex := &extract.Extractor{DPI: 72, MaxPages: maxPages, WorkDir: t.TempDir(), Rasterizer: stripeRasterizer{}}
	f.p = &Pipeline{
		Open:        FromExtractor(ex),
		Normalizer:  f.disp,
		Recognizer:  recognize.NewRunner(f.engine),
		Writer:      assemble.New(f.out),
		TargetWidth: 50,
	}
	return f
}

func readArtifact(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), assemble.PageSeparator)
}

func TestProcess_TruncatesToMaxPagesInOrder(t *testing.T) {
	f := newFixture(t, 3, nil)
	doc := &Document{Path: writePDF(t, f.in, "long.pdf", 5), Langs: recognize.LanguageSet{"eng"}}
	if err := f.p.Process(context.Background(), doc); err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.Status != Done || doc.Pages != 3 || doc.SourcePages != 5 {
		t.Fatalf("doc = %+v", doc)
	}
	pages := readArtifact(t, doc.Artifact)
	if len(pages) != 3 {
		t.Fatalf("artifact has %d pages, want 3", len(pages))
	}
	// Page n (1-based) is 100x(50+10n), normalized to width 50.
	for i, text := range pages {
		want := fmt.Sprintf("eng 50x%d ", (50+10*(i+1))/2)
		if !strings.HasPrefix(text, want) {
			t.Fatalf("page %d text %q, want prefix %q", i, text, want)
		}
	}
}

func TestProcess_ShortDocumentProcessesAllPages(t *testing.T) {
	f := newFixture(t, 3, nil)
	doc := &Document{Path: writePDF(t, f.in, "short.pdf", 2), Langs: recognize.LanguageSet{"eng"}}
	if err := f.p.Process(context.Background(), doc); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := len(readArtifact(t, doc.Artifact)); got != 2 {
		t.Fatalf("pages = %d, want 2", got)
	}
}

func TestProcess_DeviceFaultFallsBackMidDocument(t *testing.T) {
	dev := &faultyDevice{faultOnCall: 2}
	f := newFixture(t, 3, dev)
	if f.disp.Backend() != device.Accelerated {
		t.Fatalf("backend = %s, want accelerated", f.disp.Backend())
	}
	doc := &Document{Path: writePDF(t, f.in, "gpu.pdf", 3), Langs: recognize.LanguageSet{"eng"}}
	if err := f.p.Process(context.Background(), doc); err != nil {
		t.Fatalf("process: %v", err)
	}
	if dev.calls != 2 {
		t.Fatalf("device saw %d calls, want 2 (pages after the fault run on software)", dev.calls)
	}
	if dev.closes != 1 || doc.Faults != 1 || f.disp.Backend() != device.Software {
		t.Fatalf("closes=%d faults=%d backend=%s", dev.closes, doc.Faults, f.disp.Backend())
	}

	// The faulted page still produced the same text as a clean software run.
	ref := newFixture(t, 3, nil)
	refDoc := &Document{Path: writePDF(t, ref.in, "gpu.pdf", 3), Langs: recognize.LanguageSet{"eng"}}
	if err := ref.p.Process(context.Background(), refDoc); err != nil {
		t.Fatalf("reference process: %v", err)
	}
	got, want := readArtifact(t, doc.Artifact), readArtifact(t, refDoc.Artifact)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("fallback output differs:\n%q\n%q", got, want)
	}
}

func TestRunBatch_UninstalledLanguageFailsOnlyThatDocument(t *testing.T) {
	f := newFixture(t, 3, nil)
	docs := []*Document{
		{Path: writePDF(t, f.in, "a.pdf", 1), Langs: recognize.LanguageSet{"eng"}},
		{Path: writePDF(t, f.in, "b.pdf", 2), Langs: recognize.LanguageSet{"eng", "xx"}},
		{Path: writePDF(t, f.in, "c.pdf", 1), Langs: recognize.LanguageSet{"fin"}},
	}
	sum, err := f.p.RunBatch(context.Background(), docs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if sum.Succeeded != 2 || sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if sum.Failures[0].Document != "b.pdf" || sum.Failures[0].Kind != "recognition" {
		t.Fatalf("failure %+v", sum.Failures[0])
	}
	var re *recognize.RecognitionError
	if docs[1].Status != Failed || !errors.As(docs[1].Err, &re) {
		t.Fatalf("doc b = %+v", docs[1])
	}
	for _, name := range []string{"a.txt", "c.txt"} {
		if _, err := os.Stat(filepath.Join(f.out, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(f.out, "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed document left an artifact")
	}
	if f.engine.calls != 2 {
		t.Fatalf("engine ran %d pages, want 2 (none for b.pdf)", f.engine.calls)
	}
}

func TestRunBatch_CorruptPDFIsExtractionFailure(t *testing.T) {
	f := newFixture(t, 3, nil)
	bad := filepath.Join(f.in, "bad.pdf")
	if err := os.WriteFile(bad, []byte("%PDF-1.4\nnot really"), 0o644); err != nil {
		t.Fatal(err)
	}
	docs := []*Document{
		{Path: bad, Langs: recognize.LanguageSet{"eng"}},
		{Path: writePDF(t, f.in, "good.pdf", 1), Langs: recognize.LanguageSet{"eng"}},
	}
	sum, err := f.p.RunBatch(context.Background(), docs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if sum.Failed != 1 || sum.Failures[0].Kind != "extraction" || sum.Succeeded != 1 {
		t.Fatalf("summary %+v", sum)
	}
}

func TestRunBatch_PageRasterFailureLeavesNoArtifact(t *testing.T) {
	f := newFixture(t, 3, nil)
	r := &brokenPageRasterizer{failPage: 2}
	f.p.Open = FromExtractor(&extract.Extractor{DPI: 72, MaxPages: 3, WorkDir: t.TempDir(), Rasterizer: r})
	doc := &Document{Path: writePDF(t, f.in, "broken.pdf", 3), Langs: recognize.LanguageSet{"eng"}}

	sum, err := f.p.RunBatch(context.Background(), []*Document{doc})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if sum.Failed != 1 || sum.Failures[0].Kind != "extraction" {
		t.Fatalf("summary %+v", sum)
	}
	var ee *extract.ExtractionError
	if !errors.As(doc.Err, &ee) || ee.Page != 1 {
		t.Fatalf("err = %v, want ExtractionError on page index 1", doc.Err)
	}
	if doc.Status != Failed || doc.Artifact != "" {
		t.Fatalf("doc status %s artifact %q", doc.Status, doc.Artifact)
	}
	if r.calls != 2 {
		t.Fatalf("rasterizer calls = %d, want 2", r.calls)
	}
	if f.engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", f.engine.calls)
	}
	entries, err := os.ReadDir(f.out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("output dir not empty: %v", entries)
	}
}

func TestRunBatch_DeterministicOutput(t *testing.T) {
	var outputs []string
	for i := 0; i < 2; i++ {
		f := newFixture(t, 3, nil)
		doc := &Document{Path: writePDF(t, f.in, "same.pdf", 4), Langs: recognize.LanguageSet{"eng", "fin"}}
		if _, err := f.p.RunBatch(context.Background(), []*Document{doc}); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(f.out, "same.txt"))
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, string(b))
	}
	if outputs[0] != outputs[1] {
		t.Fatalf("outputs differ between runs")
	}
}

func TestRunBatch_CanceledLeavesNoArtifact(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.p.Recognizer = cancelingRecognizer{Recognizer: f.p.Recognizer, cancel: cancel}
	docs := []*Document{
		{Path: writePDF(t, f.in, "one.pdf", 3), Langs: recognize.LanguageSet{"eng"}},
		{Path: writePDF(t, f.in, "two.pdf", 1), Langs: recognize.LanguageSet{"eng"}},
	}
	sum, err := f.p.RunBatch(ctx, docs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Failed != 1 || sum.Failures[0].Kind != "canceled" {
		t.Fatalf("summary %+v", sum)
	}
	if docs[1].Status != Pending {
		t.Fatalf("second document should stay pending, got %s", docs[1].Status)
	}
	entries, _ := os.ReadDir(f.out)
	if len(entries) != 0 {
		t.Fatalf("output dir not empty after cancel: %d entries", len(entries))
	}
}

// cancelingRecognizer cancels the batch after recognizing the first page.
type cancelingRecognizer struct {
	Recognizer
	cancel context.CancelFunc
}

func (c cancelingRecognizer) Recognize(ctx context.Context, page int, img *image.Gray, langs recognize.LanguageSet) (string, error) {
	text, err := c.Recognizer.Recognize(ctx, page, img, langs)
	c.cancel()
	return text, err
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&extract.ExtractionError{Page: -1, Err: errors.New("x")}, "extraction"},
		{fmt.Errorf("wrap: %w", &normalize.NormalizationError{Reason: "zero"}), "normalization"},
		{&recognize.RecognitionError{Page: 2, Err: errors.New("x")}, "recognition"},
		{&assemble.AssemblyError{Source: "a.pdf", Err: errors.New("disk full")}, "assembly"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Fatalf("Kind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
