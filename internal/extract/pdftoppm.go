package extract

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Pdftoppm rasterizes pages with the poppler-utils pdftoppm binary.
type Pdftoppm struct {
	// Path to the binary; "pdftoppm" from PATH when empty.
	Path string
}

func (p Pdftoppm) Rasterize(ctx context.Context, pdfPath string, page, dpi int, prefix string) (string, error) {
	bin := p.Path
	if strings.TrimSpace(bin) == "" {
		bin = "pdftoppm"
	}
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-r", strconv.Itoa(dpi),
		"-f", n, "-l", n,
		"-png", "-singlefile",
		pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return prefix + ".png", nil
}
