package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperifyio/pdfocr/internal/normalize"
)

// Magick is an accelerated device backed by ImageMagick's OpenCL kernels.
// The scratch directory is the resource it owns; Close removes it.
type Magick struct {
	Path    string
	scratch string
	seq     int
}

// ProbeMagick returns a ProbeFunc that checks the ImageMagick binary at path
// was built with OpenCL and creates the device scratch directory under
// workDir (the system temp directory when empty).
func ProbeMagick(path, workDir string) ProbeFunc {
	return func(ctx context.Context) (Device, error) {
		name := path
		if strings.TrimSpace(name) == "" {
			name = "magick"
		}
		bin, err := exec.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("probe magick: %w", err)
		}
		out, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("probe magick: %w", err)
		}
		if !hasOpenCL(out) {
			return nil, errors.New("probe magick: OpenCL feature not available")
		}
		dir, err := os.MkdirTemp(workDir, "pdfocr-ocl-")
		if err != nil {
			return nil, fmt.Errorf("probe magick: scratch dir: %w", err)
		}
		return &Magick{Path: bin, scratch: dir}, nil
	}
}

// hasOpenCL looks for OpenCL in the "Features:" line of `magick -version`.
func hasOpenCL(versionOutput []byte) bool {
	for _, line := range strings.Split(string(versionOutput), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Features:") {
			continue
		}
		for _, f := range strings.Fields(strings.TrimPrefix(line, "Features:")) {
			if f == "OpenCL" {
				return true
			}
		}
	}
	return false
}

func (m *Magick) Name() string { return "magick-opencl" }

// Resize writes src to the scratch directory, resamples it with OpenCL
// enabled and reads the result back. src is only read.
func (m *Magick) Resize(ctx context.Context, src *image.Gray, width int) (*image.Gray, error) {
	if m.scratch == "" {
		return nil, errors.New("magick: device released")
	}
	m.seq++
	in := filepath.Join(m.scratch, "in-"+strconv.Itoa(m.seq)+".png")
	out := filepath.Join(m.scratch, "out-"+strconv.Itoa(m.seq)+".png")
	defer os.Remove(in)
	defer os.Remove(out)

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("magick: encode: %w", err)
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("magick: write input: %w", err)
	}

	b := src.Bounds()
	w, h := normalize.TargetSize(b.Dx(), b.Dy(), width)
	filter := "Triangle"
	if b.Dx() > width {
		filter = "Box"
	}
	cmd := exec.CommandContext(ctx, m.Path, in,
		"-colorspace", "Gray",
		"-filter", filter,
		"-resize", fmt.Sprintf("%dx%d!", w, h),
		"-depth", "8",
		out)
	cmd.Env = append(os.Environ(), "MAGICK_OCL_DEVICE=true")
	if msg, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("magick: resize: %w: %s", err, strings.TrimSpace(string(msg)))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("magick: open output: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("magick: decode output: %w", err)
	}
	return normalize.Grayscale(img)
}

// Close removes the scratch directory. Subsequent Resize calls fail.
func (m *Magick) Close() error {
	if m.scratch == "" {
		return nil
	}
	dir := m.scratch
	m.scratch = ""
	return os.RemoveAll(dir)
}
