// Package normalize prepares page rasters for recognition: luminance
// conversion and a deterministic resize to a target width.
package normalize

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// NormalizationError reports malformed raster data. It is never caused by a
// compute backend being unavailable.
type NormalizationError struct {
	Width, Height int
	Reason        string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: %s (%dx%d)", e.Reason, e.Width, e.Height)
}

// boxKernel averages every source pixel under the destination pixel. x/image
// widens the support by the scale factor when shrinking, which turns the box
// into an area average.
var boxKernel = &xdraw.Kernel{
	Support: 0.5,
	At: func(t float64) float64 {
		if t >= -0.5 && t <= 0.5 {
			return 1
		}
		return 0
	},
}

// Validate rejects rasters with a zero dimension and non-positive widths.
func Validate(img image.Image, width int) error {
	if img == nil {
		return &NormalizationError{Reason: "nil raster"}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return &NormalizationError{Width: b.Dx(), Height: b.Dy(), Reason: "zero-dimension raster"}
	}
	if width <= 0 {
		return &NormalizationError{Width: b.Dx(), Height: b.Dy(), Reason: fmt.Sprintf("invalid target width %d", width)}
	}
	return nil
}

// TargetSize returns the output geometry for resizing a w x h raster to the
// given width, preserving the aspect ratio.
func TargetSize(w, h, width int) (int, int) {
	if w <= 0 {
		return width, 0
	}
	out := int(math.Round(float64(h) * float64(width) / float64(w)))
	if out < 1 {
		out = 1
	}
	return width, out
}

// Grayscale returns a new luminance raster with its origin at (0,0). The input
// is never aliased, even when it is already *image.Gray.
func Grayscale(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, &NormalizationError{Reason: "nil raster"}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &NormalizationError{Width: b.Dx(), Height: b.Dy(), Reason: "zero-dimension raster"}
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// Resize scales src to width on the CPU. Downscaling uses area averaging,
// upscaling uses bilinear interpolation, and an equal width yields an exact
// copy.
func Resize(src *image.Gray, width int) (*image.Gray, error) {
	if err := Validate(src, width); err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), width)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	switch {
	case b.Dx() == width:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	case b.Dx() > width:
		boxKernel.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	default:
		xdraw.BiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	}
	return dst, nil
}

// Normalize converts img to grayscale and resizes it to width.
func Normalize(img image.Image, width int) (*image.Gray, error) {
	if err := Validate(img, width); err != nil {
		return nil, err
	}
	gray, err := Grayscale(img)
	if err != nil {
		return nil, err
	}
	return Resize(gray, width)
}
