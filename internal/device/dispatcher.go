// Package device owns the choice of compute backend for raster normalization.
//
// A Dispatcher starts by probing an accelerated device once. When the probe
// fails, or when the device faults at runtime, it demotes itself to the
// software path for the rest of the process and releases the device. The
// software path is the in-process resampler from package normalize.
//
// The Dispatcher is not safe for concurrent use; the pipeline calls it from a
// single goroutine.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/normalize"
)

// Kind names the backend currently selected by a Dispatcher.
type Kind int

const (
	Probing Kind = iota
	Accelerated
	Software
)

func (k Kind) String() string {
	switch k {
	case Probing:
		return "probing"
	case Accelerated:
		return "accelerated"
	case Software:
		return "software"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Device is an acquired accelerated compute context. Resize must not mutate
// src: the dispatcher retries the same buffer on the software path when the
// device faults.
type Device interface {
	Name() string
	Resize(ctx context.Context, src *image.Gray, width int) (*image.Gray, error)
	Close() error
}

// ProbeFunc acquires the accelerated device. It is called at most once per
// Dispatcher.
type ProbeFunc func(ctx context.Context) (Device, error)

// BackendFault is a runtime failure of the accelerated device. The Dispatcher
// recovers from it locally; callers of Normalize never see it.
type BackendFault struct {
	Device string
	Page   int
	Err    error
}

func (e *BackendFault) Error() string {
	return fmt.Sprintf("backend fault on %s (page %d): %v", e.Device, e.Page, e.Err)
}

func (e *BackendFault) Unwrap() error { return e.Err }

// backend is the tagged variant Accelerated(dev) | Software. dev is non-nil
// only when kind == Accelerated.
type backend struct {
	kind Kind
	dev  Device
}

// Options configures a Dispatcher.
type Options struct {
	// Accelerate enables probing. When false the dispatcher starts and stays
	// in Software.
	Accelerate bool
	Probe      ProbeFunc
}

// Dispatcher routes each normalization call to the current backend.
type Dispatcher struct {
	cur    backend
	faults int
}

// New probes the accelerated backend once when opts.Accelerate is set and
// returns a dispatcher in either Accelerated or Software state.
func New(ctx context.Context, opts Options) *Dispatcher {
	d := &Dispatcher{cur: backend{kind: Probing}}
	if !opts.Accelerate || opts.Probe == nil {
		d.cur = backend{kind: Software}
		log.Debug().Str("backend", d.cur.kind.String()).Msg("acceleration disabled")
		return d
	}
	dev, err := acquire(ctx, opts.Probe)
	if err != nil || dev == nil {
		if err == nil {
			err = errors.New("probe returned no device")
		}
		d.cur = backend{kind: Software}
		log.Warn().Err(err).Msg("accelerated backend unavailable; using software")
		return d
	}
	d.cur = backend{kind: Accelerated, dev: dev}
	log.Info().Str("device", dev.Name()).Msg("accelerated backend acquired")
	return d
}

// acquire runs p and turns a panic in driver initialization into an error.
func acquire(ctx context.Context, p ProbeFunc) (dev Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return p(ctx)
}

// Backend reports the current backend kind.
func (d *Dispatcher) Backend() Kind { return d.cur.kind }

// Faults reports how many backend faults were recovered.
func (d *Dispatcher) Faults() int { return d.faults }

// Normalize converts img to grayscale and resizes it to width on the current
// backend. The returned raster is a new buffer; the caller should drop img.
// Only *normalize.NormalizationError (malformed input) or a context error is
// ever returned.
func (d *Dispatcher) Normalize(ctx context.Context, page int, img image.Image, width int) (*image.Gray, error) {
	if err := normalize.Validate(img, width); err != nil {
		return nil, err
	}
	gray, err := normalize.Grayscale(img)
	if err != nil {
		return nil, err
	}
	switch d.cur.kind {
	case Accelerated:
		out, err := d.accelerated(ctx, page, gray, width)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.faults++
		log.Warn().Err(err).Int("page", page).Msg("page falling back to software backend")
		_ = d.release("fault")
		d.cur = backend{kind: Software}
		return normalize.Resize(gray, width)
	case Software:
		return normalize.Resize(gray, width)
	default:
		return nil, fmt.Errorf("device: dispatcher in %s state", d.cur.kind)
	}
}

// accelerated runs one resize on the device and turns every failure mode,
// including a panic in the device code or a result with the wrong geometry,
// into a *BackendFault.
func (d *Dispatcher) accelerated(ctx context.Context, page int, gray *image.Gray, width int) (out *image.Gray, err error) {
	name := d.cur.dev.Name()
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &BackendFault{Device: name, Page: page, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, rerr := d.cur.dev.Resize(ctx, gray, width)
	if rerr != nil {
		return nil, &BackendFault{Device: name, Page: page, Err: rerr}
	}
	b := gray.Bounds()
	wantW, wantH := normalize.TargetSize(b.Dx(), b.Dy(), width)
	if res == nil || res.Bounds().Dx() != wantW || res.Bounds().Dy() != wantH {
		got := image.Rectangle{}
		if res != nil {
			got = res.Bounds()
		}
		return nil, &BackendFault{Device: name, Page: page, Err: fmt.Errorf("unexpected geometry %v, want %dx%d", got, wantW, wantH)}
	}
	return res, nil
}

// release closes the device if one is held. It is the only place a device is
// closed, and it clears the handle so a second call is a no-op.
func (d *Dispatcher) release(reason string) error {
	dev := d.cur.dev
	if dev == nil {
		return nil
	}
	d.cur.dev = nil
	if err := dev.Close(); err != nil {
		log.Warn().Err(err).Str("device", dev.Name()).Str("reason", reason).Msg("release accelerated device")
		return fmt.Errorf("release %s: %w", dev.Name(), err)
	}
	log.Debug().Str("device", dev.Name()).Str("reason", reason).Msg("accelerated device released")
	return nil
}

// Close releases the device, if any, and leaves the dispatcher in Software.
// Calling Close more than once is safe.
func (d *Dispatcher) Close() error {
	err := d.release("close")
	d.cur = backend{kind: Software}
	return err
}
