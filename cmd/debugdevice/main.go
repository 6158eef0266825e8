// Command debugdevice reports what the OCR pipeline would find on this host:
// whether the accelerated resize backend can be acquired and which
// recognition languages are installed.
package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/device"
	"github.com/hyperifyio/pdfocr/internal/recognize"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := device.New(ctx, device.Options{
		Accelerate: true,
		Probe:      device.ProbeMagick(os.Getenv("MAGICK_PATH"), os.Getenv("WORK_DIR")),
	})
	defer d.Close()
	fmt.Println("backend:", d.Backend())
	if d.Backend() == device.Accelerated {
		src := image.NewGray(image.Rect(0, 0, 64, 32))
		start := time.Now()
		out, err := d.Normalize(ctx, 0, src, 128)
		fmt.Printf("test resize: err=%v bounds=%v took=%s backend_after=%s\n", err, boundsOf(out), time.Since(start), d.Backend())
	}

	langs, err := recognize.NewTesseract(0, 0).Languages()
	fmt.Println("tesseract languages:", langs, "err:", err)
}

func boundsOf(img *image.Gray) image.Rectangle {
	if img == nil {
		return image.Rectangle{}
	}
	return img.Bounds()
}
