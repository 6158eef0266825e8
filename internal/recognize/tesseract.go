package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text through libtesseract via gosseract. A fresh
// client is used per page so no engine state carries across documents.
type Tesseract struct {
	// PSM is the page segmentation mode; values <= 0 keep Tesseract's default.
	PSM int
	// MinConfidence, when > 0, switches to hOCR output and drops words whose
	// x_wconf is below it (0..100).
	MinConfidence float64

	clientFactory func() *gosseract.Client
}

func NewTesseract(psm int, minConfidence float64) *Tesseract {
	return &Tesseract{PSM: psm, MinConfidence: minConfidence, clientFactory: gosseract.NewClient}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Languages lists the trained data found in the tessdata directory.
func (t *Tesseract) Languages() ([]string, error) {
	return gosseract.GetAvailableLanguages()
}

func (t *Tesseract) Recognize(ctx context.Context, img *image.Gray, langs LanguageSet) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	c := t.clientFactory()
	defer c.Close()
	if err := c.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if t.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(t.PSM)); err != nil {
			return "", fmt.Errorf("set psm: %w", err)
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if t.MinConfidence > 0 {
		hocr, err := c.HOCRText()
		if err != nil {
			return "", fmt.Errorf("recognize hocr: %w", err)
		}
		return TextFromHOCR(hocr, t.MinConfidence)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
