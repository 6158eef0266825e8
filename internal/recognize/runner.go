// Package recognize runs the OCR capability over normalized page rasters.
//
// An Engine is the black-box recognizer: given an image and a language set it
// returns text. The Runner validates language sets against what the engine has
// installed, classifies engine failures as RecognitionError and cleans the
// returned text.
package recognize

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// Engine recognizes text in a single grayscale page.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *image.Gray, langs LanguageSet) (string, error)
}

// LanguageLister is implemented by engines that can report their installed
// trained data.
type LanguageLister interface {
	Languages() ([]string, error)
}

// RecognitionError reports a failure of the recognition capability itself.
// Page is -1 when the language set was rejected before any page ran.
type RecognitionError struct {
	Engine string
	Langs  string
	Page   int
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("recognize (%s, %s): %v", e.Engine, e.Langs, e.Err)
	}
	return fmt.Sprintf("recognize page %d (%s, %s): %v", e.Page, e.Engine, e.Langs, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Runner invokes an Engine page by page.
type Runner struct {
	Engine    Engine
	installed []string
	listed    bool
}

func NewRunner(engine Engine) *Runner {
	return &Runner{Engine: engine}
}

// Prepare checks that every code in langs is installed. It is called once per
// document, before rasterization, so a bad language set fails fast. Engines
// that cannot list languages accept any well-formed set.
func (r *Runner) Prepare(ctx context.Context, langs LanguageSet) error {
	if len(langs) == 0 {
		return &RecognitionError{Engine: r.Engine.Name(), Page: -1, Err: fmt.Errorf("empty language set")}
	}
	lister, ok := r.Engine.(LanguageLister)
	if !ok {
		return nil
	}
	if !r.listed {
		installed, err := lister.Languages()
		if err != nil {
			return &RecognitionError{Engine: r.Engine.Name(), Langs: langs.String(), Page: -1, Err: fmt.Errorf("list installed languages: %w", err)}
		}
		r.installed = installed
		r.listed = true
		log.Debug().Strs("installed", installed).Str("engine", r.Engine.Name()).Msg("recognition languages")
	}
	if missing := langs.Missing(r.installed); len(missing) > 0 {
		return &RecognitionError{
			Engine: r.Engine.Name(),
			Langs:  langs.String(),
			Page:   -1,
			Err:    fmt.Errorf("language not installed: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Recognize returns the cleaned text of one page. A blank page yields "" and
// no error.
func (r *Runner) Recognize(ctx context.Context, page int, img *image.Gray, langs LanguageSet) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := r.Engine.Recognize(ctx, img, langs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &RecognitionError{Engine: r.Engine.Name(), Langs: langs.String(), Page: page, Err: err}
	}
	return CleanText(text), nil
}

// CleanText drops blank lines and trailing spaces, strips form feeds that
// engines emit at page end, and normalizes to NFC so identical glyphs always
// produce identical bytes.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r\v")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
