package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/pdfocr/internal/pipeline"
	"github.com/hyperifyio/pdfocr/internal/recognize"
)

// ErrNoInputDocuments is returned when the input directory holds no PDFs.
// The CLI maps it to exit code 2.
var ErrNoInputDocuments = errors.New("no input documents")

// langsSidecarExt names the optional per-document language override:
// "report.langs" next to "report.pdf" holds e.g. "fin+eng".
const langsSidecarExt = ".langs"

// discoverDocuments lists *.pdf files (any case) directly under dir, sorted
// by name case-insensitively. Each document gets defaults unless a .langs
// sidecar overrides them; an unreadable or malformed sidecar marks that
// document Failed without affecting the others.
func discoverDocuments(dir string, defaults recognize.LanguageSet) ([]*pipeline.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})

	docs := make([]*pipeline.Document, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		doc := &pipeline.Document{Path: path, Langs: defaults}
		if raw, ok, err := readLangsSidecar(path); err != nil || ok {
			if err == nil {
				doc.Langs, err = recognize.ParseLanguages(raw)
			}
			if err != nil {
				doc.Status = pipeline.Failed
				doc.Err = &recognize.RecognitionError{Langs: raw, Page: -1, Err: fmt.Errorf("language sidecar: %w", err)}
			} else {
				log.Debug().Str("doc", name).Str("langs", doc.Langs.String()).Msg("language override")
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readLangsSidecar(pdfPath string) (string, bool, error) {
	p := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + langsSidecarExt
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(b)), true, nil
}
