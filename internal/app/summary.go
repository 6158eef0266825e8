package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperifyio/pdfocr/internal/assemble"
	"github.com/hyperifyio/pdfocr/internal/pipeline"
)

// summaryMeta captures run details that aid reproducibility.
type summaryMeta struct {
	Version     string    `json:"version"`
	Engine      string    `json:"engine"`
	Model       string    `json:"model,omitempty"`
	Languages   string    `json:"languages"`
	DPI         int       `json:"dpi"`
	TargetWidth int       `json:"target_width"`
	MaxPages    int       `json:"max_pages"`
	Backend     string    `json:"backend"`
	GeneratedAt time.Time `json:"generated_at"`
}

// summaryDocument is one document's line in the JSON summary.
type summaryDocument struct {
	Document    string `json:"document"`
	Status      string `json:"status"`
	Languages   string `json:"languages,omitempty"`
	Pages       int    `json:"pages"`
	SourcePages int    `json:"source_pages"`
	Faults      int    `json:"backend_faults,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

// fileSHA256Hex returns the lowercase hex SHA-256 of a file's contents.
func fileSHA256Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func buildSummaryDocuments(docs []*pipeline.Document) []summaryDocument {
	out := make([]summaryDocument, 0, len(docs))
	for _, d := range docs {
		e := summaryDocument{
			Document:    filepath.Base(d.Path),
			Status:      d.Status.String(),
			Languages:   d.Langs.String(),
			Pages:       d.Pages,
			SourcePages: d.SourcePages,
			Faults:      d.Faults,
			Artifact:    d.Artifact,
			ElapsedMS:   d.Elapsed.Milliseconds(),
		}
		if d.Artifact != "" {
			if sum, err := fileSHA256Hex(d.Artifact); err == nil {
				e.SHA256 = sum
			}
		}
		if d.Err != nil {
			e.Kind = pipeline.Kind(d.Err)
			e.Error = d.Err.Error()
		}
		out = append(out, e)
	}
	return out
}

// marshalSummaryJSON encodes the machine-readable batch summary.
func marshalSummaryJSON(meta summaryMeta, totals assemble.Summary, docs []summaryDocument) ([]byte, error) {
	payload := struct {
		Meta      summaryMeta       `json:"meta"`
		Succeeded int               `json:"succeeded"`
		Failed    int               `json:"failed"`
		Documents []summaryDocument `json:"documents"`
	}{Meta: meta, Succeeded: totals.Succeeded, Failed: totals.Failed, Documents: docs}
	return json.MarshalIndent(payload, "", "  ")
}

func writeSummaryFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir summary dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}
