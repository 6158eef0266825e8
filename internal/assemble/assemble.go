// Package assemble writes one text artifact per document and keeps the batch
// tally.
package assemble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// PageSeparator sits between consecutive pages: a form feed on its own line.
const PageSeparator = "\n\f\n"

const tempSuffix = ".tmp-"

// AssemblyError reports an artifact that could not be published.
type AssemblyError struct {
	Source string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s: %v", filepath.Base(e.Source), e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Assembler writes artifacts into Dir. Artifacts appear only by rename, so the
// output directory never holds a partially written text file under its final
// name.
type Assembler struct {
	Dir string
	// Perm is the mode of finished artifacts; 0 means 0o644.
	Perm os.FileMode

	owners map[string]string
}

func New(dir string) *Assembler {
	return &Assembler{Dir: dir}
}

// Prepare creates the output directory and checks that it is writable by
// creating and removing a probe temp file.
func (a *Assembler) Prepare() error {
	if strings.TrimSpace(a.Dir) == "" {
		return errors.New("assemble: output directory is empty")
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(a.Dir, ".probe"+tempSuffix)
	if err != nil {
		return fmt.Errorf("output dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// ArtifactName maps a source PDF path to its artifact file name: the base
// name with a trailing .pdf (any case) replaced by .txt.
func ArtifactName(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".pdf") {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".txt"
}

// Join concatenates page texts in order with PageSeparator and ends the
// result with a newline.
func Join(pages []string) string {
	if len(pages) == 0 {
		return ""
	}
	return strings.Join(pages, PageSeparator) + "\n"
}

// Write assembles pages and publishes the artifact for source. It returns the
// artifact path. On any error, always an *AssemblyError, nothing new is left
// under the final name or in a temp file.
func (a *Assembler) Write(source string, pages []string) (string, error) {
	path, err := a.write(source, pages)
	if err != nil {
		return "", &AssemblyError{Source: source, Err: err}
	}
	return path, nil
}

func (a *Assembler) write(source string, pages []string) (string, error) {
	name := ArtifactName(source)
	if a.owners == nil {
		a.owners = make(map[string]string)
	}
	if prev, ok := a.owners[name]; ok && prev != source {
		return "", fmt.Errorf("artifact %s already written for %s", name, filepath.Base(prev))
	}
	final := filepath.Join(a.Dir, name)
	tmp, err := os.CreateTemp(a.Dir, "."+name+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.WriteString(Join(pages)); err != nil {
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp artifact: %w", err)
	}
	perm := a.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return "", fmt.Errorf("chmod temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	committed = true
	a.owners[name] = source
	log.Debug().Str("artifact", final).Int("pages", len(pages)).Msg("artifact written")
	return final, nil
}

// isStaleTemp matches only the temp names Write and Prepare create:
// ".<artifact>.txt.tmp-<digits>" and ".probe.tmp-<digits>".
func isStaleTemp(name string) bool {
	head, rand, ok := strings.Cut(name, tempSuffix)
	if !ok || rand == "" || strings.Trim(rand, "0123456789") != "" {
		return false
	}
	if head == ".probe" {
		return true
	}
	return len(head) > len("..txt") && strings.HasPrefix(head, ".") && strings.HasSuffix(head, ".txt")
}

// Sweep removes temp files a killed run left behind in Dir and returns how
// many it removed.
func (a *Assembler) Sweep() (int, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !isStaleTemp(n) {
			continue
		}
		if err := os.Remove(filepath.Join(a.Dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("files", removed).Str("dir", a.Dir).Msg("removed stale temp artifacts")
	}
	return removed, nil
}
