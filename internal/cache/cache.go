// Package cache stores recognition results on disk so repeated runs over the
// same rasters return byte-identical text without calling a remote model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry is the on-disk record for one recognized page.
type Entry struct {
	Engine  string    `json:"engine"`
	Model   string    `json:"model"`
	Langs   string    `json:"langs"`
	Text    string    `json:"text"`
	SavedAt time.Time `json:"saved_at"`
}

// TextCache keeps one <key>.json file per entry under Dir.
type TextCache struct {
	Dir string
	// StrictPerms, when true, enforces 0700 on the cache directory and 0600 on
	// files.
	StrictPerms bool
}

// KeyFrom builds a cache key from the model, the language set and the
// digest of the encoded page image.
func KeyFrom(model, langs string, image []byte) string {
	img := sha256.Sum256(image)
	h := sha256.Sum256([]byte(model + "\n" + langs + "\n" + hex.EncodeToString(img[:])))
	return hex.EncodeToString(h[:])
}

func (c *TextCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	perm := os.FileMode(0o755)
	if c.StrictPerms {
		perm = 0o700
	}
	if err := os.MkdirAll(c.Dir, perm); err != nil {
		return err
	}
	if c.StrictPerms {
		if info, err := os.Stat(c.Dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(c.Dir, 0o700)
		}
	}
	return nil
}

func (c *TextCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Get returns the cached entry for key. A missing or unreadable entry is a
// miss, not an error.
func (c *TextCache) Get(_ context.Context, key string) (Entry, bool, error) {
	if err := c.ensureDir(); err != nil {
		return Entry{}, false, err
	}
	b, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Save writes the entry via a temp file and rename so readers never see a
// partial record.
func (c *TextCache) Save(_ context.Context, key string, e Entry) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	mode := os.FileMode(0o644)
	if c.StrictPerms {
		mode = 0o600
	}
	tmp := c.pathFor(key) + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := os.Rename(tmp, c.pathFor(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}
