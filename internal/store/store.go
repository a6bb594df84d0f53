// store.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/advisor"
	"github.com/Acidburn1824/smart-heating/internal/model"
	"github.com/Acidburn1824/smart-heating/internal/thermal"
)

// ErrPersistence wraps any read/write failure on the per-zone store. The
// engine keeps operating on last-known-good in-memory state when it sees it.
var ErrPersistence = errors.New("persistence error")

const (
	writeRetries   = 3
	retryBaseDelay = 100 * time.Millisecond
)

// Document is the complete persisted state of one zone. It must round-trip
// losslessly through JSON.
type Document struct {
	ZoneID           string                 `json:"zoneId"`
	Sessions         []model.HeatingSession `json:"sessions"`
	Model            thermal.Model          `json:"model"`
	FeedbackHistory  []model.FeedbackRecord `json:"feedbackHistory"`
	SafetyMarginBase float64                `json:"safetyMarginBase"`
	LastOffTime      *time.Time             `json:"lastOffTime,omitempty"`
	LastAdvice       *advisor.Response      `json:"lastAdvice,omitempty"`
}

// Store keeps one JSON document per zone under a data directory. Writes are
// atomic (temp file + rename) and retried with exponential backoff, so a
// crash can never leave a document half-written.
type Store struct {
	dir string
	lg  *slog.Logger
}

func New(dir string, lg *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
	}
	return &Store{dir: dir, lg: lg}, nil
}

func (s *Store) path(zoneID string) string {
	return filepath.Join(s.dir, "smart_heating_"+zoneID+".json")
}

// Load reads a zone document. A missing file is not an error: found is
// false and the zero document is returned.
func (s *Store) Load(zoneID string) (Document, bool, error) {
	raw, err := os.ReadFile(s.path(zoneID))
	if err != nil {
		if os.IsNotExist(err) {
			return Document{ZoneID: zoneID}, false, nil
		}
		return Document{ZoneID: zoneID}, false, fmt.Errorf("%w: read %s: %v", ErrPersistence, zoneID, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{ZoneID: zoneID}, false, fmt.Errorf("%w: decode %s: %v", ErrPersistence, zoneID, err)
	}
	return doc, true, nil
}

// Save persists a zone document atomically.
func (s *Store) Save(doc Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, doc.ZoneID, err)
	}

	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay << (attempt - 1))
		}
		if lastErr = s.writeAtomic(s.path(doc.ZoneID), raw); lastErr == nil {
			return nil
		}
		s.lg.Warn("store write retry", "zone", doc.ZoneID, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("%w: write %s: %v", ErrPersistence, doc.ZoneID, lastErr)
}

func (s *Store) writeAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
