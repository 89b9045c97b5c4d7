// Package state persists the owner-editable settings as small JSON files.
// Every mutation is written through immediately; the last write wins.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/textfilter"
)

// File names inside the data directory.
const (
	FiltersFile     = "filters.json"
	DestinationFile = "destination.json"
	PendingFile     = "filters_pending.json"
	WatermarkFile   = "watermark.json"
)

// Preview statuses.
const (
	PreviewMissing      = "missing"
	PreviewSkipNotOwner = "skip_not_owner"
	PreviewWillChange   = "will_change"
	PreviewNoChange     = "no_change"
	PreviewError        = "error"
)

type destinationRecord struct {
	Dest int64 `json:"dest"`
}

type watermarkRecord struct {
	Enabled bool `json:"enabled"`
}

// PreviewEntry is the dry-run verdict for one message.
type PreviewEntry struct {
	ID      int    `json:"id"`
	Status  string `json:"status"`
	NewText string `json:"new_text,omitempty"`
}

// PendingPreview is written by the preview command and read by the apply
// commands when they get no link.
type PendingPreview struct {
	ChatID  int64          `json:"chat_id"`
	IDs     []int          `json:"ids"`
	Preview []PreviewEntry `json:"preview"`
}

type Store struct {
	dir    string
	logger *zerolog.Logger

	mu          sync.RWMutex
	filters     textfilter.Rules
	destination int64
	watermark   bool
}

// Open loads the state in dir. Missing files yield defaults: no filters,
// defaultDest as destination and the watermark off. Unreadable files are
// logged and treated as missing.
func Open(dir string, defaultDest int64, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{
		dir:         dir,
		logger:      logger,
		filters:     textfilter.Rules{},
		destination: defaultDest,
	}

	var rules textfilter.Rules
	if s.load(FiltersFile, &rules) && rules != nil {
		s.filters = rules
	}

	var dest destinationRecord
	if s.load(DestinationFile, &dest) && dest.Dest != 0 {
		s.destination = dest.Dest
	}

	var wm watermarkRecord
	if s.load(WatermarkFile, &wm) {
		s.watermark = wm.Enabled
	}

	return s, nil
}

// Filters returns a copy of the rule set.
func (s *Store) Filters() textfilter.Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(textfilter.Rules, len(s.filters))
	for k, v := range s.filters {
		out[k] = v
	}

	return out
}

// FilterKeys returns the patterns in sorted order.
func (s *Store) FilterKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.filters))
	for k := range s.filters {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// AddFilter inserts or overwrites a rule.
func (s *Store) AddFilter(pattern, replacement string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty filter pattern", errs.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters[pattern] = replacement

	return s.save(FiltersFile, s.filters)
}

func (s *Store) ClearFilters() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters = textfilter.Rules{}

	return s.save(FiltersFile, s.filters)
}

func (s *Store) Destination() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.destination
}

func (s *Store) SetDestination(chatID int64) error {
	if chatID == 0 {
		return fmt.Errorf("%w: destination 0", errs.ErrInvalidID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.destination = chatID

	return s.save(DestinationFile, destinationRecord{Dest: chatID})
}

func (s *Store) Watermark() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermark
}

func (s *Store) SetWatermark(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watermark = enabled

	return s.save(WatermarkFile, watermarkRecord{Enabled: enabled})
}

func (s *Store) SavePending(p PendingPreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(PendingFile, p)
}

// LoadPending returns ErrNoPendingPreview when no usable preview exists.
func (s *Store) LoadPending() (PendingPreview, error) {
	var p PendingPreview

	data, err := os.ReadFile(s.path(PendingFile))
	if err != nil {
		return p, fmt.Errorf("%w: %w", errs.ErrNoPendingPreview, err)
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", errs.ErrNoPendingPreview, err)
	}

	if p.ChatID == 0 || len(p.IDs) == 0 {
		return p, errs.ErrNoPendingPreview
	}

	return p, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) load(name string, v any) bool {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("read state file")
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("decode state file, using defaults")
		return false
	}

	return true
}

// save writes v next to the target and renames it into place.
func (s *Store) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", name, err)
	}

	return nil
}
