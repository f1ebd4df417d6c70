// Package settings persists the user's highlight numbers and keeps them in
// sync with the backend.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

// Key is the local storage key of the settings object. The suffix is bumped
// whenever the stored shape changes incompatibly.
const Key = "cn_settings_v1"

// Range of selectable highlight numbers.
const (
	MinNumber = 1
	MaxNumber = 40
)

// Settings is the persisted settings object.
type Settings struct {
	HighlightNumbers []int `json:"highlightNumbers"`
}

// Decode parses a stored settings object. Invalid JSON yields the defaults;
// invalid highlight entries are dropped.
func Decode(data []byte) Settings {
	var raw struct {
		HighlightNumbers []json.RawMessage `json:"highlightNumbers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{HighlightNumbers: []int{}}
	}
	return Settings{HighlightNumbers: sanitizeRaw(raw.HighlightNumbers)}
}

func sanitizeRaw(values []json.RawMessage) []int {
	nums := make([]int, 0, len(values))
	for _, v := range values {
		if n, ok := model.Integer(v); ok {
			nums = append(nums, n)
		}
	}
	return Sanitize(nums)
}

// Sanitize keeps numbers within [MinNumber, MaxNumber], removes duplicates
// and sorts ascending. It never returns nil.
func Sanitize(numbers []int) []int {
	out := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if n >= MinNumber && n <= MaxNumber {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Store reads and writes Settings in local storage and caches the current
// value.
type Store struct {
	store storage.Storage

	mu      sync.Mutex
	current Settings
}

// NewStore creates a Store with default settings. Call Load to read the
// persisted value.
func NewStore(s storage.Storage) *Store {
	return &Store{store: s, current: Settings{HighlightNumbers: []int{}}}
}

// Load reads the persisted settings. A missing or unreadable object yields
// the defaults.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	value, ok, err := s.store.GetItem(ctx, Key)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	loaded := Settings{HighlightNumbers: []int{}}
	if ok {
		loaded = Decode([]byte(value))
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return clone(loaded), nil
}

// Current returns the last loaded or saved settings.
func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// Save sanitizes and persists next, returning the stored value.
func (s *Store) Save(ctx context.Context, next Settings) (Settings, error) {
	next.HighlightNumbers = Sanitize(next.HighlightNumbers)
	data, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.SetItem(ctx, Key, string(data)); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return clone(next), nil
}

// Toggle adds n to the highlight numbers, or removes it if already selected.
func (s *Store) Toggle(ctx context.Context, n int) (Settings, error) {
	if n < MinNumber || n > MaxNumber {
		return Settings{}, fmt.Errorf("highlight number %d out of range [%d, %d]", n, MinNumber, MaxNumber)
	}
	cur := s.Current()
	if i := slices.Index(cur.HighlightNumbers, n); i >= 0 {
		cur.HighlightNumbers = slices.Delete(cur.HighlightNumbers, i, i+1)
	} else {
		cur.HighlightNumbers = append(cur.HighlightNumbers, n)
	}
	return s.Save(ctx, cur)
}

// ApplyRemote replaces the local highlight numbers with the backend's copy
// and reports whether anything changed.
func (s *Store) ApplyRemote(ctx context.Context, numbers []int) (Settings, bool, error) {
	remote := Sanitize(numbers)
	cur := s.Current()
	if slices.Equal(cur.HighlightNumbers, remote) {
		return cur, false, nil
	}
	cur.HighlightNumbers = remote
	saved, err := s.Save(ctx, cur)
	if err != nil {
		return Settings{}, false, err
	}
	return saved, true, nil
}

func clone(s Settings) Settings {
	s.HighlightNumbers = slices.Clone(s.HighlightNumbers)
	if s.HighlightNumbers == nil {
		s.HighlightNumbers = []int{}
	}
	return s
}
