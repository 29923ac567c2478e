// Package manual keeps bookings entered by staff for the lifetime of the
// process.
package manual

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomcheck/internal/model"
)

var (
	ErrInvalidInterval = errors.New("manual: end must be after start")
	ErrMissingRoom     = errors.New("manual: building and room are required")
	ErrNotFound        = errors.New("manual: entry not found")
)

// Store is an in-memory, concurrency-safe list of manual entries.
type Store struct {
	mu      sync.RWMutex
	entries []model.Occurrence
}

func NewStore() *Store {
	return &Store{}
}

// Add validates and stores a booking and returns it with a fresh ID.
func (s *Store) Add(building, room string, start, end time.Time, label string) (model.Occurrence, error) {
	building, room = strings.TrimSpace(building), strings.TrimSpace(room)
	if building == "" || room == "" {
		return model.Occurrence{}, ErrMissingRoom
	}
	if !end.After(start) {
		return model.Occurrence{}, ErrInvalidInterval
	}

	occ := model.Occurrence{
		ID:       uuid.NewString(),
		Source:   model.ManualEntry,
		Building: building,
		Room:     room,
		Start:    start,
		End:      end,
		Label:    strings.TrimSpace(label),
	}

	s.mu.Lock()
	s.entries = append(s.entries, occ)
	s.mu.Unlock()
	return occ, nil
}

// Delete removes the entry with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// List returns a copy of all entries ordered by start.
func (s *Store) List() []model.Occurrence {
	s.mu.RLock()
	out := make([]model.Occurrence, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Replace swaps the whole list, e.g. after an ICS import. Entries without an
// ID get one; entries with an invalid interval are dropped and counted.
func (s *Store) Replace(entries []model.Occurrence) (dropped int) {
	next := make([]model.Occurrence, 0, len(entries))
	for _, e := range entries {
		if !e.End.After(e.Start) {
			dropped++
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Source = model.ManualEntry
		next = append(next, e)
	}

	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	return dropped
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
