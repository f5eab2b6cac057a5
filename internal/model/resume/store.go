package resume

import (
	"sync/atomic"
	"time"
)

// Provider exposes the current resume text to the interviewer.
type Provider interface {
	Get() string
}

// Snapshot is an immutable view of the stored resume.
type Snapshot struct {
	Text      string
	UpdatedAt time.Time
}

// Store holds the resume of the candidate currently being interviewed.
// Writers swap in a new snapshot, so readers never observe a partial value.
// The zero value is ready to use and reports an empty resume.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the stored resume text wholesale.
func (s *Store) Set(text string) {
	s.current.Store(&Snapshot{Text: text, UpdatedAt: time.Now().UTC()})
}

// Clear drops the stored resume text.
func (s *Store) Clear() {
	s.Set("")
}

// Get returns the current resume text, or "" when none was uploaded.
func (s *Store) Get() string {
	return s.Snapshot().Text
}

// Snapshot returns the latest snapshot.
func (s *Store) Snapshot() Snapshot {
	if snap := s.current.Load(); snap != nil {
		return *snap
	}
	return Snapshot{}
}
