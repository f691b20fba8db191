package facility

import (
	"context"
	"sync"
	"time"
)

// Snapshot is one complete, immutable view of the catalog.
type Snapshot struct {
	Generation uint64     `json:"generation"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Facilities []Facility `json:"facilities"`
}

// Lookup finds a facility by id.
func (s Snapshot) Lookup(id string) (Facility, bool) {
	for _, f := range s.Facilities {
		if f.ID == id {
			return f, true
		}
	}
	return Facility{}, false
}

// Catalog holds the current facility list.
//
// Replace is last-writer-wins by generation: a list whose generation is not
// newer than the stored one is dropped and Replace reports false. Snapshot
// never observes a partially written list.
type Catalog interface {
	Replace(ctx context.Context, gen uint64, list []Facility) (bool, error)
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Board is an in-memory Catalog.
type Board struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock func() time.Time
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{clock: time.Now}
}

// Replace stores a copy of list if gen is newer than the current generation.
func (b *Board) Replace(_ context.Context, gen uint64, list []Facility) (bool, error) {
	cp := make([]Facility, len(list))
	copy(cp, list)

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen <= b.snap.Generation {
		return false, nil
	}
	b.snap = Snapshot{Generation: gen, UpdatedAt: b.clock(), Facilities: cp}
	return true, nil
}

// Snapshot returns the current list. The returned slice is a copy.
func (b *Board) Snapshot(_ context.Context) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.snap
	s.Facilities = make([]Facility, len(b.snap.Facilities))
	copy(s.Facilities, b.snap.Facilities)
	return s, nil
}
