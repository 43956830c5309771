// Package collision detects xxHash64 identifier collisions among registered
// names. Driver and format names are addressed by their 64-bit hash in logs
// and external indexes; a collision does not break dispatch (which goes by
// name) but callers should be told their IDs are ambiguous.
package collision

import (
	"fmt"

	"github.com/uftkit/uft/errs"
)

// Tracker records name-to-hash assignments for one registry table.
type Tracker struct {
	names   map[uint64]string
	ordered []string
	collided bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		names: make(map[uint64]string),
	}
}

// Track records a name with its hash identifier.
//
// The same name twice is an error. Two different names hashing to the same
// identifier is not: the collision flag is set and registration proceeds,
// since dispatch goes by name.
func (t *Tracker) Track(name string, id uint64) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", errs.ErrInvalidArgument)
	}

	if existing, exists := t.names[id]; exists {
		if existing == name {
			return fmt.Errorf("%w: %q already tracked", errs.ErrInvalidArgument, name)
		}
		t.collided = true
	}

	t.names[id] = name
	t.ordered = append(t.ordered, name)

	return nil
}

// HasCollision reports whether two distinct names mapped to the same id.
func (t *Tracker) HasCollision() bool {
	return t.collided
}

// Names returns the tracked names in registration order.
func (t *Tracker) Names() []string {
	return t.ordered
}

// Count returns the number of tracked names.
func (t *Tracker) Count() int {
	return len(t.ordered)
}

// Reset clears the tracker for reuse, keeping allocated capacity.
func (t *Tracker) Reset() {
	for k := range t.names {
		delete(t.names, k)
	}
	t.ordered = t.ordered[:0]
	t.collided = false
}
