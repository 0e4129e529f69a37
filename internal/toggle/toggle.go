// Package toggle provides the feature toggle gate consulted before
// reputation writes and trust-weighted ranking.
package toggle

import "sync"

// Toggle names.
const (
	// ReputationEdges gates every write to the reputation edge ledger.
	ReputationEdges = "reputationEdges"
	// RankTrust gates the trust component of listing search.
	RankTrust = "rankTrust"
)

// Service answers whether a named toggle is on.
// Implementations must be safe for concurrent use and must not block.
type Service interface {
	Enabled(name string) bool
}

// Static is an in-process toggle set, typically loaded from configuration
// at startup. Unknown toggles are off.
type Static struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStatic creates a toggle set with the given initial values.
func NewStatic(initial map[string]bool) *Static {
	flags := make(map[string]bool, len(initial))
	for name, on := range initial {
		flags[name] = on
	}
	return &Static{flags: flags}
}

// Set turns a toggle on or off.
func (s *Static) Set(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = enabled
}

// Enabled returns whether the toggle is on. Returns false if never set.
func (s *Static) Enabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Snapshot returns a copy of all toggle values.
func (s *Static) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for name, on := range s.flags {
		out[name] = on
	}
	return out
}
