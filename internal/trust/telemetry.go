package trust

import (
	"sync"
	"time"
)

// ScoreEvent records one persisted score change.
type ScoreEvent struct {
	SellerID string    `json:"seller_id"`
	Score    int       `json:"score"`
	Grade    Grade     `json:"grade"`
	Previous *int      `json:"previous,omitempty"`
	At       time.Time `json:"at"`
}

// DefaultScoreEventCapacity is the ring size used when none is given.
const DefaultScoreEventCapacity = 256

// ScoreEventLog is a fixed-size, append-only ring of recent score events.
// Once full, the oldest event is overwritten. Safe for concurrent use.
type ScoreEventLog struct {
	mu     sync.Mutex
	events []ScoreEvent
	next   int
	full   bool
	last   map[string]int
}

// NewScoreEventLog creates a ring buffer holding up to capacity events.
func NewScoreEventLog(capacity int) *ScoreEventLog {
	if capacity <= 0 {
		capacity = DefaultScoreEventCapacity
	}
	return &ScoreEventLog{
		events: make([]ScoreEvent, capacity),
		last:   make(map[string]int),
	}
}

// OnTrustScore appends an event. It implements ScoreListener.
func (l *ScoreEventLog) OnTrustScore(sellerID string, result TrustScoreResult, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := ScoreEvent{SellerID: sellerID, Score: result.Score, Grade: result.Grade, At: at}
	if prev, ok := l.last[sellerID]; ok {
		p := prev
		ev.Previous = &p
	}
	l.last[sellerID] = result.Score

	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns buffered events, oldest first.
func (l *ScoreEventLog) Recent() []ScoreEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]ScoreEvent, l.next)
		copy(out, l.events[:l.next])
		return out
	}
	out := make([]ScoreEvent, 0, len(l.events))
	out = append(out, l.events[l.next:]...)
	out = append(out, l.events[:l.next]...)
	return out
}

// Len returns the number of buffered events.
func (l *ScoreEventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.events)
	}
	return l.next
}
