// Package broadcast pushes persisted trust score changes to websocket
// subscribers watching a seller.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/artisan/internal/trust"
)

// Websocket timings.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 16

// ScoreUpdate is the message sent to subscribers.
type ScoreUpdate struct {
	SellerID string      `json:"sellerId"`
	Score    int         `json:"score"`
	Grade    trust.Grade `json:"grade"`
	Version  string      `json:"version"`
	At       time.Time   `json:"at"`
}

// Config configures a Broadcaster.
type Config struct {
	Logger     *slog.Logger
	BufferSize int
}

type subscriber struct {
	ch chan ScoreUpdate
}

// Broadcaster fans score updates out to per-seller subscribers.
// It implements trust.ScoreListener and never blocks the caller: a
// subscriber whose queue is full misses the update.
type Broadcaster struct {
	logger     *slog.Logger
	bufferSize int

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // sellerID -> subscribers

	dropped atomic.Int64
}

// New creates a Broadcaster.
func New(cfg Config) *Broadcaster {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
		subs:       make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers interest in sellerID. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(sellerID string) (<-chan ScoreUpdate, func()) {
	sub := &subscriber{ch: make(chan ScoreUpdate, b.bufferSize)}

	b.mu.Lock()
	if b.subs[sellerID] == nil {
		b.subs[sellerID] = make(map[*subscriber]struct{})
	}
	b.subs[sellerID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if conns, ok := b.subs[sellerID]; ok {
				delete(conns, sub)
				if len(conns) == 0 {
					delete(b.subs, sellerID)
				}
			}
			close(sub.ch)
		})
	}
}

// OnTrustScore implements trust.ScoreListener.
func (b *Broadcaster) OnTrustScore(sellerID string, result trust.TrustScoreResult, at time.Time) {
	update := ScoreUpdate{
		SellerID: sellerID,
		Score:    result.Score,
		Grade:    result.Grade,
		Version:  result.Version,
		At:       at,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[sellerID] {
		select {
		case sub.ch <- update:
		default:
			b.dropped.Add(1)
			b.logger.Warn("dropping trust score update for slow subscriber", "seller_id", sellerID)
		}
	}
}

// SubscriberCount returns the number of active subscribers for a seller.
func (b *Broadcaster) SubscriberCount(sellerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sellerID])
}

// Dropped returns the number of updates skipped because a queue was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Serve streams updates for sellerID to conn until the client disconnects
// or ctx is cancelled. initial, when non-nil, is sent first. Serve closes
// conn before returning.
func (b *Broadcaster) Serve(ctx context.Context, conn *websocket.Conn, sellerID string, initial *ScoreUpdate) {
	updates, cancel := b.Subscribe(sellerID)
	defer cancel()
	defer conn.Close()

	logger := b.logger.With("seller_id", sellerID)

	// Clients are not expected to send anything; reading detects disconnects
	// and processes pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("websocket connection closed unexpectedly", "error", err)
				}
				return
			}
		}
	}()

	if initial != nil {
		if err := writeJSON(conn, initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(conn, update); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
