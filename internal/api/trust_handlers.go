package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/artisan/internal/broadcast"
	"github.com/onnwee/artisan/internal/middleware"
	"github.com/onnwee/artisan/internal/trust"
	"github.com/onnwee/artisan/internal/trustcache"
	"github.com/onnwee/artisan/internal/validate"
)

// History paging limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// MaxBatchIDs bounds GET /v1/trust?ids=.
const MaxBatchIDs = 100

// ScoreLookup is the cached batch lookup. *trustcache.Service implements it.
type ScoreLookup interface {
	GetLatestTrustScoreMap(ctx context.Context, ids []string, opts trustcache.Options) map[string]float64
}

// TrustHandlersConfig holds dependencies for trust HTTP handlers.
type TrustHandlersConfig struct {
	Logger      *slog.Logger
	Snapshots   trust.SnapshotStore
	Scores      ScoreLookup
	Dirty       *trust.DirtyTracker
	Events      *trust.ScoreEventLog
	Broadcaster *broadcast.Broadcaster
	// CheckOrigin for websocket upgrades. Nil applies the same-origin check.
	CheckOrigin func(r *http.Request) bool
}

// TrustHandlers serves trust score reads.
type TrustHandlers struct {
	config   TrustHandlersConfig
	upgrader websocket.Upgrader
}

// NewTrustHandlers creates a new TrustHandlers instance.
func NewTrustHandlers(config TrustHandlersConfig) *TrustHandlers {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &TrustHandlers{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// TrustScoreResponse is the body of GET /v1/trust/{id}.
type TrustScoreResponse struct {
	UserID     string             `json:"userId"`
	Score      int                `json:"score"`
	Grade      trust.Grade        `json:"grade"`
	Version    string             `json:"version"`
	Components []trust.Component  `json:"components"`
	Factors    trust.TrustFactors `json:"factors"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	// Stale is set while a failed recompute is waiting for reconciliation.
	Stale bool `json:"stale"`
}

// HistoryResponse is the body of GET /v1/trust/{id}/history.
type HistoryResponse struct {
	UserID    string                         `json:"userId"`
	Snapshots []trust.PersistedTrustSnapshot `json:"snapshots"`
}

// BatchResponse is the body of GET /v1/trust?ids=.
type BatchResponse struct {
	Scores  map[string]float64 `json:"scores"`
	Missing []string           `json:"missing"`
}

// EventsResponse is the body of GET /v1/trust/events.
type EventsResponse struct {
	Events []trust.ScoreEvent `json:"events"`
}

// GetTrustScore handles GET /v1/trust/{id}.
func (h *TrustHandlers) GetTrustScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	latest, err := h.config.Snapshots.GetLatest(r.Context(), userID)
	if err != nil {
		if errors.Is(err, trust.ErrSnapshotNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeScoreNotFound, "No trust score for this seller yet")
			return
		}
		h.config.Logger.ErrorContext(r.Context(), "failed to load trust score", "error", err, "user_id", userID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve trust score")
		return
	}

	// Components are a pure function of the stored factors.
	breakdown := trust.ComputeTrustScore(latest.Factors)

	writeJSON(w, r, http.StatusOK, TrustScoreResponse{
		UserID:     latest.UserID,
		Score:      latest.Score,
		Grade:      latest.Grade,
		Version:    latest.Version,
		Components: breakdown.Components,
		Factors:    latest.Factors,
		UpdatedAt:  latest.UpdatedAt,
		Stale:      h.config.Dirty != nil && h.config.Dirty.IsDirty(userID),
	})
}

// GetTrustHistory handles GET /v1/trust/{id}/history?limit=N.
func (h *TrustHandlers) GetTrustHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxHistoryLimit {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation,
				"limit must be an integer between 1 and "+strconv.Itoa(MaxHistoryLimit))
			return
		}
		limit = n
	}

	snaps, err := h.config.Snapshots.History(r.Context(), userID, limit)
	if err != nil {
		h.config.Logger.ErrorContext(r.Context(), "failed to load trust history", "error", err, "user_id", userID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve trust history")
		return
	}
	if snaps == nil {
		snaps = []trust.PersistedTrustSnapshot{}
	}
	writeJSON(w, r, http.StatusOK, HistoryResponse{UserID: userID, Snapshots: snaps})
}

// GetTrustScores handles GET /v1/trust?ids=a,b[&fresh=true].
// Scores come from the cache; fresh=true bypasses cache reads.
func (h *TrustHandlers) GetTrustScores(w http.ResponseWriter, r *http.Request) {
	ids, err := validate.IDList(r.URL.Query().Get("ids"), MaxBatchIDs)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "ids: "+err.Error())
		return
	}
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	scores := h.config.Scores.GetLatestTrustScoreMap(r.Context(), ids, trustcache.Options{BypassCache: fresh})

	missing := make([]string, 0)
	for _, id := range ids {
		if _, ok := scores[id]; !ok {
			missing = append(missing, id)
		}
	}
	writeJSON(w, r, http.StatusOK, BatchResponse{Scores: scores, Missing: missing})
}

// GetScoreEvents handles GET /v1/trust/events. Admin only.
func (h *TrustHandlers) GetScoreEvents(w http.ResponseWriter, r *http.Request) {
	events := []trust.ScoreEvent{}
	if h.config.Events != nil {
		events = h.config.Events.Recent()
	}
	writeJSON(w, r, http.StatusOK, EventsResponse{Events: events})
}

// LiveTrustScore handles GET /v1/trust/{id}/live, upgrading to a websocket
// that receives the current score followed by every persisted change.
func (h *TrustHandlers) LiveTrustScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.config.Broadcaster == nil {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Live updates are not enabled")
		return
	}

	var initial *broadcast.ScoreUpdate
	latest, err := h.config.Snapshots.GetLatest(r.Context(), userID)
	switch {
	case err == nil:
		initial = &broadcast.ScoreUpdate{
			SellerID: latest.UserID,
			Score:    latest.Score,
			Grade:    latest.Grade,
			Version:  latest.Version,
			At:       latest.UpdatedAt,
		}
	case !errors.Is(err, trust.ErrSnapshotNotFound):
		h.config.Logger.WarnContext(r.Context(), "failed to load initial trust score", "error", err, "user_id", userID)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.config.Logger.WarnContext(r.Context(), "failed to upgrade websocket connection",
			"error", err,
			"user_id", userID)
		return
	}

	requestID := middleware.GetRequestID(r.Context())
	h.config.Logger.InfoContext(r.Context(), "websocket client subscribed to trust updates",
		"user_id", userID,
		"request_id", requestID)

	h.config.Broadcaster.Serve(r.Context(), conn, userID, initial)

	h.config.Logger.InfoContext(r.Context(), "websocket client unsubscribed",
		"user_id", userID,
		"request_id", requestID)
}
