package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/artisan/internal/auth"
	"github.com/onnwee/artisan/internal/broadcast"
	"github.com/onnwee/artisan/internal/catalog"
	"github.com/onnwee/artisan/internal/ranking"
	"github.com/onnwee/artisan/internal/toggle"
	"github.com/onnwee/artisan/internal/trust"
	"github.com/onnwee/artisan/internal/trustcache"
)

const testSecret = "api-test-secret-0123456789abcdef"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer wires the API over in-memory stores.
type testServer struct {
	mux      *http.ServeMux
	store    *trust.MemoryStore
	listings *catalog.InMemoryListingRepository
	events   *trust.ScoreEventLog
	verifier *auth.Verifier
	toggles  *toggle.Static
}

func newTestServer(t *testing.T, edgesEnabled bool) *testServer {
	t.Helper()
	logger := quietLogger()

	store := trust.NewMemoryStore()
	toggles := toggle.NewStatic(map[string]bool{
		toggle.ReputationEdges: edgesEnabled,
		toggle.RankTrust:       true,
	})

	scores := trustcache.NewService(trustcache.Config{Logger: logger}, store)
	events := trust.NewScoreEventLog(16)
	live := broadcast.New(broadcast.Config{Logger: logger})
	persister := trust.NewPersister(trust.PersisterConfig{
		Logger:    logger,
		Listeners: []trust.ScoreListener{scores, events, live},
	}, store)
	recomputer := trust.NewRecomputer(store, persister, nil)
	dirty := trust.NewDirtyTracker()
	ledger := trust.NewLedger(trust.LedgerConfig{
		Logger:  logger,
		Toggles: toggles,
		Dirty:   dirty,
	}, store, recomputer)

	listings := catalog.NewInMemoryListingRepository(store)
	ranker := ranking.NewRanker(ranking.RankerConfig{Logger: logger, Toggles: toggles}, nil, scores)
	verifier := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})

	mux := NewRouter(RouterConfig{
		Health: NewHealthHandlers(HealthHandlersConfig{Logger: logger}),
		Ledger: NewLedgerHandlers(ledger, logger),
		Trust: NewTrustHandlers(TrustHandlersConfig{
			Logger:      logger,
			Snapshots:   store,
			Scores:      scores,
			Dirty:       dirty,
			Events:      events,
			Broadcaster: live,
		}),
		Search:   NewSearchHandlers(SearchHandlersConfig{Logger: logger}, listings, ranker),
		Verifier: verifier,
	})

	return &testServer{
		mux:      mux,
		store:    store,
		listings: listings,
		events:   events,
		verifier: verifier,
		toggles:  toggles,
	}
}

func (s *testServer) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	tok, err := s.verifier.IssueToken(userID, roles, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return tok
}

// do sends a request; token may be empty for anonymous calls.
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body: %v, body: %s", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, rr).Error.Code
}
