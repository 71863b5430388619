package httpapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/allowlist"
	"github.com/hopecore/hope/internal/health"
	"github.com/hopecore/hope/internal/metrics"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/risk"
	"github.com/hopecore/hope/internal/storage"
)

// fakeIngestor records every Signal handed to it, standing in for the
// gate/decision/execution pipeline that the real process wires in.
type fakeIngestor struct {
	received []model.Signal
}

func (f *fakeIngestor) Ingest(sig model.Signal) { f.received = append(f.received, sig) }

func testServer(t *testing.T, ingestor SignalIngestor) *Server {
	t.Helper()
	positions := position.New(nil)
	prices := pricecache.New(10 * time.Second)
	riskMgr := risk.NewManager(risk.Config{MaxDailyLossUSD: decimal.NewFromInt(15), MaxDailyTrades: 100, SymbolCooldown: time.Minute}, nil)
	al := allowlist.New([]string{"BTCUSDT"}, decimal.NewFromInt(1_000_000), "", nil)
	monitor := health.New("DRY", positions, prices, riskMgr, nil)
	store, err := storage.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(monitor, positions, al, riskMgr, store, metrics.New(), ingestor)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := testServer(t, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "\"mode\":\"DRY\"")
}

func TestHandlePositionsReturnsEmptyList(t *testing.T) {
	s := testServer(t, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]\n", rr.Body.String())
}

func TestHandleKillSwitchTogglesOnAndRejectsBadState(t *testing.T) {
	s := testServer(t, nil)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/kill-switch/on", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "true")

	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, httptest.NewRequest(http.MethodPost, "/kill-switch/maybe", nil))
	require.Equal(t, http.StatusBadRequest, rr2.Code)
}

func TestHandleCircuitBreakerResetReturnsClosedState(t *testing.T) {
	s := testServer(t, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/circuit-breaker/reset", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "CLOSED")
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s := testServer(t, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "hope_open_positions")
}

func TestHandleIngestSignalAcceptsAndForwardsToIngestor(t *testing.T) {
	ingestor := &fakeIngestor{}
	s := testServer(t, ingestor)

	body := `{"symbol":"BTCUSDT","side":"LONG","source":"unit-test"}`
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ingest/signal", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, ingestor.received, 1)
	require.Equal(t, "BTCUSDT", ingestor.received[0].Symbol)
}

func TestHandleIngestSignalRejectsMalformedBody(t *testing.T) {
	ingestor := &fakeIngestor{}
	s := testServer(t, ingestor)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ingest/signal", strings.NewReader("not json")))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, ingestor.received)
}

func TestHandleIngestSignalReturns503WithoutIngestor(t *testing.T) {
	s := testServer(t, nil)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ingest/signal", strings.NewReader(`{"symbol":"BTCUSDT"}`)))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
