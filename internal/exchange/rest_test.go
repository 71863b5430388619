package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerTimeParsesEpochMillis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"serverTime": 1700000000000})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "key", "secret")
	ts, err := c.ServerTime(t.Context())
	require.NoError(t, err)
	require.WithinDuration(t, time.UnixMilli(1700000000000).UTC(), ts, time.Millisecond)
}

func TestSubmitOrderMapsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1013,"msg":"Filter failure: NOTIONAL"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "key", "secret")
	ack, err := c.SubmitOrder(t.Context(), OrderRequest{
		ClientOrderID: "HOPE-test",
		Symbol:        "BTCUSDT",
		Side:          "BUY",
	})
	require.NoError(t, err)
	require.Equal(t, "rejected", string(ack.Status))
}

func TestRateLimitStatusMapsToRateLimitKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "key", "secret")
	_, err := c.AccountBalances(t.Context())
	require.Error(t, err)
	exErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrRateLimit, exErr.Kind)
}
