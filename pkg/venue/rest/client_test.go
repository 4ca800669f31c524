package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/venue"
)

func TestSubmitSendsClientID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "117", r.Header.Get("X-Client-Id"))

		var req venue.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(-2), req.Quantity)
		assert.Len(t, req.Legs, 2)

		_ = json.NewEncoder(w).Encode(venue.OrderHandle{PermID: "p-1", TempID: "9", Status: "Submitted"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 117, nil)
	h, err := c.SubmitOrder(context.Background(), venue.OrderRequest{
		Legs:     []venue.ComboLeg{{ContractID: "1", Ratio: 1}, {ContractID: "2", Ratio: -1}},
		Quantity: -2,
		Type:     venue.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1", h.PermID)
	assert.Equal(t, 117, h.ClientID)
}

func TestErrorStatusIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such order", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, 1, nil).CancelOrder(context.Background(), venue.OrderHandle{PermID: "gone"})
	require.ErrorIs(t, err, venue.ErrVenueRejected)
	assert.Contains(t, err.Error(), "no such order")
}

func TestDecodesExecutionsAndSummary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/p-1/executions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"exec_id":"e1","perm_id":"p-1","contract_id":"1","quantity":3,"price":101.5,"commission":"1.25","commission_currency":"USD"}]`))
	})
	mux.HandleFunc("/accounts/DU1/summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"account":"DU1","tag":"NetLiquidation","currency":"USD","value":"1000.50"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := New(srv.URL, 1, nil)

	execs, err := c.Executions(context.Background(), venue.OrderHandle{PermID: "p-1"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Commission.Equal(decimal.RequireFromString("1.25")))

	vals, err := c.AccountSummary(context.Background(), "DU1")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, "1000.5", vals[0].Value.String())
}

func TestSlowBridgeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	c := New(srv.URL, 1, nil)

	_, err := venue.Call(context.Background(), 20*time.Millisecond, "positions", func(ctx context.Context) ([]venue.Position, error) {
		return c.Positions(ctx, "DU1")
	})
	require.ErrorIs(t, err, venue.ErrVenueTimeout)
}
