package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/broker"
	"execution-core/internal/clientid"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/historic"
	"execution-core/internal/monitor"
	"execution-core/internal/persistence"
	"execution-core/internal/reconciliation"
	"execution-core/internal/stackhandler"
	"execution-core/pkg/db"
	"execution-core/pkg/instruments"
	"execution-core/pkg/venue"
	"execution-core/pkg/venue/paper"
)

const testSecret = "test-secret"

func newTestAPIServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	cfg, err := instruments.New(
		instruments.Instrument{Code: "GOLD", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", PriceContract: "202406", ForwardContract: "202408"},
	)
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}

	v := paper.New(paper.DefaultConfig(), nil)
	v.ListContract(venue.Contract{ID: "gc-jun", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240626"}, 2300)
	v.ListContract(venue.Contract{ID: "gc-aug", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240828"}, 2320)

	registry := clientid.NewRegistry(database, 100, nil)
	sessions := gateway.NewManager(registry, gateway.PaperFactory(v), gateway.DefaultConfig(), nil)
	gw := broker.NewGateway(sessions, broker.NewContractResolver(cfg, time.Hour, nil), venue.NewPacer("history", 0, 0, nil), broker.Options{Account: "DU1"}, nil)

	bus := events.NewBus()
	history := historic.NewStore(database)
	orders := stackhandler.New(database, stackhandler.NewStacks(database, history, nil), gw,
		&stackhandler.RollSelector{Instruments: cfg, Positions: gw, Account: "DU1"}, bus, nil)

	journal := persistence.NewJournal(database, 50, time.Hour, nil)
	journalCtx, stopJournal := context.WithCancel(context.Background())
	journal.Follow(journalCtx, bus)

	server := NewServer(Deps{
		Bus:         bus,
		Orders:      orders,
		Roller:      stackhandler.NewRoller(orders, cfg, gw, "DU1"),
		Broker:      gw,
		Sessions:    sessions,
		ClientIDs:   registry,
		Instruments: cfg,
		History:     history,
		Reconciler:  reconciliation.NewService(orders, time.Minute, nil),
		Journal:     journal,
		Metrics:     monitor.NewSystemMetrics(),
	}, SystemMeta{VenueMode: "paper", Accounts: []string{"DU1"}, Version: "test"}, testSecret, nil)

	httpServer := httptest.NewServer(server.Router)
	cleanup := func() {
		httpServer.Close()
		stopJournal()
		journal.Close()
		sessions.Stop()
		_ = database.Close()
	}
	return httpServer, cleanup
}

func testToken(t *testing.T) string {
	t.Helper()
	token, _, err := IssueToken("tester", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	var resp errorResponse
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/v1/stacks/instrument", "", nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected 401 MISSING_TOKEN, got %d %+v", status, resp)
	}

	bad, _, err := IssueToken("tester", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	status = doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/v1/stacks/instrument", bad, nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expected 401 INVALID_TOKEN, got %d %+v", status, resp)
	}
}

func TestOrderLifecycle(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := testToken(t)

	var put struct {
		OrderID int64  `json:"order_id"`
		Key     string `json:"key"`
	}
	payload := map[string]any{"strategy": "trend", "instrument": "GOLD", "qty": 3}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders", token, payload, &put)
	if status != http.StatusCreated || put.OrderID == 0 {
		t.Fatalf("put status=%d resp=%+v", status, put)
	}

	var dup struct {
		Code    string `json:"code"`
		OrderID int64  `json:"order_id"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders", token, payload, &dup)
	if status != http.StatusConflict || dup.Code != "DUPLICATE_ORDER" || dup.OrderID != put.OrderID {
		t.Fatalf("expected duplicate, got status=%d resp=%+v", status, dup)
	}

	var spawn struct {
		Children []int64 `json:"children"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders/"+itoa(put.OrderID)+"/spawn", token, nil, &spawn)
	if status != http.StatusOK || len(spawn.Children) != 1 {
		t.Fatalf("spawn status=%d resp=%+v", status, spawn)
	}

	var exec struct {
		BrokerOrderID int64 `json:"broker_order_id"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/contract-orders/"+itoa(spawn.Children[0])+"/execute", token, map[string]string{"algo": "market"}, &exec)
	if status != http.StatusAccepted || exec.BrokerOrderID == 0 {
		t.Fatalf("execute status=%d resp=%+v", status, exec)
	}

	var polled struct {
		Status string  `json:"exchange_status"`
		Fill   []int64 `json:"fill"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/broker-orders/"+itoa(exec.BrokerOrderID)+"/poll", token, nil, &polled)
	if status != http.StatusOK || polled.Status != "filled" || len(polled.Fill) != 1 || polled.Fill[0] != 3 {
		t.Fatalf("poll status=%d resp=%+v", status, polled)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders/"+itoa(put.OrderID)+"/complete", token, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("complete status=%d", status)
	}

	var active []map[string]any
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/stacks/instrument", token, nil, &active)
	if status != http.StatusOK || len(active) != 0 {
		t.Fatalf("expected empty instrument stack, got status=%d len=%d", status, len(active))
	}

	var archived []map[string]any
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/history/broker?strategy=trend", token, nil, &archived)
	if status != http.StatusOK || len(archived) != 1 {
		t.Fatalf("expected one archived broker order, got status=%d len=%d", status, len(archived))
	}

	var journaled []struct {
		Type string `json:"type"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/events?tier=instrument&order_id="+itoa(put.OrderID), token, nil, &journaled)
	if status != http.StatusOK || len(journaled) == 0 {
		t.Fatalf("events status=%d len=%d", status, len(journaled))
	}

	var ids struct {
		Held []int `json:"held"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/client-ids", token, nil, &ids)
	if status != http.StatusOK || len(ids.Held) != 1 || ids.Held[0] != 100 {
		t.Fatalf("client ids status=%d resp=%+v", status, ids)
	}
}

func TestManualFillTooLarge(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := testToken(t)

	var put struct {
		OrderID int64 `json:"order_id"`
	}
	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders", token, map[string]any{"strategy": "trend", "instrument": "GOLD", "qty": 2}, &put)
	var spawn struct {
		Children []int64 `json:"children"`
	}
	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders/"+itoa(put.OrderID)+"/spawn", token, nil, &spawn)
	if len(spawn.Children) != 1 {
		t.Fatalf("expected one child, got %+v", spawn)
	}

	var resp errorResponse
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/contract-orders/"+itoa(spawn.Children[0])+"/manual-fill", token, map[string]any{"fill": []int64{5}, "price": 2301.5}, &resp)
	if status != http.StatusUnprocessableEntity || resp.Code != "INVALID_FILL" {
		t.Fatalf("expected 422 INVALID_FILL, got %d %+v", status, resp)
	}
}

func TestRollStateBlocksStrategyTrades(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := testToken(t)

	status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/v1/instruments/GOLD/roll-state", token, map[string]string{"state": "force"}, nil)
	if status != http.StatusOK {
		t.Fatalf("roll state status=%d", status)
	}

	var put struct {
		OrderID int64 `json:"order_id"`
	}
	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders", token, map[string]any{"strategy": "trend", "instrument": "GOLD", "qty": 1}, &put)

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instrument-orders/"+itoa(put.OrderID)+"/spawn", token, nil, &resp)
	if status != http.StatusConflict || resp.Code != "ROLL_BLOCKED" {
		t.Fatalf("expected 409 ROLL_BLOCKED, got %d %+v", status, resp)
	}

	var roll struct {
		OrderID  int64   `json:"order_id"`
		Children []int64 `json:"children"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/instruments/GOLD/roll", token, map[string]any{"position": 2, "spread": true}, &roll)
	if status != http.StatusCreated || len(roll.Children) != 1 {
		t.Fatalf("roll status=%d resp=%+v", status, roll)
	}
}

func TestUnknownTierAndBadID(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := testToken(t)

	var resp errorResponse
	status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/stacks/strategy", token, nil, &resp)
	if status != http.StatusUnprocessableEntity || resp.Code != "UNKNOWN_TIER" {
		t.Fatalf("expected 422 UNKNOWN_TIER, got %d %+v", status, resp)
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/stacks/contract/abc", token, nil, &resp)
	if status != http.StatusBadRequest || resp.Code != "INVALID_ID" {
		t.Fatalf("expected 400 INVALID_ID, got %d %+v", status, resp)
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/stacks/contract/99", token, nil, &resp)
	if status != http.StatusNotFound || resp.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("expected 404 ORDER_NOT_FOUND, got %d %+v", status, resp)
	}
}

func TestSystemStatus(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	var resp struct {
		Meta struct {
			VenueMode string `json:"venue_mode"`
		} `json:"meta"`
		Operator     string           `json:"operator"`
		ActiveOrders map[string]int   `json:"active_orders"`
		Journal      *json.RawMessage `json:"journal"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/v1/system/status", testToken(t), nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("status=%d", status)
	}
	if resp.Meta.VenueMode != "paper" || resp.Operator != "tester" {
		t.Fatalf("unexpected status body %+v", resp)
	}
	if resp.ActiveOrders["instrument"] != 0 || resp.Journal == nil {
		t.Fatalf("unexpected counters %+v", resp)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
