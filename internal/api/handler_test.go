package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/api"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/exchange"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/offers"
	"github.com/atmx/bean-exchange/internal/pricing"
	"github.com/atmx/bean-exchange/internal/store"
	"github.com/atmx/bean-exchange/internal/store/storetest"
)

var now = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestEnv wires the API over an in-memory store.
func newTestEnv(t *testing.T) (*store.MemoryStore, *clock.Fake, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewFake(now)
	sink := notify.NewStoreSink(ms, clk)
	desk := exchange.NewDesk(ms, clk, sink, nil)
	book := offers.NewBook(ms, clk, sink, nil)
	sim := pricing.NewSimulator(ms, clk, pricing.NewRand(1), pricing.Config{}, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewHandler(ms, clk, desk, book, sim, decimal.Zero).Register)
	return ms, clk, r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestPoolRoundTrip(t *testing.T) {
	ms, _, r := newTestEnv(t)

	w := do(t, r, "POST", "/api/v1/users", map[string]any{"id": "alice", "display_name": "Alice", "balance": "1000"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, "POST", "/api/v1/commodities", map[string]any{"name": "Arabica", "price": "10", "total_quantity": 100})
	if w.Code != http.StatusCreated {
		t.Fatalf("create commodity: %d %s", w.Code, w.Body.String())
	}
	c := decodeBody[model.Commodity](t, w)

	w = do(t, r, "POST", "/api/v1/pool/buy", map[string]any{"user_id": "alice", "commodity_id": c.ID, "quantity": 30})
	if w.Code != http.StatusCreated {
		t.Fatalf("buy: %d %s", w.Code, w.Body.String())
	}
	lot := decodeBody[model.Lot](t, w)
	if lot.Quantity != 30 || !lot.UnitCost.Equal(d("10")) {
		t.Errorf("unexpected lot: %+v", lot)
	}

	w = do(t, r, "GET", "/api/v1/users/alice/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("positions: %d", w.Code)
	}
	if ps := decodeBody[[]map[string]any](t, w); len(ps) != 1 {
		t.Errorf("expected 1 position, got %v", ps)
	}

	w = do(t, r, "POST", "/api/v1/pool/sell", map[string]any{"lot_id": lot.ID, "quantity": 30})
	if w.Code != http.StatusOK {
		t.Fatalf("sell: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, "GET", "/api/v1/users/alice", nil)
	if u := decodeBody[model.User](t, w); !u.Balance.Equal(d("1000")) {
		t.Errorf("balance = %s, want 1000", u.Balance)
	}

	w = do(t, r, "GET", "/api/v1/users/alice/settlements", nil)
	if ss := decodeBody[[]model.Settlement](t, w); len(ss) != 1 || ss[0].Quantity != 30 {
		t.Errorf("unexpected settlements: %+v", ss)
	}

	w = do(t, r, "GET", "/api/v1/users/alice/notices", nil)
	if ns := decodeBody[[]model.Notice](t, w); len(ns) != 2 {
		t.Errorf("expected purchase and sale notices, got %d", len(ns))
	}

	w = do(t, r, "GET", "/api/v1/admin/invariants", nil)
	if body := decodeBody[map[string]any](t, w); body["ok"] != true {
		t.Errorf("invariants: %v", body)
	}
	storetest.AssertInvariants(t, ms)
}

func TestErrorStatusMapping(t *testing.T) {
	ms, _, r := newTestEnv(t)
	storetest.User(t, ms, "poor", "5")
	storetest.User(t, ms, "rich", "1000")
	storetest.Commodity(t, ms, "c", "10", 10)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown user", "POST", "/api/v1/pool/buy", map[string]any{"user_id": "ghost", "commodity_id": "c", "quantity": 1}, http.StatusNotFound, "not_found"},
		{"zero quantity", "POST", "/api/v1/pool/buy", map[string]any{"user_id": "rich", "commodity_id": "c", "quantity": 0}, http.StatusBadRequest, "invalid"},
		{"insufficient funds", "POST", "/api/v1/pool/buy", map[string]any{"user_id": "poor", "commodity_id": "c", "quantity": 1}, http.StatusPaymentRequired, "insufficient_funds"},
		{"pool exhausted", "POST", "/api/v1/pool/buy", map[string]any{"user_id": "rich", "commodity_id": "c", "quantity": 11}, http.StatusConflict, "insufficient_holdings"},
		{"duplicate user", "POST", "/api/v1/users", map[string]any{"id": "rich", "balance": "1"}, http.StatusConflict, "duplicate"},
		{"unknown field", "POST", "/api/v1/pool/sell", map[string]any{"lot": "x"}, http.StatusBadRequest, "invalid"},
		{"missing lot", "POST", "/api/v1/pool/sell", map[string]any{"lot_id": "x", "quantity": 1}, http.StatusNotFound, "not_found"},
		{"bad days", "GET", "/api/v1/commodities/c/prices?days=week", nil, http.StatusBadRequest, "invalid"},
		{"bad is_buy", "GET", "/api/v1/offers?is_buy=maybe", nil, http.StatusBadRequest, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if e := decodeBody[errResp](t, w); e.Code != tt.code || e.Error == "" {
				t.Errorf("body = %+v, want code %s", e, tt.code)
			}
		})
	}
}

func TestOfferLifecycle(t *testing.T) {
	ms, _, r := newTestEnv(t)
	storetest.User(t, ms, "seller", "0")
	storetest.User(t, ms, "buyer", "100")
	storetest.Commodity(t, ms, "c", "10", 100)
	lot := storetest.Lot(t, ms, "seller", "c", 10, "5", now.AddDate(0, 0, -1))

	w := do(t, r, "POST", "/api/v1/offers", map[string]any{
		"user_id": "seller", "commodity_id": "c", "lot_id": lot.ID, "quantity": 10, "price": "8",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create offer: %d %s", w.Code, w.Body.String())
	}
	o := decodeBody[model.Offer](t, w)

	w = do(t, r, "PUT", "/api/v1/offers/"+o.ID, map[string]any{"user_id": "buyer", "quantity": 5, "price": "1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("update by non-owner: %d, want 400", w.Code)
	}
	w = do(t, r, "PUT", "/api/v1/offers/"+o.ID, map[string]any{"user_id": "seller", "quantity": 10, "price": "9"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, "GET", "/api/v1/commodities/c/offers?is_buy=false&exclude_user_id=buyer", nil)
	if list := decodeBody[[]model.Offer](t, w); len(list) != 1 || !list[0].Price.Equal(d("9")) {
		t.Errorf("unexpected offers: %+v", list)
	}

	w = do(t, r, "POST", "/api/v1/offers/"+o.ID+"/fill-as-buyer", map[string]any{"buyer_id": "buyer", "quantity": 4, "oldest_first": true})
	if w.Code != http.StatusOK {
		t.Fatalf("fill: %d %s", w.Code, w.Body.String())
	}
	fill := decodeBody[offers.Fill](t, w)
	if fill.Quantity != 4 || fill.Remaining != 6 || !fill.Total.Equal(d("36")) {
		t.Errorf("unexpected fill: %+v", fill)
	}

	w = do(t, r, "DELETE", "/api/v1/offers/"+o.ID+"?user_id=seller", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, "GET", "/api/v1/offers/"+o.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cancelled offer still served: %d", w.Code)
	}
	storetest.AssertInvariants(t, ms)
}

func TestFillAsSellerEndpoint(t *testing.T) {
	ms, _, r := newTestEnv(t)
	storetest.User(t, ms, "seller", "0")
	storetest.User(t, ms, "buyer", "100")
	storetest.Commodity(t, ms, "c", "10", 100)
	lot := storetest.Lot(t, ms, "seller", "c", 10, "5", now.AddDate(0, 0, -1))

	w := do(t, r, "POST", "/api/v1/offers", map[string]any{
		"user_id": "buyer", "commodity_id": "c", "quantity": 5, "price": "6", "is_buy": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create buy offer: %d %s", w.Code, w.Body.String())
	}
	o := decodeBody[model.Offer](t, w)

	w = do(t, r, "POST", "/api/v1/offers/"+o.ID+"/fill-as-seller", map[string]any{
		"seller_id": "seller",
		"items":     []map[string]any{{"lot_id": lot.ID, "quantity": 5}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("fill: %d %s", w.Code, w.Body.String())
	}
	if fill := decodeBody[offers.Fill](t, w); fill.Quantity != 5 || fill.Remaining != 0 {
		t.Errorf("unexpected fill: %+v", fill)
	}

	w = do(t, r, "GET", "/api/v1/users/seller/cost-basis/c", nil)
	if cb := decodeBody[model.CostBasis](t, w); cb.Kind != model.BasisSingle || !cb.Basis.Equal(d("5")) {
		t.Errorf("cost basis = %+v, want single basis 5", cb)
	}
	storetest.AssertInvariants(t, ms)
}

func TestPriceEndpoints(t *testing.T) {
	ms, _, r := newTestEnv(t)
	storetest.Commodity(t, ms, "c", "10", 100)

	w := do(t, r, "POST", "/api/v1/commodities/c/prices/catch-up", map[string]any{"date": "2024-06-01"})
	if w.Code != http.StatusOK {
		t.Fatalf("catch up: %d %s", w.Code, w.Body.String())
	}
	if got := decodeBody[map[string]int](t, w); got["created"] != 3 {
		t.Errorf("created = %d, want 3", got["created"])
	}

	// Today already has a tick, so advancing again returns it unchanged.
	w = do(t, r, "POST", "/api/v1/commodities/c/prices/advance", map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", w.Code, w.Body.String())
	}
	tick := decodeBody[model.PriceTick](t, w)

	w = do(t, r, "GET", "/api/v1/commodities/c/prices/latest", nil)
	if latest := decodeBody[model.PriceTick](t, w); latest.ID != tick.ID {
		t.Errorf("latest tick %s, advance returned %s", latest.ID, tick.ID)
	}

	w = do(t, r, "GET", "/api/v1/commodities/c/prices?days=2", nil)
	if ticks := decodeBody[[]model.PriceTick](t, w); len(ticks) != 2 {
		t.Errorf("history has %d ticks, want 2", len(ticks))
	}

	w = do(t, r, "GET", "/api/v1/commodities/c/stats?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	if st := decodeBody[pricing.Stats](t, w); st.CommodityID != "c" || st.Days != 7 {
		t.Errorf("unexpected stats: %+v", st)
	}

	w = do(t, r, "POST", "/api/v1/commodities/c/prices/catch-up", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("catch up without date: %d, want 400", w.Code)
	}
	w = do(t, r, "GET", "/api/v1/commodities/nope/prices", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown commodity history: %d, want 404", w.Code)
	}
}
