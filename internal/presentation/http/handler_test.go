package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appCart "github.com/cleanandflip/marketplace/internal/application/cart"
	appInventory "github.com/cleanandflip/marketplace/internal/application/inventory"
	appOrder "github.com/cleanandflip/marketplace/internal/application/order"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	domainOrder "github.com/cleanandflip/marketplace/internal/domain/order"
	"github.com/cleanandflip/marketplace/internal/infrastructure/memory"
	"github.com/cleanandflip/marketplace/internal/observability"
)

type testServer struct {
	store  *memory.Store
	router http.Handler
}

func newTestServer(t *testing.T, products ...inventory.Product) *testServer {
	t.Helper()
	store := memory.NewStore()
	for _, p := range products {
		if err := store.PutProduct(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	ledger := memory.NewStockLedger(store, observability.NopMetrics())
	carts := memory.NewCartRepository(store, ledger)
	h := NewHandler(
		appCart.NewService(carts, nil, nil),
		appOrder.NewCheckoutUseCase(memory.NewOrderAssembler(store, ledger, domainOrder.Pricing{}), carts, nil, nil),
		appInventory.NewReserveStockUseCase(ledger, nil),
		nil,
		nil,
	)
	return &testServer{store: store, router: h.Router()}
}

func product(id string, stock int, price int64) inventory.Product {
	return inventory.Product{ID: id, StockQuantity: stock, PriceCents: price, Status: inventory.StatusActive}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

var guest = map[string]string{headerSessionID: "s1"}

func TestCartLifecycle(t *testing.T) {
	s := newTestServer(t, product("p1", 5, 250))

	rec := s.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":2}`, guest)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("expected generated request id")
	}

	rec = s.do(t, http.MethodPut, "/cart/items/p1", `{"quantity":4}`, guest)
	if rec.Code != http.StatusOK {
		t.Fatalf("set: %d %s", rec.Code, rec.Body.String())
	}
	if item := decode[itemResponse](t, rec); item.Quantity != 4 {
		t.Fatalf("expected quantity 4, got %+v", item)
	}

	rec = s.do(t, http.MethodGet, "/cart", "", guest)
	view := decode[cartResponse](t, rec)
	if rec.Code != http.StatusOK || view.SessionID != "s1" || len(view.Items) != 1 || view.SubtotalCents != 1000 {
		t.Fatalf("view: %d %+v", rec.Code, view)
	}

	if rec = s.do(t, http.MethodDelete, "/cart/items/p1", "", guest); rec.Code != http.StatusNoContent {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body.String())
	}
	if rec = s.do(t, http.MethodDelete, "/cart/items/p1", "", guest); rec.Code != http.StatusNotFound {
		t.Fatalf("second remove: %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, product("p1", 2, 100))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{name: "insufficient stock", method: http.MethodPost, path: "/cart/items", body: `{"product_id":"p1","quantity":3}`, headers: guest, wantStatus: http.StatusConflict, wantCode: "insufficient_stock"},
		{name: "unknown product", method: http.MethodPost, path: "/cart/items", body: `{"product_id":"nope","quantity":1}`, headers: guest, wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{name: "no owner", method: http.MethodGet, path: "/cart", wantStatus: http.StatusBadRequest, wantCode: "invalid"},
		{name: "bad mode", method: http.MethodPost, path: "/cart/items", body: `{"product_id":"p1","quantity":1,"mode":"multiply"}`, headers: guest, wantStatus: http.StatusBadRequest, wantCode: "invalid"},
		{name: "zero quantity", method: http.MethodPut, path: "/cart/items/p1", body: `{"quantity":0}`, headers: guest, wantStatus: http.StatusBadRequest, wantCode: "invalid"},
		{name: "malformed body", method: http.MethodPost, path: "/cart/items", body: `{"product_id":`, headers: guest, wantStatus: http.StatusBadRequest, wantCode: "error"},
		{name: "checkout without user", method: http.MethodPost, path: "/checkout", headers: guest, wantStatus: http.StatusBadRequest, wantCode: "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if resp := decode[errorResponse](t, rec); resp.Code != tt.wantCode {
				t.Fatalf("expected code %q, got %+v", tt.wantCode, resp)
			}
		})
	}
}

func TestInsufficientStockReportsAvailable(t *testing.T) {
	s := newTestServer(t, product("p1", 2, 100))

	rec := s.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":3}`, guest)
	resp := decode[errorResponse](t, rec)
	if resp.Available == nil || *resp.Available != 2 {
		t.Fatalf("expected available 2, got %+v", resp)
	}
}

func TestAbortedMapsToRetryableStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, commerce.Aborted(errors.New("deadlock detected")))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 503 with Retry-After, got %d %v", rec.Code, rec.Header())
	}
}

func TestMergeThenCheckoutFromCart(t *testing.T) {
	s := newTestServer(t, product("p1", 5, 300), product("p2", 5, 100))
	if rec := s.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":2}`, guest); rec.Code != http.StatusOK {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}

	login := map[string]string{headerSessionID: "s1", headerUserID: "u1"}
	rec := s.do(t, http.MethodPost, "/cart/merge", "", login)
	if merged := decode[mergeResponse](t, rec); rec.Code != http.StatusOK || merged.Moved != 1 {
		t.Fatalf("merge: %d %+v", rec.Code, merged)
	}

	user := map[string]string{headerUserID: "u1"}
	rec = s.do(t, http.MethodPost, "/checkout", "", user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	o := decode[orderResponse](t, rec)
	if o.OrderID == "" || o.Status != domainOrder.StatusPending || o.TotalCents != 600 || len(o.Items) != 1 {
		t.Fatalf("unexpected order %+v", o)
	}

	rec = s.do(t, http.MethodGet, "/products/p1/availability", "", nil)
	if a := decode[availabilityResponse](t, rec); rec.Code != http.StatusOK || a.Available != 3 {
		t.Fatalf("availability: %d %+v", rec.Code, a)
	}

	rec = s.do(t, http.MethodGet, "/cart", "", user)
	if view := decode[cartResponse](t, rec); len(view.Items) != 0 {
		t.Fatalf("cart not cleared: %+v", view)
	}
}

func TestCheckoutExplicitLinesIsAllOrNothing(t *testing.T) {
	s := newTestServer(t, product("p1", 5, 300), product("p2", 1, 100))
	body := `{"items":[{"product_id":"p1","quantity":2,"price_cents":300},{"product_id":"p2","quantity":2,"price_cents":100}]}`

	rec := s.do(t, http.MethodPost, "/checkout", body, map[string]string{headerUserID: "u1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	if p, _ := s.store.Product("p1"); p.StockQuantity != 5 {
		t.Fatalf("stock changed to %d", p.StockQuantity)
	}
}

func TestValidateReportsCorrections(t *testing.T) {
	s := newTestServer(t, product("p1", 5, 300))
	if rec := s.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":4}`, guest); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	if err := s.store.PutProduct(context.Background(), product("p1", 1, 300)); err != nil {
		t.Fatal(err)
	}

	rec := s.do(t, http.MethodPost, "/cart/validate", "", guest)
	resp := decode[validateResponse](t, rec)
	if rec.Code != http.StatusOK || len(resp.Corrections) != 1 {
		t.Fatalf("validate: %d %+v", rec.Code, resp)
	}
	c := resp.Corrections[0]
	if c.Action != "adjusted" || c.Quantity != 1 || c.PreviousQuantity != 4 || c.Reason != "Quantity reduced to available stock" {
		t.Fatalf("unexpected correction %+v", c)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}

	h := NewHandler(nil, nil, nil, func(*http.Request) error { return errors.New("db down") }, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
