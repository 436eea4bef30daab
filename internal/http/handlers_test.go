package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/metrics"
	"storefront/internal/repository"
	"storefront/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

func setupServer(t *testing.T) *Server {
	t.Helper()
	svc := service.New(service.Deps{Store: repository.NewMemory()})
	return NewServer(svc, Options{Metrics: metrics.New()})
}

type caller struct {
	userID  int64
	session string
	staff   bool
}

var (
	customer = caller{userID: 1}
	admin    = caller{userID: 100, staff: true}
)

func doJSON(t *testing.T, s *Server, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.userID != 0 {
		req.Header.Set(HeaderUserID, fmt.Sprint(who.userID))
	}
	if who.session != "" {
		req.Header.Set(HeaderSessionKey, who.session)
	}
	if who.staff {
		req.Header.Set(HeaderUserRole, "staff")
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body errorResponse
	decode(t, w, &body)
	if body.Code != code {
		t.Fatalf("expected code %q, got %q (%s)", code, body.Code, body.Error)
	}
}

func createProduct(t *testing.T, s *Server, sku string, price string, stock int) int64 {
	t.Helper()
	w := doJSON(t, s, admin, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Product " + sku, "sku": sku, "price": price, "stock": stock,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create product %v: %s", w.Code, w.Body.String())
	}
	var p struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &p)
	return p.ID
}

func TestProductFlow(t *testing.T) {
	s := setupServer(t)
	id := createProduct(t, s, "S1", "10.50", 5)

	w := doJSON(t, s, customer, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get code %v", w.Code)
	}
	w = doJSON(t, s, admin, http.MethodPut, fmt.Sprintf("/api/v1/products/%d", id), map[string]any{
		"name": "Kettle+", "price": 12, "stock": 7, "is_active": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update code %v: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, customer, http.MethodGet, "/api/v1/products?active=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list code %v", w.Code)
	}
	var list []map[string]any
	decode(t, w, &list)
	if len(list) != 0 {
		t.Fatalf("inactive product listed: %v", list)
	}

	expectError(t, doJSON(t, s, customer, http.MethodGet, "/api/v1/products/999", nil), http.StatusNotFound, CodeNotFound)
	expectError(t, doJSON(t, s, customer, http.MethodGet, "/api/v1/products/abc", nil), http.StatusBadRequest, CodeValidation)
	expectError(t, doJSON(t, s, admin, http.MethodPost, "/api/v1/products", map[string]any{"sku": "S2"}), http.StatusBadRequest, CodeValidation)
}

func TestProductWritesForbiddenForCustomers(t *testing.T) {
	s := setupServer(t)
	body := map[string]any{"name": "Kettle", "sku": "S1", "price": "10.00", "stock": 5}
	expectError(t, doJSON(t, s, caller{}, http.MethodPost, "/api/v1/products", body), http.StatusForbidden, CodePermissionDenied)
	expectError(t, doJSON(t, s, customer, http.MethodPost, "/api/v1/products", body), http.StatusForbidden, CodePermissionDenied)

	id := createProduct(t, s, "S1", "10.00", 5)
	path := fmt.Sprintf("/api/v1/products/%d", id)
	expectError(t, doJSON(t, s, customer, http.MethodPut, path, map[string]any{"name": "Kettle", "price": "0.01", "stock": 1000000}),
		http.StatusForbidden, CodePermissionDenied)

	w := doJSON(t, s, customer, http.MethodGet, path, nil)
	var got struct {
		Price decimal.Decimal `json:"price"`
		Stock int64           `json:"stock"`
	}
	decode(t, w, &got)
	if !got.Price.Equal(decimal.NewFromInt(10)) || got.Stock != 5 {
		t.Fatalf("product changed: %s", w.Body.String())
	}
}

func TestCartFlow(t *testing.T) {
	s := setupServer(t)
	pid := createProduct(t, s, "S1", "2.50", 3)

	// anonymous caller gets a session key
	w := doJSON(t, s, caller{}, http.MethodGet, "/api/v1/carts/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current code %v: %s", w.Code, w.Body.String())
	}
	session := w.Header().Get(HeaderSessionKey)
	if session == "" || len(session) > 40 {
		t.Fatalf("expected issued session key, got %q", session)
	}
	guest := caller{session: session}

	w = doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid, "quantity": 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("add code %v: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid})
	if w.Code != http.StatusCreated {
		t.Fatalf("add default quantity %v: %s", w.Code, w.Body.String())
	}
	expectError(t, doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid, "quantity": 1}),
		http.StatusBadRequest, CodeInsufficientStock)
	expectError(t, doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": 999, "quantity": 1}),
		http.StatusBadRequest, CodeInvalidProduct)
	expectError(t, doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"quantity": 1}),
		http.StatusBadRequest, CodeValidation)

	w = doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/update_item", map[string]any{"product": pid, "quantity": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("update code %v: %s", w.Code, w.Body.String())
	}
	var cart cartResponse
	decode(t, w, &cart)
	if cart.TotalItems != 1 || cart.TotalAmount.String() != "2.5" {
		t.Fatalf("unexpected cart %+v", cart)
	}

	w = doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/remove_item", map[string]any{"product": pid})
	if w.Code != http.StatusOK {
		t.Fatalf("remove code %v", w.Code)
	}
	expectError(t, doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/remove_item", map[string]any{"product": pid}),
		http.StatusNotFound, CodeItemNotFound)

	w = doJSON(t, s, guest, http.MethodPost, "/api/v1/carts/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear code %v", w.Code)
	}

	expectError(t, doJSON(t, s, caller{session: strings.Repeat("x", 41)}, http.MethodGet, "/api/v1/carts/current", nil),
		http.StatusBadRequest, CodeValidation)
	expectError(t, doJSON(t, s, caller{}, http.MethodGet, "/api/v1/orders", nil), http.StatusForbidden, CodePermissionDenied)
}

func TestOrderFlow(t *testing.T) {
	s := setupServer(t)
	pid := createProduct(t, s, "S1", "10", 5)

	expectError(t, doJSON(t, s, customer, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{"shipping_address": "addr"}),
		http.StatusBadRequest, CodeEmptyCart)
	expectError(t, doJSON(t, s, caller{session: "abc"}, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{"shipping_address": "addr"}),
		http.StatusForbidden, CodePermissionDenied)

	w := doJSON(t, s, customer, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid, "quantity": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("add code %v: %s", w.Code, w.Body.String())
	}
	expectError(t, doJSON(t, s, customer, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{}),
		http.StatusBadRequest, CodeValidation)

	w = doJSON(t, s, customer, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{"shipping_address": "1 Main St"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order code %v: %s", w.Code, w.Body.String())
	}
	var o struct {
		ID          int64  `json:"id"`
		OrderNumber string `json:"order_number"`
		Status      string `json:"status"`
	}
	decode(t, w, &o)
	if o.Status != "pending" || !strings.HasPrefix(o.OrderNumber, "ORD-") {
		t.Fatalf("unexpected order %+v", o)
	}

	orderPath := fmt.Sprintf("/api/v1/orders/%d", o.ID)
	if w := doJSON(t, s, customer, http.MethodGet, orderPath, nil); w.Code != http.StatusOK {
		t.Fatalf("get order code %v", w.Code)
	}
	expectError(t, doJSON(t, s, caller{userID: 2}, http.MethodGet, orderPath, nil), http.StatusNotFound, CodeNotFound)
	expectError(t, doJSON(t, s, customer, http.MethodGet, "/api/v1/orders/stats", nil), http.StatusForbidden, CodePermissionDenied)
	if w := doJSON(t, s, admin, http.MethodGet, "/api/v1/orders/stats", nil); w.Code != http.StatusOK {
		t.Fatalf("stats code %v", w.Code)
	}

	// cancel
	w = doJSON(t, s, customer, http.MethodPost, orderPath+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel code %v: %s", w.Code, w.Body.String())
	}
	expectError(t, doJSON(t, s, customer, http.MethodPost, orderPath+"/cancel", nil), http.StatusBadRequest, CodeInvalidTransition)
	expectError(t, doJSON(t, s, admin, http.MethodPost, orderPath+"/update_status", map[string]any{"status": "shipped"}),
		http.StatusBadRequest, CodeInvalidTransition)

	w = doJSON(t, s, customer, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", pid), nil)
	var p struct {
		Stock int64 `json:"stock"`
	}
	decode(t, w, &p)
	if p.Stock != 5 {
		t.Fatalf("stock not restored: %d", p.Stock)
	}
}

func TestPaymentFlow(t *testing.T) {
	s := setupServer(t)
	pid := createProduct(t, s, "S1", "25.00", 5)
	doJSON(t, s, customer, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid, "quantity": 4})
	w := doJSON(t, s, customer, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{"shipping_address": "addr"})
	var o struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &o)

	expectError(t, doJSON(t, s, customer, http.MethodPost, "/api/v1/payments", map[string]any{"order": o.ID, "amount": "10.00"}),
		http.StatusBadRequest, CodeValidation)
	w = doJSON(t, s, customer, http.MethodPost, "/api/v1/payments", map[string]any{"order": o.ID, "amount": "100.00"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create payment code %v: %s", w.Code, w.Body.String())
	}
	var pay struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	decode(t, w, &pay)
	payPath := fmt.Sprintf("/api/v1/payments/%d", pay.ID)

	w = doJSON(t, s, customer, http.MethodPost, payPath+"/process", map[string]any{"success": true, "transaction_id": "tx-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("process code %v: %s", w.Code, w.Body.String())
	}
	expectError(t, doJSON(t, s, customer, http.MethodPost, payPath+"/process", map[string]any{"success": true}),
		http.StatusBadRequest, CodeInvalidTransition)

	expectError(t, doJSON(t, s, customer, http.MethodPost, payPath+"/refund", map[string]any{"amount": "10"}),
		http.StatusForbidden, CodePermissionDenied)
	expectError(t, doJSON(t, s, admin, http.MethodPost, payPath+"/refund", map[string]any{"amount": "100.01"}),
		http.StatusBadRequest, CodeRefundExceedsAvailable)

	w = doJSON(t, s, admin, http.MethodPost, payPath+"/refund", map[string]any{"amount": "40", "reason": "damaged"})
	if w.Code != http.StatusOK {
		t.Fatalf("refund code %v: %s", w.Code, w.Body.String())
	}
	var refund struct {
		RefundAmount string `json:"refund_amount"`
		Payment      struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	decode(t, w, &refund)
	if refund.RefundAmount != "40.00" || refund.Payment.Status != "partially_refunded" {
		t.Fatalf("unexpected refund %+v", refund)
	}

	// empty body refunds the rest
	w = doJSON(t, s, admin, http.MethodPost, payPath+"/refund", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("full refund code %v: %s", w.Code, w.Body.String())
	}
	decode(t, w, &refund)
	if refund.RefundAmount != "60.00" || refund.Payment.Status != "refunded" {
		t.Fatalf("unexpected refund %+v", refund)
	}
	expectError(t, doJSON(t, s, admin, http.MethodPost, payPath+"/refund", nil), http.StatusBadRequest, CodeNotRefundable)

	w = doJSON(t, s, customer, http.MethodGet, payPath+"/transactions", nil)
	var txs []map[string]any
	decode(t, w, &txs)
	if len(txs) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(txs))
	}
	if w := doJSON(t, s, admin, http.MethodGet, "/api/v1/payments/stats", nil); w.Code != http.StatusOK {
		t.Fatalf("stats code %v", w.Code)
	}
}

func TestPaymentWebhook(t *testing.T) {
	s := setupServer(t)
	pid := createProduct(t, s, "S1", "5", 5)
	doJSON(t, s, customer, http.MethodPost, "/api/v1/carts/add_item", map[string]any{"product": pid, "quantity": 1})
	w := doJSON(t, s, customer, http.MethodPost, "/api/v1/orders/create_from_cart", map[string]any{"shipping_address": "addr"})
	var o struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &o)
	w = doJSON(t, s, customer, http.MethodPost, "/api/v1/payments", map[string]any{"order": o.ID, "amount": 5})
	var pay struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &pay)

	hook := map[string]any{"payment_id": pay.ID, "status": "succeeded", "transaction_id": "ext-1"}
	for i := 0; i < 2; i++ {
		w = doJSON(t, s, caller{}, http.MethodPost, "/api/v1/payments/webhook", hook)
		if w.Code != http.StatusOK {
			t.Fatalf("webhook #%d code %v: %s", i, w.Code, w.Body.String())
		}
	}
	expectError(t, doJSON(t, s, caller{}, http.MethodPost, "/api/v1/payments/webhook",
		map[string]any{"payment_id": 999, "status": "succeeded"}), http.StatusNotFound, CodeNotFound)
	expectError(t, doJSON(t, s, caller{}, http.MethodPost, "/api/v1/payments/webhook",
		map[string]any{"payment_id": pay.ID, "status": "disputed"}), http.StatusBadRequest, CodeValidation)
	expectError(t, doJSON(t, s, caller{}, http.MethodPost, "/api/v1/payments/webhook",
		map[string]any{"payment_id": pay.ID, "status": "failed"}), http.StatusBadRequest, CodeInvalidTransition)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupServer(t)
	if w := doJSON(t, s, caller{}, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health code %v", w.Code)
	}
	w := doJSON(t, s, caller{}, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics code %v", w.Code)
	}
	if !strings.Contains(w.Body.String(), "storefront_http_requests_total") {
		t.Fatalf("request counter missing from metrics output")
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected request id header")
	}
}
