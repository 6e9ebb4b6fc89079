package workorder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/middleware"
	"github.com/zhoulihan/workdesk/backend/internal/model/user"
	"github.com/zhoulihan/workdesk/backend/internal/service/conversation"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
	workorderservice "github.com/zhoulihan/workdesk/backend/internal/service/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

var (
	ownerClaims = user.Claims{UserID: "u1", Username: "alice", Tier: "free"}
	agentClaims = user.Claims{UserID: "agent-1", Username: "carol", IsAdmin: true}
)

func setupRouter() (*chi.Mux, *workorderservice.Service) {
	s := store.NewMemoryStore()
	svc := workorderservice.NewService(s, nil, config.DefaultCatalog())
	ctrl := conversation.New(s, nil, escalation.NewGate(s, nil, nil))
	handler := New(svc, ctrl)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, svc
}

func doRequest(r *chi.Mux, claims user.Claims, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createOrder(t *testing.T, r *chi.Mux) string {
	t.Helper()
	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder", map[string]string{
		"category":    "app",
		"description": "cannot log in",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	return out.OrderID
}

func TestCreateOrder(t *testing.T) {
	r, _ := setupRouter()
	orderID := createOrder(t, r)
	if len(orderID) != 12 {
		t.Fatalf("unexpected order id: %q", orderID)
	}
}

func TestCreateOrderUnknownCategory(t *testing.T) {
	r, _ := setupRouter()
	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder", map[string]string{
		"category":    "nonsense",
		"description": "desc",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetOrderAccess(t *testing.T) {
	r, _ := setupRouter()
	orderID := createOrder(t, r)

	if resp := doRequest(r, ownerClaims, http.MethodGet, "/workorder/"+orderID, nil); resp.Code != http.StatusOK {
		t.Fatalf("owner get: expected 200, got %d", resp.Code)
	}
	stranger := user.Claims{UserID: "u2"}
	if resp := doRequest(r, stranger, http.MethodGet, "/workorder/"+orderID, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("stranger get: expected 403, got %d", resp.Code)
	}
	if resp := doRequest(r, ownerClaims, http.MethodGet, "/workorder/missing", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("missing get: expected 404, got %d", resp.Code)
	}
}

func TestListOrders(t *testing.T) {
	r, _ := setupRouter()
	createOrder(t, r)
	createOrder(t, r)

	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder/list", map[string]any{
		"page":     1,
		"pageSize": 10,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		TotalCount int               `json:"totalCount"`
		Orders     []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}
	if out.TotalCount != 2 || len(out.Orders) != 2 {
		t.Fatalf("unexpected list: total=%d len=%d", out.TotalCount, len(out.Orders))
	}
}

func TestTransitionRules(t *testing.T) {
	r, _ := setupRouter()
	orderID := createOrder(t, r)

	// A user cannot complete their own order.
	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder/"+orderID+"/status", map[string]string{"status": "completed"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	// An agent can.
	resp = doRequest(r, agentClaims, http.MethodPost, "/workorder/"+orderID+"/status", map[string]string{"status": "completed"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	// Unknown status is rejected before the lifecycle check.
	resp = doRequest(r, agentClaims, http.MethodPost, "/workorder/"+orderID+"/status", map[string]string{"status": "archived"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}

func TestDeleteOrder(t *testing.T) {
	r, svc := setupRouter()
	orderID := createOrder(t, r)

	resp := doRequest(r, ownerClaims, http.MethodDelete, "/workorder/"+orderID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	got, err := svc.Get(context.Background(), agentClaims, orderID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Status != "deleted" || got.DeletedBy != ownerClaims.UserID {
		t.Fatalf("deletion not recorded: %+v", got)
	}
}

func TestRecallValidation(t *testing.T) {
	r, _ := setupRouter()
	orderID := createOrder(t, r)

	// Missing index.
	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder/"+orderID+"/recall", map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing index, got %d", resp.Code)
	}

	// Out of range index on an empty dialog.
	resp = doRequest(r, ownerClaims, http.MethodPost, "/workorder/"+orderID+"/recall", map[string]any{"index": 0})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for out-of-range index, got %d", resp.Code)
	}
}

func TestRequestManualEndpoint(t *testing.T) {
	r, _ := setupRouter()
	orderID := createOrder(t, r)

	resp := doRequest(r, ownerClaims, http.MethodPost, "/workorder/"+orderID+"/manual", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Switched bool `json:"switched"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !out.Switched {
		t.Fatal("expected switch to manual handling")
	}
}

func TestCatalogEndpoint(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, ownerClaims, http.MethodGet, "/catalog", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out config.Catalog
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal catalog: %v", err)
	}
	if len(out.Categories) == 0 || len(out.Tiers) == 0 {
		t.Fatalf("catalog empty: %+v", out)
	}
}
