package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lapakku/backend/internal/connectivity"
	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/ledger"
	"lapakku/backend/internal/report"
	"lapakku/backend/internal/store/memory"
	appsync "lapakku/backend/internal/sync"
)

type acceptAllRemote struct{}

func (acceptAllRemote) PushChanges(_ context.Context, envelope domain.PushEnvelope) (*domain.PushResult, error) {
	result := &domain.PushResult{EnvelopeID: envelope.EnvelopeID}
	for _, entry := range envelope.Entries {
		result.Statuses = append(result.Statuses, domain.PushStatus{
			ChangeID: entry.ID,
			Status:   domain.PushAccepted,
		})
	}
	return result, nil
}

type testHarness struct {
	handler http.Handler
	token   string
	repo    *memory.Store
	ledger  *ledger.Ledger
	health  *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "strong-test-password")
	ctx := context.Background()

	repo := memory.NewSeeded()
	led := ledger.New(repo, nil)
	if err := led.Init(ctx); err != nil {
		t.Fatalf("ledger init failed: %v", err)
	}

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(health.Close)

	monitor := connectivity.New(health.URL, time.Minute, nil)
	monitor.CheckNow(ctx)

	engine, err := appsync.New(ctx, repo, led, acceptAllRemote{}, monitor, appsync.Config{}, nil)
	if err != nil {
		t.Fatalf("engine init failed: %v", err)
	}

	reporter := report.New(repo, nil, time.Second, nil)
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)
	api := New(led, engine, monitor, reporter, auth, "http://127.0.0.1:3000", nil)
	handler := api.Handler()

	harness := &testHarness{
		handler: handler,
		repo:    repo,
		ledger:  led,
		health:  health,
	}
	harness.token = harness.login(t, "owner", "strong-test-password")
	return harness
}

func (h *testHarness) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/sales", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/v1/sales", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sales", h.token, domain.SaleInput{
		ItemName:   "Soap",
		Quantity:   2,
		PriceCents: 50000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.TotalCents != 100000 {
		t.Fatalf("unexpected total: %d", created.Sale.TotalCents)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sales", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var listed struct {
		Sales []domain.Sale `json:"sales"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(listed.Sales))
	}

	// Stale version is a conflict.
	stale := created.Sale
	stale.Version = 42
	rec = h.do(t, http.MethodPatch, "/api/v1/sales/"+created.Sale.ID, h.token, stale)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d: %s", rec.Code, rec.Body.String())
	}

	fresh := created.Sale
	fresh.Quantity = 5
	rec = h.do(t, http.MethodPatch, "/api/v1/sales/"+created.Sale.ID, h.token, fresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &updated)
	if updated.Sale.Version != 2 || updated.Sale.TotalCents != 250000 {
		t.Fatalf("unexpected update result: %+v", updated.Sale)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/v1/sales", h.token, nil)
	decodeBody(t, rec, &listed)
	if len(listed.Sales) != 0 {
		t.Fatalf("tombstoned sale must not list, got %d", len(listed.Sales))
	}

	rec = h.do(t, http.MethodPatch, "/api/v1/sales/does-not-exist", h.token, domain.Sale{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestDebtFlowOverHTTP(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/customers", h.token, domain.CustomerInput{Name: "Amina"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer status %d: %s", rec.Code, rec.Body.String())
	}
	var createdCustomer struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, rec, &createdCustomer)

	rec = h.do(t, http.MethodPost, "/api/v1/debts", h.token, domain.DebtInput{
		CustomerID:  createdCustomer.Customer.ID,
		Type:        domain.DebtTypeCredit,
		AmountCents: 5000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create debt status %d: %s", rec.Code, rec.Body.String())
	}
	var createdDebt struct {
		Debt domain.DebtRecord `json:"debt"`
	}
	decodeBody(t, rec, &createdDebt)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%s/debts", createdCustomer.Customer.ID), h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("customer debts status %d", rec.Code)
	}
	var debtsResp struct {
		Debts        []domain.DebtRecord `json:"debts"`
		BalanceCents int64               `json:"balance_cents"`
	}
	decodeBody(t, rec, &debtsResp)
	if debtsResp.BalanceCents != 5000 || len(debtsResp.Debts) != 1 {
		t.Fatalf("unexpected debts response: %+v", debtsResp)
	}

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/debts/%s/pay", createdDebt.Debt.ID), h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pay status %d: %s", rec.Code, rec.Body.String())
	}
	var paid struct {
		Debt domain.DebtRecord `json:"debt"`
	}
	decodeBody(t, rec, &paid)
	if !paid.Debt.Paid {
		t.Fatalf("expected paid debt, got %+v", paid.Debt)
	}

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%s/debts", createdCustomer.Customer.ID), h.token, nil)
	decodeBody(t, rec, &debtsResp)
	if debtsResp.BalanceCents != 0 {
		t.Fatalf("expected balance 0 after settling, got %d", debtsResp.BalanceCents)
	}
}

func TestSyncStatusAndManualPush(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sales", h.token, domain.SaleInput{ItemName: "Soap", Quantity: 1, PriceCents: 50000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sync/status", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var status domain.SyncStatus
	decodeBody(t, rec, &status)
	if !status.Online || status.DeviceID == "" {
		t.Fatalf("unexpected sync status: %+v", status)
	}
	// The sale plus its inventory decrement are both pending.
	if status.PendingTotal != 2 {
		t.Fatalf("expected 2 pending, got %d", status.PendingTotal)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/sync/now", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync now status %d: %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		Accepted int `json:"accepted"`
	}
	decodeBody(t, rec, &summary)
	if summary.Accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", summary.Accepted)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/sync/status", h.token, nil)
	decodeBody(t, rec, &status)
	if status.PendingTotal != 0 || status.LastSyncedAt == nil {
		t.Fatalf("unexpected status after push: %+v", status)
	}
}

func TestSyncNowConflictsWhileOffline(t *testing.T) {
	h := newTestHarness(t)

	// Kill the health endpoint so the pre-push probe flips offline.
	h.health.Close()

	rec := h.do(t, http.MethodPost, "/api/v1/sync/now", h.token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while offline, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProfileEndpointsRequireOwnerRole(t *testing.T) {
	h := newTestHarness(t)

	hash, err := HashPassword("staff-password")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := h.repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "clerk",
		Password:  hash,
		Role:      "staff",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	staffToken := h.login(t, "clerk", "staff-password")

	rec := h.do(t, http.MethodGet, "/api/v1/profile", staffToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/profile", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner profile status %d", rec.Code)
	}
	var profileResp struct {
		Profile domain.Profile `json:"profile"`
	}
	decodeBody(t, rec, &profileResp)
	if profileResp.Profile.ShopName != "My Shop" {
		t.Fatalf("unexpected default profile: %+v", profileResp.Profile)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/profile/language", h.token, map[string]string{"language": "sw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("language status %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &profileResp)
	if profileResp.Profile.Language != "sw" {
		t.Fatalf("expected language sw, got %s", profileResp.Profile.Language)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/profile/theme", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("theme status %d", rec.Code)
	}
	decodeBody(t, rec, &profileResp)
	if profileResp.Profile.Theme != domain.ThemeDark {
		t.Fatalf("expected dark theme, got %s", profileResp.Profile.Theme)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/profile/currency", h.token, map[string]string{"currency": "kes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("currency status %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &profileResp)
	if profileResp.Profile.Currency != "KES" {
		t.Fatalf("expected currency KES, got %s", profileResp.Profile.Currency)
	}
}

func TestDailyReportOverHTTP(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sales", h.token, domain.SaleInput{ItemName: "Soap", Quantity: 2, PriceCents: 50000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/v1/expenses", h.token, domain.ExpenseInput{Category: "transport", AmountCents: 30000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expense status %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/reports/daily", h.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status %d: %s", rec.Code, rec.Body.String())
	}
	var summary domain.DailySummary
	decodeBody(t, rec, &summary)
	if summary.SalesCents != 100000 || summary.ExpenseCents != 30000 || summary.ProfitCents != 70000 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/reports/daily?date=bogus", h.token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/sales", h.token, map[string]any{
		"item_name":   "Soap",
		"quantity":    1,
		"price_cents": 100,
		"surprise":    true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodDelete, "/api/v1/sales", h.token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/healthz", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 on healthz POST, got %d", rec.Code)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
