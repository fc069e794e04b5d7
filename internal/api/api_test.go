package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fraudlab/harrier/internal/bus"
	"github.com/fraudlab/harrier/internal/cache"
	"github.com/fraudlab/harrier/internal/domain"
	"github.com/fraudlab/harrier/internal/repository"
	"github.com/fraudlab/harrier/internal/scoring"
)

const testTenant = "tenant-a"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(1000)
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	engine, err := scoring.NewEngine(scoring.DefaultConfig(), 8)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return NewServer(domain.ServerConfig{}, repo, c, b, engine, "test")
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func scoreRequest() map[string]any {
	return map[string]any{
		"transaction_id": "TX001",
		"user_id":        "USER001",
		"amount":         15000,
		"merchant":       "Test Merchant",
		"location":       "New York, NY",
		"timestamp":      "2024-01-01T10:00:00",
		"card_last4":     "1234",
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant header, got %d", rec.Code)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/score", scoreRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res domain.DetectionResult
	decodeBody(t, rec, &res)

	if res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected CRITICAL, got %s", res.RiskLevel)
	}
	if !res.IsFraudulent {
		t.Error("expected is_fraudulent = true")
	}
	if res.ID == "" {
		t.Error("expected a result ID")
	}
	if res.EvaluatedAt.IsZero() {
		t.Error("expected EvaluatedAt to be stamped")
	}
	if res.Transaction.TransactionID != "TX001" {
		t.Errorf("expected TX001, got %s", res.Transaction.TransactionID)
	}
}

func TestScoreValidationError(t *testing.T) {
	srv := newTestServer(t)

	body := scoreRequest()
	body["amount"] = "not-a-number"

	rec := doRequest(t, srv, http.MethodPost, "/score", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var errResp struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	decodeBody(t, rec, &errResp)

	if errResp.Field != "amount" {
		t.Errorf("error must name the amount field, got %q", errResp.Field)
	}
	if errResp.Error == "" {
		t.Error("error message must not be empty")
	}
}

func TestScoreMissingField(t *testing.T) {
	srv := newTestServer(t)

	body := scoreRequest()
	delete(body, "user_id")

	rec := doRequest(t, srv, http.MethodPost, "/score", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var errResp struct {
		Field string `json:"field"`
	}
	decodeBody(t, rec, &errResp)
	if errResp.Field != "user_id" {
		t.Errorf("error must name user_id, got %q", errResp.Field)
	}
}

func TestScoreInvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{not json"))
	req.Header.Set(TenantIDHeader, testTenant)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestScoreBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)

	bad := scoreRequest()
	delete(bad, "user_id")

	clean := scoreRequest()
	clean["transaction_id"] = "TX003"
	clean["amount"] = 500

	body := map[string]any{
		"records": []map[string]any{scoreRequest(), bad, clean},
	}

	rec := doRequest(t, srv, http.MethodPost, "/score/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp BatchResponse
	decodeBody(t, rec, &resp)

	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entries))
	}
	if resp.Scored != 2 || resp.Rejected != 1 {
		t.Errorf("expected 2 scored / 1 rejected, got %d / %d", resp.Scored, resp.Rejected)
	}

	// Entries keep request order: valid, invalid, valid.
	if resp.Entries[0].Result == nil || resp.Entries[0].Result.Transaction.TransactionID != "TX001" {
		t.Errorf("entry 0 should hold the TX001 result: %+v", resp.Entries[0])
	}
	if resp.Entries[1].Error == nil || resp.Entries[1].Error.Field != "user_id" {
		t.Errorf("entry 1 should hold the user_id error: %+v", resp.Entries[1])
	}
	if resp.Entries[2].Result == nil || resp.Entries[2].Result.Transaction.TransactionID != "TX003" {
		t.Errorf("entry 2 should hold the TX003 result: %+v", resp.Entries[2])
	}

	if resp.Summary.Total != 2 || resp.Summary.Critical != 1 || resp.Summary.Low != 1 {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}
}

func TestScoreBatchEmptyRecords(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/score/batch", map[string]any{"records": []map[string]any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestGetResultRoundtrip(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/score", scoreRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("score failed: %d", rec.Code)
	}

	var scored domain.DetectionResult
	decodeBody(t, rec, &scored)

	rec = doRequest(t, srv, http.MethodGet, "/results/"+scored.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got domain.DetectionResult
	decodeBody(t, rec, &got)

	if got.ID != scored.ID {
		t.Errorf("expected result %s, got %s", scored.ID, got.ID)
	}
	if got.RiskLevel != scored.RiskLevel {
		t.Errorf("risk level mismatch: %s vs %s", got.RiskLevel, scored.RiskLevel)
	}
}

func TestGetResultNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/results/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetTransaction(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/score", scoreRequest())

	rec := doRequest(t, srv, http.MethodGet, "/transactions/TX001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var txn domain.Transaction
	decodeBody(t, rec, &txn)
	if txn.TransactionID != "TX001" || txn.Amount != 15000 {
		t.Errorf("unexpected transaction: %+v", txn)
	}
}

func TestListUserResults(t *testing.T) {
	srv := newTestServer(t)

	for _, id := range []string{"TX001", "TX002"} {
		body := scoreRequest()
		body["transaction_id"] = id
		doRequest(t, srv, http.MethodPost, "/score", body)
	}

	rec := doRequest(t, srv, http.MethodGet, "/users/USER001/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Results []domain.DetectionResult `json:"results"`
		Count   int                      `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 || len(resp.Results) != 2 {
		t.Errorf("expected 2 results, got count=%d len=%d", resp.Count, len(resp.Results))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// No tenant header: health is public.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("expected version test, got %q", resp["version"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func ruleRequest() map[string]any {
	return map[string]any{
		"id":         "high-velocity-card",
		"name":       "High velocity card",
		"expression": `amount > 2000.0 && card_last4 == "9999"`,
		"points":     35.0,
		"reason":     "Large spend on a watched card",
		"enabled":    true,
	}
}

func TestCreateAndReloadRule(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/rules", ruleRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}

	var resp struct {
		Rules []domain.CustomRule `json:"rules"`
		Count int                 `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || resp.Rules[0].ID != "high-velocity-card" {
		t.Errorf("expected the created rule to be loaded, got %+v", resp)
	}

	// The loaded rule now participates in scoring.
	body := scoreRequest()
	body["amount"] = 2500
	body["card_last4"] = "9999"

	rec = doRequest(t, srv, http.MethodPost, "/score", body)
	var res domain.DetectionResult
	decodeBody(t, rec, &res)

	// 30 from the amount tier plus 35 from the custom rule
	if res.RiskScore != 65 {
		t.Errorf("expected score 65, got %.1f", res.RiskScore)
	}
}

func TestCreateRuleInvalidExpression(t *testing.T) {
	srv := newTestServer(t)

	body := ruleRequest()
	body["expression"] = "amount >>>"

	rec := doRequest(t, srv, http.MethodPost, "/rules", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid CEL, got %d", rec.Code)
	}
}

func TestCreateRuleRequiresReason(t *testing.T) {
	srv := newTestServer(t)

	body := ruleRequest()
	body["reason"] = ""

	rec := doRequest(t, srv, http.MethodPost, "/rules", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing reason, got %d", rec.Code)
	}
}

func TestCreateRuleRequiresPositivePoints(t *testing.T) {
	srv := newTestServer(t)

	body := ruleRequest()
	body["points"] = 0

	rec := doRequest(t, srv, http.MethodPost, "/rules", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-positive points, got %d", rec.Code)
	}
}

func TestGetRule(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/rules", ruleRequest())
	doRequest(t, srv, http.MethodPost, "/rules/reload", nil)

	rec := doRequest(t, srv, http.MethodGet, "/rules/high-velocity-card", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/rules/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown rule, got %d", rec.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/rules", ruleRequest())
	doRequest(t, srv, http.MethodPost, "/rules/reload", nil)

	rec := doRequest(t, srv, http.MethodDelete, "/rules/high-velocity-card", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Delete auto-reloads, so the rule is gone from the engine too.
	rec = doRequest(t, srv, http.MethodGet, "/rules", nil)
	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 0 {
		t.Errorf("expected 0 rules after delete, got %d", resp.Count)
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodDelete, "/rules/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
