package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraudlab/harrier/internal/domain"
	"github.com/fraudlab/harrier/internal/repository"
	"github.com/fraudlab/harrier/internal/scoring"
	"github.com/fraudlab/harrier/internal/validate"
)

// resultCacheTTL bounds how long a detection result stays cached on the
// read path.
const resultCacheTTL = 10 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *scoring.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *scoring.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		version: version,
	}
}

// FieldError reports a per-record validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Score handles POST /score: validate one raw record, score it, persist the
// outcome, and return the detection result.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	raw, err := decodeRecord(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	txn, err := validate.Parse(raw)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	result := h.engine.Score(*txn)
	result.ID = uuid.New().String()
	result.EvaluatedAt = time.Now().UTC()

	h.persistResult(r, tenantID, txn, &result)

	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /score/batch.
type BatchRequest struct {
	Records []map[string]any `json:"records"`
}

// BatchEntry is the per-record outcome in a batch response. Exactly one of
// Result and Error is set; Index refers back to the request's records array.
type BatchEntry struct {
	Index  int                     `json:"index"`
	Result *domain.DetectionResult `json:"result,omitempty"`
	Error  *FieldError             `json:"error,omitempty"`
}

// BatchResponse is the response for POST /score/batch.
type BatchResponse struct {
	Entries  []BatchEntry   `json:"entries"`
	Scored   int            `json:"scored"`
	Rejected int            `json:"rejected"`
	Summary  domain.Summary `json:"summary"`
}

// ScoreBatch handles POST /score/batch: each record is validated
// independently, valid transactions are scored concurrently, and every
// record yields exactly one entry in request order.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records is required and must be non-empty",
		})
		return
	}

	raws := make([]domain.RawRecord, len(req.Records))
	for i, rec := range req.Records {
		raws[i] = validate.FromAny(rec)
	}

	outcomes := validate.ParseBatch(raws)

	var txns []domain.Transaction
	var txnIndexes []int
	for _, out := range outcomes {
		if out.Err == nil {
			txns = append(txns, *out.Transaction)
			txnIndexes = append(txnIndexes, out.Index)
		}
	}

	results := h.engine.ScoreBatch(ctx, txns)

	entries := make([]BatchEntry, len(outcomes))
	for _, out := range outcomes {
		entries[out.Index] = BatchEntry{Index: out.Index}
		if out.Err != nil {
			entries[out.Index].Error = toFieldError(out.Err)
		}
	}

	for i := range results {
		results[i].ID = uuid.New().String()
		results[i].EvaluatedAt = time.Now().UTC()

		txn := results[i].Transaction
		h.persistResult(r, tenantID, &txn, &results[i])

		entries[txnIndexes[i]].Result = &results[i]
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Entries:  entries,
		Scored:   len(results),
		Rejected: len(outcomes) - len(results),
		Summary:  scoring.Summarize(results),
	})
}

// persistResult saves the transaction and result, fills the cache, and
// publishes a fraud alert when flagged. Persistence failures are logged,
// not fatal: the scoring verdict is still returned to the caller.
func (h *Handler) persistResult(r *http.Request, tenantID string, txn *domain.Transaction, result *domain.DetectionResult) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, txn); err != nil {
			slog.Error("failed to save transaction", "tx_id", txn.TransactionID, "error", err)
		}
		if err := h.repo.SaveResult(ctx, tenantID, result); err != nil {
			slog.Error("failed to save result", "tx_id", txn.TransactionID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, tenantID, result, resultCacheTTL); err != nil {
			slog.Error("failed to cache result", "result_id", result.ID, "error", err)
		}
	}

	if h.bus != nil && result.IsFraudulent {
		payload, _ := json.Marshal(result)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicFraudAlert, payload); err != nil {
			slog.Error("failed to publish fraud alert", "tx_id", txn.TransactionID, "error", err)
		}
	}
}

// GetResult retrieves a detection result by ID, cache first.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	resultID := chi.URLParam(r, "id")

	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "result id is required",
		})
		return
	}

	if h.cache != nil {
		if res, err := h.cache.GetResult(ctx, tenantID, resultID); err == nil && res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	res, err := h.repo.GetResult(ctx, tenantID, resultID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get result", "id", resultID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "result not found",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, tenantID, res, resultCacheTTL); err != nil {
			slog.Error("failed to cache result", "result_id", res.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListUserResults retrieves recent detection results for a user.
func (h *Handler) ListUserResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	results, err := h.repo.ListResultsByUser(ctx, tenantID, userID, 100)
	if err != nil {
		slog.Error("failed to list results", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list results",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// ListRules returns all loaded custom rules from the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a custom rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Points      float64 `json:"points"`
	Reason      string  `json:"reason"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Points <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "points must be positive",
		})
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reason is required so scoring stays explainable",
		})
		return
	}

	rule := &domain.CustomRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Points:      req.Points,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before persisting.
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save custom rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule deletes a custom rule and auto-reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteCustomRule(ctx, GlobalTenantID, ruleID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				slog.Error("failed to delete custom rule", "id", ruleID, "error", err)
			}
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}

		dbRules, err := h.repo.ListCustomRules(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		} else if err := h.engine.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		} else {
			slog.Info("rules auto-reloaded after delete", "count", len(dbRules))
		}
	}

	slog.Info("custom rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListCustomRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// decodeRecord decodes a single raw record body into a RawRecord.
func decodeRecord(r *http.Request) (domain.RawRecord, error) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return validate.FromAny(body), nil
}

func toFieldError(err error) *FieldError {
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		return &FieldError{Field: verr.Field, Reason: verr.Reason}
	}
	return &FieldError{Reason: err.Error()}
}

func writeValidationError(w http.ResponseWriter, err error) {
	fe := toFieldError(err)
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": err.Error(),
		"field": fe.Field,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
