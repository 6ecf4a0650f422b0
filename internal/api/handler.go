package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vocilia/verify/internal/cycle"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/verifydb"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	orch      *cycle.Orchestrator
	databases *verifydb.Manager
	detector  *keywords.Detector
	screener  *screening.Engine
	version   string

	// asyncSubmit routes submissions through the EventBus instead of
	// processing them inline (Pro tier).
	asyncSubmit bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orch *cycle.Orchestrator, databases *verifydb.Manager, detector *keywords.Detector, screener *screening.Engine, version string, asyncSubmit bool) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		orch:        orch,
		databases:   databases,
		detector:    detector,
		screener:    screener,
		version:     version,
		asyncSubmit: asyncSubmit && bus != nil,
	}
}

// OpenCycleRequest is the request body for POST /cycles.
type OpenCycleRequest struct {
	WeekID   string             `json:"weekId"`
	Deadline time.Time          `json:"deadline"`
	Stores   []cycle.StoreBatch `json:"stores"`
}

// OpenCycleResponse is the response for POST /cycles.
type OpenCycleResponse struct {
	Cycle    *domain.VerificationCycle `json:"cycle"`
	Failures []domain.StoreFailure     `json:"failures,omitempty"`
}

// OpenCycle handles POST /cycles requests.
func (h *Handler) OpenCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	var req OpenCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.WeekID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weekId is required",
		})
		return
	}
	if req.Deadline.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "deadline is required",
		})
		return
	}

	c, failures, err := h.orch.OpenCycle(ctx, businessID, req.WeekID, req.Deadline, req.Stores)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, OpenCycleResponse{Cycle: c, Failures: failures})
}

// GetCycle retrieves a cycle by ID, or by week via ?week=YYYY-Www on the
// collection route.
func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	cycleID := chi.URLParam(r, "id")

	c, err := h.repo.GetCycle(ctx, businessID, cycleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// GetCycleByWeek handles GET /cycles?week=YYYY-Www.
func (h *Handler) GetCycleByWeek(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	weekID := r.URL.Query().Get("week")

	if weekID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "week query parameter is required",
		})
		return
	}

	c, err := h.repo.GetCycleByWeek(ctx, businessID, weekID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// CancelCycle handles POST /cycles/{id}/cancel.
func (h *Handler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	cycleID := chi.URLParam(r, "id")

	if err := h.orch.CancelCycle(ctx, businessID, cycleID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(domain.CycleStatusCancelled),
	})
}

// GetCycleInvoice handles GET /cycles/{id}/invoice.
func (h *Handler) GetCycleInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	cycleID := chi.URLParam(r, "id")

	inv, err := h.repo.GetInvoiceByCycle(ctx, businessID, cycleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// ListCycleDatabases handles GET /cycles/{id}/databases.
func (h *Handler) ListCycleDatabases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	cycleID := chi.URLParam(r, "id")

	dbs, err := h.databases.ListByCycle(ctx, businessID, cycleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"databases": dbs,
		"count":     len(dbs),
	})
}

// GetDatabase retrieves a verification database by ID.
func (h *Handler) GetDatabase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	dbID := chi.URLParam(r, "id")

	db, err := h.databases.Get(ctx, businessID, dbID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, db)
}

// MarkReadyRequest is the request body for POST /databases/{id}/ready.
type MarkReadyRequest struct {
	CSVURL   string `json:"csvUrl"`
	ExcelURL string `json:"excelUrl"`
}

// MarkDatabaseReady handles POST /databases/{id}/ready.
func (h *Handler) MarkDatabaseReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	dbID := chi.URLParam(r, "id")

	var req MarkReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.orch.MarkDatabaseReady(ctx, businessID, dbID, req.CSVURL, req.ExcelURL); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(domain.DatabaseStatusReady),
	})
}

// MarkDatabaseDownloaded handles POST /databases/{id}/download.
func (h *Handler) MarkDatabaseDownloaded(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	dbID := chi.URLParam(r, "id")

	if err := h.orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(domain.DatabaseStatusDownloaded),
	})
}

// SubmitRequest is the request body for POST /databases/{id}/submit.
type SubmitRequest struct {
	Decisions []domain.VerificationDecision `json:"decisions"`
}

// submitMessage is the async submission payload. Its JSON shape matches the
// worker's SubmissionMessage.
type submitMessage struct {
	DatabaseID string                        `json:"databaseId"`
	BusinessID string                        `json:"businessId"`
	Decisions  []domain.VerificationDecision `json:"decisions"`
}

// SubmitDatabase handles POST /databases/{id}/submit. Community tier
// processes the submission inline; Pro tier hands it to the async worker and
// returns 202.
func (h *Handler) SubmitDatabase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	dbID := chi.URLParam(r, "id")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Decisions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one decision is required",
		})
		return
	}

	if h.asyncSubmit {
		// The database must exist and belong to this business before we
		// accept the submission.
		if _, err := h.databases.Get(ctx, businessID, dbID); err != nil {
			writeError(w, err)
			return
		}

		payload, _ := json.Marshal(submitMessage{
			DatabaseID: dbID,
			BusinessID: businessID,
			Decisions:  req.Decisions,
		})
		if err := h.bus.Publish(ctx, businessID, domain.TopicDatabaseSubmitted, payload); err != nil {
			slog.Error("failed to queue submission",
				"database_id", dbID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue submission",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
		})
		return
	}

	if err := h.orch.ProcessSubmission(ctx, businessID, dbID, req.Decisions); err != nil {
		writeError(w, err)
		return
	}

	db, err := h.databases.Get(ctx, businessID, dbID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, db)
}

// DatabaseSummary handles GET /databases/summary.
func (h *Handler) DatabaseSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	summary, err := h.databases.Summary(ctx, businessID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, businessID, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListDatabaseTransactions handles GET /databases/{id}/transactions. It is
// the API view of the export a business downloads before verification.
func (h *Handler) ListDatabaseTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	dbID := chi.URLParam(r, "id")

	if _, err := h.databases.Get(ctx, businessID, dbID); err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListKeywords handles GET /keywords. Filters: ?language=sv&active=true.
func (h *Handler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)
	language := r.URL.Query().Get("language")
	activeOnly := r.URL.Query().Get("active") == "true"

	kws, err := h.repo.ListKeywords(ctx, businessID, language, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"keywords": kws,
		"count":    len(kws),
	})
}

// CreateKeywordRequest is the request body for POST /keywords.
type CreateKeywordRequest struct {
	ID       string                 `json:"id,omitempty"`
	Keyword  string                 `json:"keyword"`
	Category domain.KeywordCategory `json:"category"`
	Severity int                    `json:"severity"`
	Language string                 `json:"language"`
	Active   bool                   `json:"active"`
}

// CreateKeyword creates or updates a red-flag keyword and invalidates the
// detector's cached set for its language.
func (h *Handler) CreateKeyword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	var req CreateKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Keyword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "keyword is required",
		})
		return
	}
	if !req.Category.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "category must be one of profanity, threats, nonsensical, impossible",
		})
		return
	}
	if req.Severity < 1 || req.Severity > 10 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be between 1 and 10",
		})
		return
	}
	if req.Language == "" {
		req.Language = "sv"
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	kw := &domain.RedFlagKeyword{
		ID:         req.ID,
		BusinessID: businessID,
		Keyword:    req.Keyword,
		Category:   req.Category,
		Severity:   req.Severity,
		Language:   req.Language,
		Active:     req.Active,
	}

	if err := h.repo.SaveKeyword(ctx, businessID, kw); err != nil {
		writeError(w, err)
		return
	}

	if h.detector != nil {
		h.detector.Invalidate(ctx, businessID, kw.Language)
	}

	slog.Info("keyword saved",
		"business_id", businessID,
		"keyword_id", kw.ID,
		"language", kw.Language,
	)
	writeJSON(w, http.StatusCreated, kw)
}

// ListScreeningRules handles GET /screening-rules.
func (h *Handler) ListScreeningRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	rules, err := h.repo.ListScreeningRules(ctx, businessID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateScreeningRuleRequest is the request body for POST /screening-rules.
type CreateScreeningRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// CreateScreeningRule validates, persists, and hot-reloads a screening rule.
func (h *Handler) CreateScreeningRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	var req CreateScreeningRuleRequest
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

	rule := &domain.ScreeningRule{
		ID:          req.ID,
		BusinessID:  businessID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if h.screener != nil {
		if err := h.screener.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveScreeningRule(ctx, businessID, rule); err != nil {
		writeError(w, err)
		return
	}

	// Drop the compiled set so the next evaluation reloads from the database.
	if h.screener != nil {
		h.screener.Invalidate(businessID)
	}

	slog.Info("screening rule saved",
		"business_id", businessID,
		"rule_id", rule.ID,
	)
	writeJSON(w, http.StatusCreated, rule)
}

// ListReviews handles GET /reviews.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID := GetBusinessID(ctx)

	items, err := h.repo.ListOpenReviewItems(ctx, businessID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": items,
		"count":   len(items),
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

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidScoreRange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrCountMismatch):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExternalDependency):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
