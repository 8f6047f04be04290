package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/reports"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
)

// Synthesizer runs one research pass.
type Synthesizer interface {
	SynthesizeWithRetry(ctx context.Context, req synthesis.Request) (*synthesis.EnhancedResponse, error)
}

// ReportStore persists reports and credits.
type ReportStore interface {
	Credits(ctx context.Context, userID string) (int, error)
	ChargeReport(ctx context.Context, r *reports.Report) (int, error)
	GetReport(ctx context.Context, id string) (*reports.Report, error)
	ListReports(ctx context.Context, userID string, limit int) ([]*reports.Report, error)
	UsageStats(ctx context.Context, userID string) (*reports.UsageStats, error)
}

// ResearchHandler serves the research API. store may be nil, in which case
// answers are returned but never stored or charged.
type ResearchHandler struct {
	synth   Synthesizer
	store   ReportStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewResearchHandler(synth Synthesizer, store ReportStore, timeout time.Duration, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 150 * time.Second
	}
	return &ResearchHandler{synth: synth, store: store, timeout: timeout, logger: logger}
}

func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/research", instrument("research", h.logger, h.handleResearch))
	mux.Handle("GET /v1/reports/{id}", instrument("report", h.logger, h.handleGetReport))
	mux.Handle("GET /v1/users/{id}/reports", instrument("user_reports", h.logger, h.handleListReports))
	mux.Handle("GET /v1/users/{id}/credits", instrument("credits", h.logger, h.handleCredits))
	mux.Handle("GET /v1/users/{id}/usage", instrument("usage", h.logger, h.handleUsage))
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
}

type researchRequest struct {
	Query       string `json:"query"`
	UserID      string `json:"user_id,omitempty"`
	MaxInsights int    `json:"max_insights,omitempty"`
}

type researchResponse struct {
	ReportID         string `json:"report_id,omitempty"`
	CreditsRemaining *int   `json:"credits_remaining,omitempty"`
	*synthesis.EnhancedResponse
}

// handleResearch: POST /v1/research {"query","user_id","max_insights"}
func (h *ResearchHandler) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	charge := req.UserID != "" && h.store != nil
	if charge {
		credits, err := h.store.Credits(ctx, req.UserID)
		if err != nil {
			h.logger.Error("Credit lookup failed", zap.String("user_id", req.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "credit lookup failed")
			return
		}
		if credits < reports.ReportCost {
			h.refuse(w, req.UserID)
			return
		}
	}

	resp, err := h.synth.SynthesizeWithRetry(ctx, synthesis.Request{Query: req.Query, MaxInsights: req.MaxInsights})
	if err != nil {
		status, msg := synthesisStatus(err)
		h.logger.Error("Research request failed",
			zap.String("user_id", req.UserID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}

	out := researchResponse{EnhancedResponse: resp}
	if charge {
		report := reports.NewReport(req.UserID, resp)
		remaining, err := h.store.ChargeReport(ctx, report)
		if errors.Is(err, reports.ErrInsufficientCredits) {
			h.refuse(w, req.UserID)
			return
		}
		if err != nil {
			h.logger.Error("Failed to store report", zap.String("user_id", req.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store report")
			return
		}
		ometrics.CreditsCharged.Add(reports.ReportCost)
		out.ReportID = report.ID
		out.CreditsRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ResearchHandler) refuse(w http.ResponseWriter, userID string) {
	ometrics.CreditsRefused.Inc()
	h.logger.Info("Research refused, no credits left", zap.String("user_id", userID))
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":             reports.ErrInsufficientCredits.Error(),
		"credits_remaining": 0,
	})
}

func synthesisStatus(err error) (int, string) {
	switch {
	case errors.Is(err, synthesis.ErrEmptyQuery):
		return http.StatusBadRequest, "query is required"
	case errors.Is(err, synthesis.ErrGenerationFailure):
		return http.StatusBadGateway, "answer generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "research timed out"
	default:
		return http.StatusInternalServerError, "research failed"
	}
}

// handleGetReport: GET /v1/reports/{id}
func (h *ResearchHandler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "report storage is not configured")
		return
	}
	report, err := h.store.GetReport(r.Context(), r.PathValue("id"))
	if errors.Is(err, reports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("Report lookup failed", zap.String("report_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListReports: GET /v1/users/{id}/reports?limit=
func (h *ResearchHandler) handleListReports(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reports": []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.store.ListReports(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.logger.Error("Report listing failed", zap.String("user_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report listing failed")
		return
	}
	if list == nil {
		list = []*reports.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

// handleCredits: GET /v1/users/{id}/credits
func (h *ResearchHandler) handleCredits(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "credit ledger is not configured")
		return
	}
	userID := r.PathValue("id")
	credits, err := h.store.Credits(r.Context(), userID)
	if err != nil {
		h.logger.Error("Credit lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "credit lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "credits_remaining": credits})
}

// handleUsage: GET /v1/users/{id}/usage
func (h *ResearchHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "credit ledger is not configured")
		return
	}
	userID := r.PathValue("id")
	stats, err := h.store.UsageStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("Usage lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *ResearchHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings the store when it supports it.
func (h *ResearchHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
