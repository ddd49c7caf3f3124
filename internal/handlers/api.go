// Package handlers implements the HTTP API: statement upload, reprocess,
// rule management and job diagnostics.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/importer"
	"github.com/rumor-ml/bankfeed/internal/ingest"
	"github.com/rumor-ml/bankfeed/internal/middleware"
	"github.com/rumor-ml/bankfeed/internal/rules"
	"github.com/rumor-ml/bankfeed/internal/store"
)

// maxUploadBytes bounds a single statement upload
const maxUploadBytes = 32 << 20

// APIHandler handles API requests
type APIHandler struct {
	store    *store.Store
	queue    *ingest.Queue
	registry *importer.Registry
	engine   *rules.Engine
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(st *store.Store, queue *ingest.Queue, registry *importer.Registry, engine *rules.Engine) *APIHandler {
	return &APIHandler{
		store:    st,
		queue:    queue,
		registry: registry,
		engine:   engine,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "bankfeed"})
}

// Import handles POST /api/accounts/{id}/import. The upload is read
// fully before the request returns; parsing happens on the worker pool.
func (h *APIHandler) Import(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	account, ok := h.ownedAccount(w, r, accountID)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), &ingest.Job{
		AccountID: account.ID,
		UserID:    account.UserID,
		Filename:  header.Filename,
		Data:      data,
	})
	if err != nil {
		log.Printf("ERROR: Failed to enqueue import for account %s: %v", account.ID, err)
		http.Error(w, "Failed to enqueue import", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// Reprocess handles POST /api/accounts/{id}/reprocess. Runs
// synchronously; the caller gets the number of newly tagged
// transactions.
func (h *APIHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	tagged, err := h.registry.Reprocess(r.Context(), h.store, h.engine, accountID)
	switch {
	case errors.Is(err, importer.ErrNotSupported), errors.Is(err, importer.ErrUnknownImporterType):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		log.Printf("ERROR: Failed to reprocess account %s: %v", accountID, err)
		http.Error(w, "Failed to reprocess", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"tagged": tagged})
}

// Unprocessed handles GET /api/accounts/{id}/unprocessed
func (h *APIHandler) Unprocessed(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	count, err := h.store.UnprocessedCount(r.Context(), accountID)
	if err != nil {
		log.Printf("ERROR: Failed to count unprocessed rows for account %s: %v", accountID, err)
		http.Error(w, "Failed to count unprocessed rows", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// JobStatus handles GET /api/jobs/{id}. A job owned by another user
// reads as missing.
func (h *APIHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Job(r.PathValue("id"))
	userID, _ := middleware.GetUserID(r.Context())
	if err != nil || job.UserID != userID {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// ruleRequest is the JSON body for rule create and update
type ruleRequest struct {
	Contains    string   `json:"contains"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// ruleResponse is the JSON shape of a rule
type ruleResponse struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"accountId"`
	Contains    string   `json:"contains"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// CreateRule handles POST /api/accounts/{id}/rules
func (h *APIHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	rule, err := domain.NewRule(uuid.NewString(), accountID, req.Contains, req.Tags)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid rule: %v", err), http.StatusBadRequest)
		return
	}
	rule.Description = req.Description

	if err := h.store.SaveRule(r.Context(), rule); err != nil {
		log.Printf("ERROR: Failed to save rule for account %s: %v", accountID, err)
		http.Error(w, "Failed to save rule", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// UpdateRule handles PUT /api/accounts/{id}/rules/{ruleID}
func (h *APIHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	ruleID := r.PathValue("ruleID")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	existing, err := h.store.GetRule(r.Context(), ruleID)
	if err != nil {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	}
	if existing.AccountID != accountID {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	rule, err := domain.NewRule(ruleID, accountID, req.Contains, req.Tags)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid rule: %v", err), http.StatusBadRequest)
		return
	}
	rule.Description = req.Description

	if err := h.store.SaveRule(r.Context(), rule); err != nil {
		log.Printf("ERROR: Failed to update rule %s: %v", ruleID, err)
		http.Error(w, "Failed to update rule", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// DeleteRule handles DELETE /api/accounts/{id}/rules/{ruleID}
func (h *APIHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	ruleID := r.PathValue("ruleID")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	existing, err := h.store.GetRule(r.Context(), ruleID)
	if err != nil || existing.AccountID != accountID {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	}

	if err := h.store.DeleteRule(r.Context(), ruleID); err != nil {
		log.Printf("ERROR: Failed to delete rule %s: %v", ruleID, err)
		http.Error(w, "Failed to delete rule", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /api/accounts/{id}/rules
func (h *APIHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if _, ok := h.ownedAccount(w, r, accountID); !ok {
		return
	}

	accountRules, err := h.store.RulesForAccount(r.Context(), accountID)
	if err != nil {
		log.Printf("ERROR: Failed to list rules for account %s: %v", accountID, err)
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}

	resp := make([]ruleResponse, 0, len(accountRules))
	for _, rule := range accountRules {
		resp = append(resp, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ownedAccount loads the account and checks the authenticated user owns
// it, writing the error response itself when either step fails.
func (h *APIHandler) ownedAccount(w http.ResponseWriter, r *http.Request, accountID string) (*domain.Account, bool) {
	account, err := h.store.GetAccount(r.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Printf("ERROR: Failed to load account %s: %v", accountID, err)
		http.Error(w, "Failed to load account", http.StatusInternalServerError)
		return nil, false
	}

	if err := middleware.AssertPermission(r.Context(), account); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}

	return account, true
}

func toRuleResponse(rule *domain.Rule) ruleResponse {
	return ruleResponse{
		ID:          rule.ID,
		AccountID:   rule.AccountID,
		Contains:    rule.Contains,
		Description: rule.Description,
		Tags:        rule.TagIDs(),
	}
}

// jobView is the JSON shape of a job record
type jobView struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Staged       int    `json:"staged"`
	Materialized int    `json:"materialized"`
}

func jobResponse(job ingest.Job) jobView {
	return jobView{
		ID:           job.ID,
		AccountID:    job.AccountID,
		Status:       string(job.Status),
		Error:        job.Error,
		Staged:       job.Staged,
		Materialized: job.Materialized,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}
