package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// ChainConfigAdmin is the admin mutation surface for approval chain rules,
// implemented by repository.ChainConfigRepository.
type ChainConfigAdmin interface {
	Create(ctx context.Context, cfg *repository.ApprovalChainConfig) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalChainConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*repository.ApprovalChainConfig, error)
	Update(ctx context.Context, cfg *repository.ApprovalChainConfig) error
	Delete(ctx context.Context, id string) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	coordinator  *service.ApprovalCoordinator
	stateManager *service.WorkflowStateManager
	monitor      *service.DeadlineMonitor
	chains       ChainConfigAdmin
	log          *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	coordinator *service.ApprovalCoordinator,
	stateManager *service.WorkflowStateManager,
	monitor *service.DeadlineMonitor,
	chains ChainConfigAdmin,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		coordinator:  coordinator,
		stateManager: stateManager,
		monitor:      monitor,
		chains:       chains,
		log:          log,
	}
}

// ── Approval endpoints ───────────────────────────────────────────────────────

// SubmitApprovalRequest is the submit endpoint payload.
type SubmitApprovalRequest struct {
	ApprovalType string  `json:"approval_type"`
	EntityID     string  `json:"entity_id"`
	EntityType   string  `json:"entity_type"`
	RequestorID  string  `json:"requestor_id"`
	Amount       *int64  `json:"amount,omitempty"`
	DaysCount    *int    `json:"days_count,omitempty"`
	Priority     int     `json:"priority"`
	DepartmentID *string `json:"department_id,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// SubmitForApproval handles submit for approval HTTP requests
func (h *HTTPHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	var req SubmitApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.coordinator.SubmitForApproval(r.Context(), &service.SubmitApprovalRequest{
		ApprovalType: repository.ApprovalType(req.ApprovalType),
		EntityID:     req.EntityID,
		EntityType:   req.EntityType,
		RequestorID:  req.RequestorID,
		Amount:       req.Amount,
		DaysCount:    req.DaysCount,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		Description:  req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// DecideRequest is the decision endpoint payload.
type DecideRequest struct {
	RequestID string  `json:"request_id"`
	Decision  string  `json:"decision"` // approve | reject | request_more_info
	Comments  *string `json:"comments,omitempty"`
}

// ProcessDecision handles approval decision HTTP requests
func (h *HTTPHandler) ProcessDecision(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.coordinator.ProcessApprovalDecision(r.Context(), req.RequestID, service.Decision(req.Decision), req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// WithdrawRequest is the withdraw endpoint payload.
type WithdrawRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// Withdraw handles withdraw HTTP requests
func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.coordinator.WithdrawApprovalRequest(r.Context(), req.RequestID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Escalate handles manual escalation HTTP requests
func (h *HTTPHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.coordinator.EscalateToNextApprover(r.Context(), req.RequestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// BulkApprove handles bulk approve HTTP requests
func (h *HTTPHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestIDs []string `json:"request_ids"`
		Comments   *string  `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.RequestIDs) == 0 {
		http.Error(w, "request_ids is required", http.StatusBadRequest)
		return
	}

	results := h.coordinator.BulkApprove(r.Context(), req.RequestIDs, req.Comments)
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GetApprovalRequest handles get request HTTP requests
func (h *HTTPHandler) GetApprovalRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.coordinator.GetApprovalRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// GetPendingApprovals handles pending approvals HTTP requests
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		http.Error(w, "Approver ID is required", http.StatusBadRequest)
		return
	}
	page, pageSize := pagination(r)

	requests, total, err := h.coordinator.GetPendingApprovalsForApprover(r.Context(), approverID, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// CountPendingApprovals handles pending count HTTP requests
func (h *HTTPHandler) CountPendingApprovals(w http.ResponseWriter, r *http.Request) {
	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		http.Error(w, "Approver ID is required", http.StatusBadRequest)
		return
	}

	count, err := h.coordinator.CountPendingApprovals(r.Context(), approverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// GetApprovalsByRequestor handles by-requestor HTTP requests
func (h *HTTPHandler) GetApprovalsByRequestor(w http.ResponseWriter, r *http.Request) {
	requestorID := r.URL.Query().Get("requestor_id")
	if requestorID == "" {
		http.Error(w, "Requestor ID is required", http.StatusBadRequest)
		return
	}
	page, pageSize := pagination(r)

	requests, total, err := h.coordinator.GetApprovalsByRequestor(r.Context(), requestorID, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// ── Workflow endpoints ───────────────────────────────────────────────────────

// GetWorkflow handles get workflow HTTP requests
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	wf, err := h.stateManager.GetWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// GetActiveWorkflows handles active workflows by entity HTTP requests
func (h *HTTPHandler) GetActiveWorkflows(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		http.Error(w, "Entity ID is required", http.StatusBadRequest)
		return
	}

	workflows, err := h.stateManager.FindActiveWorkflowsByEntityID(r.Context(), entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// ── Deadline endpoints ───────────────────────────────────────────────────────

// RegisterDeadlineRequest is the deadline registration payload.
type RegisterDeadlineRequest struct {
	WorkflowID         string    `json:"workflow_id"`
	DeadlineType       string    `json:"deadline_type"`
	Description        string    `json:"description"`
	DeadlineAt         time.Time `json:"deadline_at"`
	WarningHoursBefore *int      `json:"warning_hours_before,omitempty"`
	AssigneeID         *string   `json:"assignee_id,omitempty"`
}

// RegisterDeadline handles deadline registration HTTP requests
func (h *HTTPHandler) RegisterDeadline(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.monitor.RegisterDeadline(r.Context(), req.WorkflowID, req.DeadlineType,
		req.Description, req.DeadlineAt, req.WarningHoursBefore, req.AssigneeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

// UpdateDeadline handles deadline reschedule HTTP requests
func (h *HTTPHandler) UpdateDeadline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeadlineID string    `json:"deadline_id"`
		DeadlineAt time.Time `json:"deadline_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.monitor.UpdateDeadline(r.Context(), req.DeadlineID, req.DeadlineAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// CompleteDeadline handles deadline completion HTTP requests
func (h *HTTPHandler) CompleteDeadline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeadlineID string `json:"deadline_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.monitor.CompleteDeadline(r.Context(), req.DeadlineID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// EscalateDeadline handles manual deadline escalation HTTP requests
func (h *HTTPHandler) EscalateDeadline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeadlineID string `json:"deadline_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.monitor.Escalate(r.Context(), req.DeadlineID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// ── Chain config admin endpoints ─────────────────────────────────────────────

// ChainConfigRequest is the chain rule create/update payload.
type ChainConfigRequest struct {
	ID                 string  `json:"id,omitempty"`
	ApprovalType       string  `json:"approval_type"`
	AmountThreshold    *int64  `json:"amount_threshold,omitempty"`
	DepartmentID       *string `json:"department_id,omitempty"`
	SequenceOrder      int     `json:"sequence_order"`
	ApproverType       string  `json:"approver_type"`
	SpecificApproverID *string `json:"specific_approver_id,omitempty"`
	IsActive           bool    `json:"is_active"`
}

// ListChainConfigs handles list chain config HTTP requests
func (h *HTTPHandler) ListChainConfigs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	configs, err := h.chains.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// CreateChainConfig handles create chain config HTTP requests
func (h *HTTPHandler) CreateChainConfig(w http.ResponseWriter, r *http.Request) {
	var req ChainConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg := chainConfigFrom(&req)
	if err := h.chains.Create(r.Context(), cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, cfg)
}

// UpdateChainConfig handles update chain config HTTP requests
func (h *HTTPHandler) UpdateChainConfig(w http.ResponseWriter, r *http.Request) {
	var req ChainConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Config ID is required", http.StatusBadRequest)
		return
	}

	cfg := chainConfigFrom(&req)
	cfg.ID = req.ID
	if err := h.chains.Update(r.Context(), cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// DeleteChainConfig handles delete chain config HTTP requests
func (h *HTTPHandler) DeleteChainConfig(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Config ID is required", http.StatusBadRequest)
		return
	}

	if err := h.chains.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func chainConfigFrom(req *ChainConfigRequest) *repository.ApprovalChainConfig {
	return &repository.ApprovalChainConfig{
		ApprovalType:       repository.ApprovalType(req.ApprovalType),
		AmountThreshold:    req.AmountThreshold,
		DepartmentID:       req.DepartmentID,
		SequenceOrder:      req.SequenceOrder,
		ApproverType:       repository.ApproverType(req.ApproverType),
		SpecificApproverID: req.SpecificApproverID,
		IsActive:           req.IsActive,
	}
}

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return page, pageSize
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": err.Error(),
	})
}
