package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/model"
)

// ListPending returns the approval queue, ordered by priority descending
// then creation time ascending. Supports ?vip=true|false filtering.
func (h *Handlers) ListPending(c *gin.Context) {
	var vipOnly *bool
	if raw, ok := c.GetQuery("vip"); ok {
		v := raw == "true"
		vipOnly = &v
	}

	requests, err := h.store.ListPending(vipOnly)
	if err != nil {
		logrus.Errorf("Failed to list pending approvals: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch pending approvals",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]PendingResponse, 0, len(requests))
	for _, request := range requests {
		resp, err := pendingResponse(&request)
		if err != nil {
			logrus.Errorf("Failed to decode approval request %s: %v", request.RunID, err)
			continue
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, responses)
}

// GetPending returns one approval queue entry by run identifier.
func (h *Handlers) GetPending(c *gin.Context) {
	request, err := h.store.GetPending(c.Param("run_id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No pending approval for run",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch approval request",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	resp, err := pendingResponse(request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "decode_error",
			Message: "Failed to decode approval request",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Decide applies a human decision to a suspended run and resumes it.
func (h *Handlers) Decide(c *gin.Context) {
	if !h.requireSecret(c) {
		return
	}

	runID := c.Param("run_id")

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	decision, ok := h.buildDecision(c, runID, req)
	if !ok {
		return
	}

	outcome, err := h.dispatcher.Resume(c.Request.Context(), runID, decision)
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Run not found",
			Code:    http.StatusNotFound,
		})
		return
	case errors.Is(err, model.ErrStaleRequest):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "stale_request",
			Message: "Run already resolved",
			Code:    http.StatusConflict,
		})
		return
	case err != nil:
		logrus.Errorf("Failed to resume run %s: %v", runID, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "decision_error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// buildDecision maps a decision request onto a core decision, merging
// partial edits over the stored proposal for the edit verdict.
func (h *Handlers) buildDecision(c *gin.Context, runID string, req DecisionRequest) (model.Decision, bool) {
	decision := model.Decision{Verdict: model.Verdict(req.Verdict), Actor: req.Actor}

	switch decision.Verdict {
	case model.VerdictApprove, model.VerdictDeny:
		return decision, true
	case model.VerdictEdit:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Verdict must be approve, deny, or edit",
			Code:    http.StatusBadRequest,
		})
		return model.Decision{}, false
	}

	if req.Edits == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Edit verdict requires edits",
			Code:    http.StatusBadRequest,
		})
		return model.Decision{}, false
	}

	request, err := h.store.GetPending(runID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "stale_request",
				Message: "Run already resolved",
				Code:    http.StatusConflict,
			})
		} else {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "database_error",
				Message: "Failed to fetch approval request",
				Code:    http.StatusInternalServerError,
			})
		}
		return model.Decision{}, false
	}

	action, err := request.Action()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "decode_error",
			Message: "Failed to decode stored action",
			Code:    http.StatusInternalServerError,
		})
		return model.Decision{}, false
	}

	if req.Edits.To != "" {
		action.To = req.Edits.To
	}
	if req.Edits.Subject != "" {
		action.Subject = req.Edits.Subject
	}
	if req.Edits.Body != "" {
		action.Body = req.Edits.Body
	}
	decision.Replacement = &action
	return decision, true
}

// pendingResponse projects an approval request into its API shape.
func pendingResponse(request *model.ApprovalRequest) (PendingResponse, error) {
	action, err := request.Action()
	if err != nil {
		return PendingResponse{}, err
	}
	history, err := request.EditHistory()
	if err != nil {
		return PendingResponse{}, err
	}
	return PendingResponse{
		RunID:       request.RunID,
		Payload:     action,
		Priority:    request.Priority,
		VIP:         request.VIP,
		CreatedAt:   request.CreatedAt,
		EditHistory: history,
	}, nil
}
