package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/model"
)

// SubmitEmail injects one inbound item directly into the pipeline. The
// item passes the same dedup filter as fetched mail, so repeats and
// automated noise are rejected here too.
func (h *Handlers) SubmitEmail(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	item := model.InboundItem{
		ExternalID: req.ExternalID,
		Sender:     req.Sender,
		Subject:    req.Subject,
		Body:       req.Body,
		Recipient:  req.Recipient,
		ReceivedAt: time.Now(),
	}

	acc, err := h.filter.Check(h.userID, item)
	switch {
	case errors.Is(err, model.ErrDuplicateItem):
		h.metrics.ItemsDuplicate.Inc()
		c.JSON(http.StatusOK, SubmitResponse{Status: "REJECTED", Reason: "duplicate"})
		return
	case errors.Is(err, model.ErrSuppressed):
		h.metrics.ItemsSuppressed.Inc()
		c.JSON(http.StatusOK, SubmitResponse{Status: "REJECTED", Reason: "suppressed"})
		return
	case err != nil:
		logrus.Errorf("Filter failed for submitted item %s: %v", item.ExternalID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "filter_error",
			Message: "Failed to screen item",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	h.metrics.ItemsAccepted.Inc()

	outcome, err := h.pipeline.Run(c.Request.Context(), h.userID, item, acc)
	if err != nil {
		logrus.Errorf("Pipeline failed for submitted item %s: %v", item.ExternalID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "pipeline_error",
			Message: "Failed to process item",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if outcome.Stage == model.StageGated {
		resp := SubmitResponse{Status: "INTERRUPTED", RunID: outcome.RunID}
		if request, err := h.store.GetPending(outcome.RunID); err == nil {
			if action, err := request.Action(); err == nil {
				resp.Payload = &action
			}
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{Status: "DONE", RunID: outcome.RunID, Outcome: outcome.Outcome})
}
