package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/model"
)

// GetRun returns a run with its full audit trail.
func (h *Handlers) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := h.store.GetRun(runID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Run not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch run",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	audit, err := h.store.AuditTrail(runID)
	if err != nil {
		logrus.Errorf("Failed to load audit trail for %s: %v", runID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch audit trail",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, RunResponse{Run: run, Audit: audit})
}

// GetHistory returns the user's recent audit entries. Supports ?days=N and
// ?limit=N query parameters.
func (h *Handlers) GetHistory(c *gin.Context) {
	days := queryInt(c, "days", 7)
	limit := queryInt(c, "limit", 100)

	entries, err := h.store.AuditSince(h.userID, time.Now().AddDate(0, 0, -days), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch history",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, entries)
}

// GetStats aggregates the user's runs by label and outcome over a window.
func (h *Handlers) GetStats(c *gin.Context) {
	days := queryInt(c, "days", 7)
	since := time.Now().AddDate(0, 0, -days)

	labels, err := h.store.LabelCounts(h.userID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to aggregate labels",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	outcomes, err := h.store.OutcomeCounts(h.userID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to aggregate outcomes",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{Since: since, Labels: labels, Outcomes: outcomes})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw, ok := c.GetQuery(name)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
