package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ambient-email-agent/internal/model"
)

// GetProfile returns the user's preference profile.
func (h *Handlers) GetProfile(c *gin.Context) {
	profile, err := h.prefs.GetProfile(h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch profile",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpsertProfile creates or updates the user's preference profile.
func (h *Handlers) UpsertProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	profile, err := h.prefs.UpsertProfile(h.userID, req.Tone, req.MeetingHours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update profile",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// ListVIPContacts returns all VIP contacts of the user.
func (h *Handlers) ListVIPContacts(c *gin.Context) {
	contacts, err := h.prefs.ListVIPContacts(h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch VIP contacts",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// AddVIPContact creates or updates a VIP contact.
func (h *Handlers) AddVIPContact(c *gin.Context) {
	var req VIPContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	priority := req.Priority
	if priority <= 0 {
		priority = 1
	}

	contact, err := h.prefs.AddVIPContact(h.userID, req.Email, req.Name, priority, req.Notes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to add VIP contact",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, contact)
}

// RemoveVIPContact deletes a VIP contact by email address.
func (h *Handlers) RemoveVIPContact(c *gin.Context) {
	err := h.prefs.RemoveVIPContact(h.userID, c.Param("email"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "VIP contact not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to remove VIP contact",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}
