package handlers

import (
	"strconv"
	"time"

	"ambient-email-agent/internal/model"
)

// SubmitRequest is the direct item injection payload.
type SubmitRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Body       string `json:"body" binding:"required"`
	Sender     string `json:"sender" binding:"required"`
	Recipient  string `json:"recipient"`
}

// SubmitResponse reports what happened to a submitted item.
type SubmitResponse struct {
	Status  string               `json:"status"` // DONE, INTERRUPTED, REJECTED
	RunID   string               `json:"run_id,omitempty"`
	Outcome string               `json:"outcome,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Payload *model.ProposedAction `json:"payload,omitempty"`
}

// DecisionRequest carries a human decision for a suspended run. For the
// edit verdict, non-empty edit fields override the stored proposal.
type DecisionRequest struct {
	Verdict string        `json:"verdict" binding:"required"`
	Actor   string        `json:"actor"`
	Edits   *EditsPayload `json:"edits"`
}

// EditsPayload is a partial override of a proposed action.
type EditsPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// PendingResponse is one approval queue entry.
type PendingResponse struct {
	RunID       string                 `json:"run_id"`
	Payload     model.ProposedAction   `json:"payload"`
	Priority    int                    `json:"priority"`
	VIP         bool                   `json:"vip"`
	CreatedAt   time.Time              `json:"created_at"`
	EditHistory []model.ProposedAction `json:"edit_history,omitempty"`
}

// RunResponse is a run with its audit trail.
type RunResponse struct {
	Run   *model.PipelineRun `json:"run"`
	Audit []model.AuditEntry `json:"audit"`
}

// ProfileRequest updates a user's preference profile.
type ProfileRequest struct {
	Tone         string `json:"tone"`
	MeetingHours string `json:"meeting_hours"`
}

// VIPContactRequest creates or updates a VIP contact.
type VIPContactRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Notes    string `json:"notes"`
}

// StatsResponse aggregates a user's run counts over a window.
type StatsResponse struct {
	Since    time.Time        `json:"since"`
	Labels   map[string]int64 `json:"labels"`
	Outcomes map[string]int64 `json:"outcomes"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
