package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ApprovalRequest is the projection of a gated run parked for human review.
// It lives exactly as long as the run stays gated.
type ApprovalRequest struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID       string         `json:"run_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ActionJSON  string         `json:"-" gorm:"type:text"`
	Priority    int            `json:"priority" gorm:"index:idx_approval_order,priority:1"`
	VIP         bool           `json:"vip" gorm:"column:vip;index"`
	HistoryJSON string         `json:"-" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index:idx_approval_order,priority:2"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for ApprovalRequest
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// Action decodes the currently proposed action.
func (a *ApprovalRequest) Action() (ProposedAction, error) {
	return DecodeAction(a.ActionJSON)
}

// EditHistory decodes the ordered prior versions of the proposed action,
// oldest first. Empty when no edits were applied.
func (a *ApprovalRequest) EditHistory() ([]ProposedAction, error) {
	if a.HistoryJSON == "" {
		return nil, nil
	}
	var history []ProposedAction
	if err := json.Unmarshal([]byte(a.HistoryJSON), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// AuditEntry is an append-only record of a run transition or decision.
type AuditEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(255);not null;index"`
	UserID    string    `json:"user_id" gorm:"type:varchar(255);index"`
	Stage     Stage     `json:"stage" gorm:"type:varchar(32)"`
	Actor     string    `json:"actor" gorm:"type:varchar(255)"`
	Note      string    `json:"note" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// Fingerprint records a seen external identifier for deduplication.
// The unique index on ExternalID makes the claim atomic: of two concurrent
// inserts for the same identifier, exactly one succeeds.
type Fingerprint struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID  string    `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64)"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Fingerprint
func (Fingerprint) TableName() string {
	return "fingerprints"
}
