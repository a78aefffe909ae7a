package model

import (
	"time"

	"gorm.io/gorm"
)

// Stage is the lifecycle position of a pipeline run.
type Stage string

const (
	StagePending   Stage = "pending"
	StageTriaged   Stage = "triaged"
	StageDrafted   Stage = "drafted"
	StageGated     Stage = "gated"
	StageCompleted Stage = "completed"
	StageCancelled Stage = "cancelled"
)

// stageRank orders stages so transitions can be checked for monotonicity.
var stageRank = map[Stage]int{
	StagePending:   0,
	StageTriaged:   1,
	StageDrafted:   2,
	StageGated:     3,
	StageCompleted: 4,
	StageCancelled: 4,
}

// Terminal reports whether the stage is a final state.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// CanAdvanceTo reports whether a transition from s to next is legal.
// Stages only move forward; terminal stages never transition. A run may
// complete early from triaged (spam/fyi short-circuit) or from drafted
// (non-sensitive action executed immediately), but never move backward
// or repeat a stage.
func (s Stage) CanAdvanceTo(next Stage) bool {
	from, ok := stageRank[s]
	if !ok {
		return false
	}
	to, ok := stageRank[next]
	if !ok {
		return false
	}
	return !s.Terminal() && to > from
}

// Label is the triage classification of an inbound item.
type Label string

const (
	LabelNeedsReply Label = "needs_reply"
	LabelSchedule   Label = "schedule"
	LabelFYI        Label = "fyi"
	LabelSpam       Label = "spam"
)

// ValidLabel reports whether l is one of the fixed classification labels.
func ValidLabel(l Label) bool {
	switch l {
	case LabelNeedsReply, LabelSchedule, LabelFYI, LabelSpam:
		return true
	}
	return false
}

// NeedsDraft reports whether the label requires a drafted action.
func (l Label) NeedsDraft() bool {
	return l == LabelNeedsReply || l == LabelSchedule
}

// Run outcomes recorded when a run reaches a terminal stage.
const (
	OutcomeSent     = "sent"
	OutcomeNoAction = "no_action"
	OutcomeDenied   = "denied"
	OutcomeExpired  = "expired"
	OutcomeFailed   = "failed"
)

// InboundItem is an email fetched from the mailbox, immutable once built.
type InboundItem struct {
	ExternalID string    `json:"external_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at"`
}

// PipelineRun represents one inbound item's traversal through the stage
// pipeline, persisted so a gated run survives restarts.
type PipelineRun struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID      string         `json:"run_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	UserID     string         `json:"user_id" gorm:"type:varchar(255);not null;index"`
	ExternalID string         `json:"external_id" gorm:"type:varchar(255);not null;index"`
	Sender     string         `json:"sender" gorm:"type:varchar(255)"`
	Subject    string         `json:"subject" gorm:"type:text"`
	Body       string         `json:"body" gorm:"type:text"`
	Recipient  string         `json:"recipient" gorm:"type:varchar(255)"`
	ReceivedAt time.Time      `json:"received_at"`
	Stage      Stage          `json:"stage" gorm:"type:varchar(32);not null;index"`
	Label      Label          `json:"label" gorm:"type:varchar(32)"`
	Priority   int            `json:"priority"`
	VIP        bool           `json:"vip" gorm:"column:vip"`
	ActionJSON string         `json:"-" gorm:"type:text"`
	Sensitive  bool           `json:"sensitive"`
	Outcome    string         `json:"outcome" gorm:"type:varchar(32)"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for PipelineRun
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// Item rebuilds the InboundItem the run was created from.
func (r *PipelineRun) Item() InboundItem {
	return InboundItem{
		ExternalID: r.ExternalID,
		Sender:     r.Sender,
		Subject:    r.Subject,
		Body:       r.Body,
		Recipient:  r.Recipient,
		ReceivedAt: r.ReceivedAt,
	}
}
