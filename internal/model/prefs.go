package model

import (
	"time"

	"gorm.io/gorm"
)

// Profile defaults applied when a user has no stored profile.
const (
	DefaultTone         = "polite, concise, friendly"
	DefaultMeetingHours = "Tue-Thu 09:00-11:30"
)

// UserProfile holds a user's tone and scheduling preferences used when
// drafting replies.
type UserProfile struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       string         `json:"user_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Tone         string         `json:"tone" gorm:"type:varchar(255)"`
	MeetingHours string         `json:"meeting_hours" gorm:"type:varchar(255)"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for UserProfile
func (UserProfile) TableName() string {
	return "user_profiles"
}

// VIPContact marks a sender whose mail gets elevated queue priority and
// tone-adjusted drafts.
type VIPContact struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string         `json:"user_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_vip_user_email"`
	Email     string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_vip_user_email"`
	Name      string         `json:"name" gorm:"type:varchar(255)"`
	Priority  int            `json:"priority" gorm:"default:1"`
	Notes     string         `json:"notes" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for VIPContact
func (VIPContact) TableName() string {
	return "vip_contacts"
}
