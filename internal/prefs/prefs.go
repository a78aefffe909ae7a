// Package prefs implements the preference store collaborator: user tone
// profiles and VIP contact lists consulted during triage and drafting.
package prefs

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"ambient-email-agent/internal/model"
)

// PreferenceStore is the contract the pipeline consumes.
type PreferenceStore interface {
	GetProfile(userID string) (model.UserProfile, error)
	IsVIP(userID, senderAddress string) (bool, int, error)
}

// Repository is a gorm-backed preference store.
type Repository struct {
	db *gorm.DB
}

// New creates a preference repository on the given database handle.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetProfile returns the user's profile, falling back to defaults when none
// is stored.
func (r *Repository) GetProfile(userID string) (model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.UserProfile{
			UserID:       userID,
			Tone:         model.DefaultTone,
			MeetingHours: model.DefaultMeetingHours,
		}, nil
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if profile.Tone == "" {
		profile.Tone = model.DefaultTone
	}
	if profile.MeetingHours == "" {
		profile.MeetingHours = model.DefaultMeetingHours
	}
	return profile, nil
}

// UpsertProfile creates or updates a user's profile.
func (r *Repository) UpsertProfile(userID, tone, meetingHours string) (model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.Where("user_id = ?", userID).First(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = model.UserProfile{UserID: userID, Tone: tone, MeetingHours: meetingHours}
		if err := r.db.Create(&profile).Error; err != nil {
			return model.UserProfile{}, fmt.Errorf("failed to create profile: %w", err)
		}
	case err != nil:
		return model.UserProfile{}, fmt.Errorf("failed to load profile: %w", err)
	default:
		updates := map[string]interface{}{}
		if tone != "" {
			updates["tone"] = tone
		}
		if meetingHours != "" {
			updates["meeting_hours"] = meetingHours
		}
		if len(updates) > 0 {
			if err := r.db.Model(&profile).Updates(updates).Error; err != nil {
				return model.UserProfile{}, fmt.Errorf("failed to update profile: %w", err)
			}
		}
	}
	return profile, nil
}

// IsVIP reports whether the sender address is a VIP contact of the user,
// and the contact's priority when it is.
func (r *Repository) IsVIP(userID, senderAddress string) (bool, int, error) {
	var contact model.VIPContact
	err := r.db.Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, strings.TrimSpace(senderAddress)).
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to check VIP contact: %w", err)
	}
	return true, contact.Priority, nil
}

// ListVIPContacts returns all VIP contacts for a user ordered by priority
// descending then name.
func (r *Repository) ListVIPContacts(userID string) ([]model.VIPContact, error) {
	var contacts []model.VIPContact
	err := r.db.Where("user_id = ?", userID).
		Order("priority DESC, name ASC").
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list VIP contacts: %w", err)
	}
	return contacts, nil
}

// AddVIPContact creates or updates a VIP contact for a user.
func (r *Repository) AddVIPContact(userID, email, name string, priority int, notes string) (model.VIPContact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var contact model.VIPContact
	err := r.db.Where("user_id = ? AND email = ?", userID, email).First(&contact).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		contact = model.VIPContact{UserID: userID, Email: email, Name: name, Priority: priority, Notes: notes}
		if err := r.db.Create(&contact).Error; err != nil {
			return model.VIPContact{}, fmt.Errorf("failed to add VIP contact: %w", err)
		}
	case err != nil:
		return model.VIPContact{}, fmt.Errorf("failed to load VIP contact: %w", err)
	default:
		contact.Name = name
		contact.Priority = priority
		contact.Notes = notes
		if err := r.db.Save(&contact).Error; err != nil {
			return model.VIPContact{}, fmt.Errorf("failed to update VIP contact: %w", err)
		}
	}
	return contact, nil
}

// RemoveVIPContact deletes a VIP contact.
func (r *Repository) RemoveVIPContact(userID, email string) error {
	res := r.db.Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, strings.TrimSpace(email)).
		Delete(&model.VIPContact{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove VIP contact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}
