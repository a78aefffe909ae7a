package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"ambient-email-agent/internal/model"
)

// ClaimFingerprint records an external identifier as seen for the given
// retention window. The unique index on external_id makes the claim atomic:
// when two items with the same identifier race, exactly one insert succeeds
// and the other gets ErrDuplicateItem. An expired fingerprint for the same
// identifier is cleared first so the identifier can be seen again.
func (s *Store) ClaimFingerprint(externalID, contentHash string, ttl time.Duration) error {
	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("external_id = ? AND expires_at < ?", externalID, now).
			Delete(&model.Fingerprint{}).Error; err != nil {
			return fmt.Errorf("failed to clear expired fingerprint: %w", err)
		}

		fp := model.Fingerprint{
			ExternalID:  externalID,
			ContentHash: contentHash,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Create(&fp).Error; err != nil {
			if isUniqueViolation(err) {
				return model.ErrDuplicateItem
			}
			return fmt.Errorf("failed to claim fingerprint: %w", err)
		}
		return nil
	})
}

// PruneFingerprints removes fingerprints past their retention window and
// returns how many were removed.
func (s *Store) PruneFingerprints() (int64, error) {
	res := s.db.Where("expires_at < ?", time.Now().UTC()).Delete(&model.Fingerprint{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune fingerprints: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
