// Package dedup decides whether an inbound item enters the pipeline at all.
// It rejects repeats within the fingerprint retention window, suppresses
// automated noise, and assigns the initial priority used for approval queue
// ordering.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/genai"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/store"
)

// Address and content markers of automated mail that never needs a run.
var suppressionIndicators = []string{
	"unsubscribe", "no-reply", "noreply", "donotreply",
	"automated", "auto-generated", "system notification",
	"jobalerts-noreply", "newsletters", "marketing",
}

// Priority bases; a VIP sender always outranks a non-VIP one.
const (
	basePriority    = 1
	vipBasePriority = 2
)

// recencyWindow grants a small bonus to items fresh enough that a human is
// likely still in the conversation.
const recencyWindow = time.Hour

// Acceptance is the filter's verdict for an accepted item.
type Acceptance struct {
	Priority int
	VIP      bool
}

// Filter screens inbound items before they become pipeline runs.
type Filter struct {
	store *store.Store
	prefs prefs.PreferenceStore
	ttl   time.Duration
}

// New creates a dedup filter with the given fingerprint retention window.
func New(st *store.Store, ps prefs.PreferenceStore, ttl time.Duration) *Filter {
	return &Filter{store: st, prefs: ps, ttl: ttl}
}

// Check accepts or rejects an inbound item. Rejections return
// ErrSuppressed or ErrDuplicateItem. The fingerprint is claimed before
// accept is returned, so a concurrent duplicate for the same external
// identifier loses even while this item's run is still in flight.
func (f *Filter) Check(userID string, item model.InboundItem) (Acceptance, error) {
	if reason := suppressionReason(item); reason != "" {
		logrus.Debugf("Suppressed item %s: %s", item.ExternalID, reason)
		return Acceptance{}, model.ErrSuppressed
	}

	if err := f.store.ClaimFingerprint(item.ExternalID, contentHash(item), f.ttl); err != nil {
		return Acceptance{}, err
	}

	vip, vipPriority, err := f.prefs.IsVIP(userID, genai.ExtractAddress(item.Sender))
	if err != nil {
		// Preference store failures degrade to non-VIP handling rather
		// than blocking ingestion.
		logrus.Warnf("VIP lookup failed for %s: %v", item.ExternalID, err)
		vip = false
	}

	priority := basePriority
	if vip {
		priority = vipBasePriority + vipPriority
	}
	if time.Since(item.ReceivedAt) < recencyWindow {
		priority++
	}

	return Acceptance{Priority: priority, VIP: vip}, nil
}

// PruneExpired removes fingerprints past the retention window.
func (f *Filter) PruneExpired() (int64, error) {
	return f.store.PruneFingerprints()
}

// suppressionReason returns a non-empty reason when the item matches a
// suppression rule.
func suppressionReason(item model.InboundItem) string {
	text := strings.ToLower(item.Subject + " " + item.Body + " " + item.Sender)
	for _, indicator := range suppressionIndicators {
		if strings.Contains(text, indicator) {
			return "matches indicator " + indicator
		}
	}

	body := strings.TrimSpace(item.Body)
	if len(body) < 50 {
		return "body too short"
	}
	if len(body) < 100 && (strings.Contains(body, "http") || strings.Contains(body, "www.")) {
		return "link-only body"
	}
	return ""
}

// contentHash fingerprints the item's content so repeats with a rewritten
// external identifier can still be recognized downstream.
func contentHash(item model.InboundItem) string {
	sum := sha256.Sum256([]byte(item.Subject + "\x00" + item.Body))
	return hex.EncodeToString(sum[:])
}
