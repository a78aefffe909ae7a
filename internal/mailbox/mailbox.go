// Package mailbox implements the mailbox collaborator: listing new inbound
// items since a watermark and sending proposed actions. Gmail API is the
// primary transport; IMAP is the fetch-only alternative.
package mailbox

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/model"
)

// Fetcher lists inbound items that arrived after the given watermark and
// returns the watermark the next cycle should use. The returned watermark
// is only valid when err is nil; callers must not advance theirs on error.
type Fetcher interface {
	ListNewItems(ctx context.Context, since time.Time) ([]model.InboundItem, time.Time, error)
	Close() error
}

// Sender delivers an outbound message.
type Sender interface {
	SendAction(ctx context.Context, action model.ProposedAction) error
	Close() error
}

// Executor adapts a Sender to the pipeline's action collaborator contract.
// Flag-for-manual and no-op actions complete without touching the mailbox.
type Executor struct {
	sender Sender
}

// NewExecutor creates an action executor over the given sender.
func NewExecutor(sender Sender) *Executor {
	return &Executor{sender: sender}
}

// Execute performs the proposed action.
func (e *Executor) Execute(ctx context.Context, action model.ProposedAction) error {
	switch action.Kind {
	case model.ActionSendEmail, model.ActionCreateEvent:
		return e.sender.SendAction(ctx, action)
	case model.ActionFlagManual:
		logrus.Infof("Flagged for manual reply: %s (%s)", action.OriginalSubject, action.OriginalSender)
		return nil
	default:
		return nil
	}
}
