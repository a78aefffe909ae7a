package mailbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/model"
)

// IMAPFetcher lists inbound items over IMAP. Sending still goes through
// the Gmail API sender.
type IMAPFetcher struct {
	client *client.Client
}

// NewIMAPFetcher connects and logs in to the IMAP server.
func NewIMAPFetcher(cfg *config.MailboxConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{client: c}, nil
}

// ListNewItems searches INBOX for messages since the watermark.
func (f *IMAPFetcher) ListNewItems(ctx context.Context, since time.Time) ([]model.InboundItem, time.Time, error) {
	next := time.Now()

	_, err := f.client.Select("INBOX", false)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		return nil, next, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- f.client.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchBody, imap.FetchUid}, messages)
	}()

	var items []model.InboundItem

	for msg := range messages {
		item, err := parseIMAPMessage(msg)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		items = append(items, item)
	}

	if err := <-done; err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return items, next, nil
}

// parseIMAPMessage converts an IMAP message into an InboundItem.
func parseIMAPMessage(msg *imap.Message) (model.InboundItem, error) {
	item := model.InboundItem{}

	if msg.Envelope != nil {
		item.ExternalID = msg.Envelope.MessageId
		item.Subject = msg.Envelope.Subject
		item.ReceivedAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			item.Sender = msg.Envelope.From[0].Address()
		}
		if len(msg.Envelope.To) > 0 {
			item.Recipient = msg.Envelope.To[0].Address()
		}
	}
	if item.ExternalID == "" {
		return item, fmt.Errorf("message has no Message-Id")
	}

	body, err := extractIMAPBody(msg)
	if err != nil {
		return item, err
	}
	item.Body = body

	return item, nil
}

// extractIMAPBody pulls the text/plain content out of an IMAP message.
func extractIMAPBody(msg *imap.Message) (string, error) {
	if msg.Body == nil {
		return "", nil
	}

	section := &imap.BodySectionName{}
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if !strings.Contains(contentType, "text/plain") {
				continue
			}
			content, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}
			return string(content), nil
		}
		return "", nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	return string(content), nil
}

// Close logs out of the IMAP server.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
