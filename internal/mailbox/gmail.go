package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/model"
)

// GmailClient fetches and sends mail through the Gmail API.
type GmailClient struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailClient creates a Gmail API client from OAuth2 credentials.
func NewGmailClient(cfg *config.MailboxConfig) (*GmailClient, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailClient{
		service:   service,
		userEmail: cfg.UserEmail,
	}, nil
}

// ListNewItems fetches messages that arrived after the watermark. The new
// watermark is captured before the listing call so a message arriving
// mid-fetch is picked up by the next cycle rather than lost.
func (c *GmailClient) ListNewItems(ctx context.Context, since time.Time) ([]model.InboundItem, time.Time, error) {
	next := time.Now()
	query := fmt.Sprintf("after:%d", since.Unix())

	call := c.service.Users.Messages.List(c.userEmail).Q(query)
	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to list messages: %w", err)
	}

	var items []model.InboundItem

	for _, msg := range response.Messages {
		message, err := c.service.Users.Messages.Get(c.userEmail, msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		item, err := c.parseMessage(message)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}

		items = append(items, item)
	}

	return items, next, nil
}

// parseMessage converts a Gmail API message into an InboundItem.
func (c *GmailClient) parseMessage(msg *gmail.Message) (model.InboundItem, error) {
	item := model.InboundItem{
		ExternalID: msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			item.Subject = header.Value
		case "From":
			item.Sender = header.Value
		case "To":
			item.Recipient = header.Value
		}
	}

	body, err := extractBody(msg.Payload)
	if err != nil {
		return item, err
	}
	item.Body = body

	return item, nil
}

// extractBody recursively collects the text/plain part of a message.
func extractBody(part *gmail.MessagePart) (string, error) {
	if part.Body != nil && part.Body.Data != "" && part.MimeType == "text/plain" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return "", fmt.Errorf("failed to decode body data: %w", err)
		}
		return string(data), nil
	}

	for _, subPart := range part.Parts {
		body, err := extractBody(subPart)
		if err != nil {
			return "", err
		}
		if body != "" {
			return body, nil
		}
	}

	return "", nil
}

// SendAction sends the proposed action as an email reply, retrying on rate
// limits with exponential backoff.
func (c *GmailClient) SendAction(ctx context.Context, action model.ProposedAction) error {
	raw, err := buildMessage(c.userEmail, action)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := c.service.Users.Messages.Send(c.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.Infof("Sent %s to %s", action.Kind, action.To)
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send message (attempt %d/%d): %v", attempt, 3, err)

		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			waitTime := time.Duration(attempt*attempt) * time.Second
			logrus.Infof("Rate limited, waiting %v before retry", waitTime)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to send message after 3 attempts: %w", lastErr)
}

// buildMessage renders the RFC 822 payload for a proposed action.
func buildMessage(from string, action model.ProposedAction) (string, error) {
	if action.To == "" {
		return "", fmt.Errorf("action has no recipient")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", action.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", action.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(action.Body)
	b.WriteString("\r\n")
	return b.String(), nil
}

// Close closes the Gmail client. The API service needs no explicit closing.
func (c *GmailClient) Close() error {
	return nil
}
