package genai

import (
	"context"
	"fmt"
	"strings"

	"ambient-email-agent/internal/model"
)

// Keyword tables for the heuristic classifier. Spam wins over schedule,
// schedule over needs-reply, everything else is fyi.
var (
	spamKeywords = []string{
		"unsubscribe", "lottery", "win money", "win $", "congratulations",
		"prize", "claim", "click here", "free money", "act now",
		"limited time", "guaranteed", "no risk", "crypto",
	}
	scheduleKeywords = []string{
		"meet", "meeting", "schedule", "calendar", "call", "appointment",
		"invite", "availability",
	}
	needsReplyKeywords = []string{
		"please reply", "confirm", "yes/no", "deadline", "by eod",
		"can you", "could you", "feedback", "review", "?",
	}
)

// HeuristicClassifier is the deterministic keyword classifier used both as
// a standalone classifier and as the fallback when a model-backed
// classifier fails or times out.
type HeuristicClassifier struct{}

// Classify assigns a label from the keyword tables. It never fails.
func (HeuristicClassifier) Classify(_ context.Context, subject, body, _ string) (Classification, error) {
	text := strings.ToLower(subject + "\n" + body)

	for _, k := range spamKeywords {
		if strings.Contains(text, k) {
			return Classification{Label: model.LabelSpam, Confidence: 0.5}, nil
		}
	}
	for _, k := range scheduleKeywords {
		if strings.Contains(text, k) {
			return Classification{Label: model.LabelSchedule, Confidence: 0.5}, nil
		}
	}
	for _, k := range needsReplyKeywords {
		if strings.Contains(text, k) {
			return Classification{Label: model.LabelNeedsReply, Confidence: 0.5}, nil
		}
	}
	return Classification{Label: model.LabelFYI, Confidence: 0.5}, nil
}

// TemplateDrafter proposes actions from fixed templates honoring the user's
// tone and meeting-hour preferences. It stands in where a model-backed
// drafter is not configured.
type TemplateDrafter struct{}

// Draft builds a reply or scheduling proposal for the item.
func (TemplateDrafter) Draft(_ context.Context, req DraftRequest) (model.ProposedAction, error) {
	to := ExtractAddress(req.Item.Sender)

	switch req.Label {
	case model.LabelSchedule:
		body := fmt.Sprintf(
			"Thanks for reaching out. My preferred meeting hours are %s. Could you suggest a time in that window?",
			req.Profile.MeetingHours,
		)
		if req.VIP {
			body = "Happy to make time for this. " + body
		}
		return model.ProposedAction{
			Kind:            model.ActionCreateEvent,
			To:              to,
			Subject:         "Re: " + req.Item.Subject,
			Body:            body,
			OriginalSender:  req.Item.Sender,
			OriginalSubject: req.Item.Subject,
		}, nil
	case model.LabelNeedsReply:
		body := fmt.Sprintf(
			"Thanks for your message. I have received it and will follow up shortly. (Tone: %s)",
			req.Profile.Tone,
		)
		return model.ProposedAction{
			Kind:            model.ActionSendEmail,
			To:              to,
			Subject:         "Re: " + req.Item.Subject,
			Body:            body,
			OriginalSender:  req.Item.Sender,
			OriginalSubject: req.Item.Subject,
		}, nil
	default:
		return model.NoAction(), nil
	}
}

// ExtractAddress pulls the bare address out of a "Name <addr>" header value.
func ExtractAddress(sender string) string {
	sender = strings.TrimSpace(sender)
	if start := strings.LastIndex(sender, "<"); start >= 0 {
		if end := strings.LastIndex(sender, ">"); end > start {
			return strings.TrimSpace(sender[start+1 : end])
		}
	}
	return sender
}
