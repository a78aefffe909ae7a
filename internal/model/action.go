package model

import "encoding/json"

// ActionKind identifies what a proposed action would do if executed.
type ActionKind string

const (
	ActionSendEmail   ActionKind = "send_email"
	ActionCreateEvent ActionKind = "create_event"
	ActionFlagManual  ActionKind = "flag_manual"
	ActionNone        ActionKind = "none"
)

// sensitiveActions is the policy table deciding which action kinds must be
// approved by a human before execution. Anything that sends or mutates
// external state is sensitive; flag_manual is sensitive because it exists
// to surface an item for human attention.
var sensitiveActions = map[ActionKind]bool{
	ActionSendEmail:   true,
	ActionCreateEvent: true,
	ActionFlagManual:  true,
	ActionNone:        false,
}

// Sensitive reports whether the action kind requires human approval.
func (k ActionKind) Sensitive() bool {
	return sensitiveActions[k]
}

// ProposedAction is the action a drafted run proposes to take.
type ProposedAction struct {
	Kind            ActionKind `json:"kind"`
	To              string     `json:"to,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Body            string     `json:"body,omitempty"`
	OriginalSender  string     `json:"original_sender,omitempty"`
	OriginalSubject string     `json:"original_subject,omitempty"`
}

// NoAction is the proposed action for runs that require nothing.
func NoAction() ProposedAction {
	return ProposedAction{Kind: ActionNone}
}

// EncodeAction serializes a proposed action for storage.
func EncodeAction(a ProposedAction) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeAction deserializes a stored proposed action.
func DecodeAction(s string) (ProposedAction, error) {
	var a ProposedAction
	if s == "" {
		return NoAction(), nil
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return ProposedAction{}, err
	}
	return a, nil
}

// Verdict is the human decision applied to a gated run.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDeny    Verdict = "deny"
	VerdictEdit    Verdict = "edit"
)

// Decision carries a verdict for a suspended run. Replacement is required
// for VerdictEdit and ignored otherwise.
type Decision struct {
	Verdict     Verdict         `json:"verdict"`
	Replacement *ProposedAction `json:"replacement,omitempty"`
	Actor       string          `json:"actor,omitempty"`
}

// RunOutcome is returned by the dispatcher after a decision is applied.
type RunOutcome struct {
	RunID   string `json:"run_id"`
	Stage   Stage  `json:"stage"`
	Outcome string `json:"outcome"`
}
