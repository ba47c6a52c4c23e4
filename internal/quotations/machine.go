package quotations

import "fmt"

// trigger names an edge of the lifecycle state machine.
type trigger string

const (
	triggerSubmit        trigger = "submitForApproval"
	triggerChainApproved trigger = "chainApproved"
	triggerChainRejected trigger = "chainRejected"
	triggerSend          trigger = "send"
	triggerClientView    trigger = "clientView"
	triggerAccept        trigger = "accept"
	triggerReject        trigger = "reject"
	triggerExpire        trigger = "expire"
	triggerArchive       trigger = "archive"
	triggerReopen        trigger = "reopen"
)

// transitions is the complete edge set. Status changes happen only along
// these edges; anything else returns ErrInvalidTransition and leaves the
// quotation untouched.
var transitions = map[Status]map[trigger]Status{
	StatusDraft: {
		triggerSubmit:  StatusPendingApproval,
		triggerArchive: StatusArchived,
	},
	StatusPendingApproval: {
		triggerChainApproved: StatusApproved,
		triggerChainRejected: StatusDraft,
		triggerArchive:       StatusArchived,
	},
	StatusApproved: {
		triggerSend:    StatusSent,
		triggerArchive: StatusArchived,
	},
	StatusSent: {
		triggerClientView: StatusViewed,
		triggerAccept:     StatusAccepted,
		triggerReject:     StatusRejected,
		triggerExpire:     StatusExpired,
		triggerArchive:    StatusArchived,
	},
	StatusViewed: {
		triggerAccept:  StatusAccepted,
		triggerReject:  StatusRejected,
		triggerExpire:  StatusExpired,
		triggerArchive: StatusArchived,
	},
	StatusAccepted: {
		triggerReopen: StatusDraft,
	},
	StatusRejected: {
		triggerReopen: StatusDraft,
	},
	StatusExpired: {
		triggerReopen: StatusDraft,
	},
	StatusArchived: {},
}

// IsTerminal reports whether no further client-facing progression exists for
// the status. Reopen is an administrative override, not a lifecycle edge out
// of terminality.
func IsTerminal(s Status) bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// nextStatus resolves the target status for a trigger from the current one.
func nextStatus(from Status, t trigger) (Status, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	to, ok := edges[t]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, from)
	}
	return to, nil
}
