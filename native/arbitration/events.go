package arbitration

import (
	"encoding/hex"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeOpened       = "arbitration.opened"
	EventTypeVote         = "arbitration.vote"
	EventTypeResolved     = "arbitration.resolved"
	EventTypeJurorAdded   = "arbitration.juror_added"
	EventTypeJurorRemoved = "arbitration.juror_removed"
)

// NewOpenedEvent returns the canonical payload for a newly escalated dispute.
func NewOpenedEvent(d *Dispute) *types.Event { return newDisputeEvent(EventTypeOpened, d) }

// NewVoteEvent returns the payload for a juror ballot.
func NewVoteEvent(d *Dispute, juror [20]byte, verdict Verdict) *types.Event {
	evt := newDisputeEvent(EventTypeVote, d)
	evt.Attributes["juror"] = hex.EncodeToString(juror[:])
	evt.Attributes["ballot"] = verdict.String()
	return evt
}

// NewResolvedEvent returns the payload emitted when the administrator closes
// the dispute and custody settles.
func NewResolvedEvent(d *Dispute, winner [20]byte) *types.Event {
	evt := newDisputeEvent(EventTypeResolved, d)
	evt.Attributes["winner"] = hex.EncodeToString(winner[:])
	return evt
}

// NewJurorEvent returns the payload for juror-set management operations.
func NewJurorEvent(eventType string, juror [20]byte) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"juror": hex.EncodeToString(juror[:]),
		},
	}
}

func newDisputeEvent(eventType string, d *Dispute) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(d)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["escrow"] = hex.EncodeToString(sanitized.EscrowID[:])
	attrs["plaintiff"] = hex.EncodeToString(sanitized.Plaintiff[:])
	attrs["defendant"] = hex.EncodeToString(sanitized.Defendant[:])
	attrs["votesPlaintiff"] = strconv.FormatUint(sanitized.VotesPlaintiff, 10)
	attrs["votesDefendant"] = strconv.FormatUint(sanitized.VotesDefendant, 10)
	attrs["status"] = sanitized.Status.String()
	attrs["verdict"] = sanitized.Verdict.String()
	attrs["openedAt"] = strconv.FormatUint(sanitized.OpenedAt, 10)
	if sanitized.VotingEnd > 0 {
		attrs["votingEnd"] = strconv.FormatUint(sanitized.VotingEnd, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
