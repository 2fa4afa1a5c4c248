package project

import (
	"encoding/hex"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeCreated           = "project.created"
	EventTypeProposalSubmitted = "project.proposal_submitted"
	EventTypeProposalAccepted  = "project.proposal_accepted"
	EventTypeHired             = "project.hired"
	EventTypeWorkSubmitted     = "project.work_submitted"
	EventTypeCompleted         = "project.completed"
	EventTypeDisputed          = "project.disputed"
	EventTypeCancelled         = "project.cancelled"
	EventTypeAuthorityUpdated  = "project.authority_updated"
)

// NewCreatedEvent returns the creation announcement. Title and description
// ride on the event only; they are deliberately kept out of persistent state
// and consumed by off-chain indexers.
func NewCreatedEvent(p *Project, title, description string) *types.Event {
	evt := newProjectEvent(EventTypeCreated, p)
	evt.Attributes["title"] = title
	evt.Attributes["description"] = description
	return evt
}

// NewProposalSubmittedEvent returns the canonical payload for a new bid.
func NewProposalSubmittedEvent(p *Proposal) *types.Event {
	return newProposalEvent(EventTypeProposalSubmitted, p)
}

// NewProposalAcceptedEvent returns the payload emitted when the owning
// engagement accepts a bid at hire time.
func NewProposalAcceptedEvent(p *Proposal) *types.Event {
	return newProposalEvent(EventTypeProposalAccepted, p)
}

// NewHiredEvent returns the payload for the Open->InProgress transition.
func NewHiredEvent(p *Project) *types.Event { return newProjectEvent(EventTypeHired, p) }

// NewWorkSubmittedEvent returns the payload for the InProgress->Review
// transition.
func NewWorkSubmittedEvent(p *Project) *types.Event {
	return newProjectEvent(EventTypeWorkSubmitted, p)
}

// NewCompletedEvent returns the payload for client acceptance.
func NewCompletedEvent(p *Project) *types.Event { return newProjectEvent(EventTypeCompleted, p) }

// NewDisputedEvent returns the payload emitted when either party escalates.
func NewDisputedEvent(p *Project, raisedBy [20]byte) *types.Event {
	evt := newProjectEvent(EventTypeDisputed, p)
	evt.Attributes["raisedBy"] = hex.EncodeToString(raisedBy[:])
	return evt
}

// NewCancelledEvent returns the payload for a pre-hire withdrawal.
func NewCancelledEvent(p *Project) *types.Event { return newProjectEvent(EventTypeCancelled, p) }

// NewAuthorityUpdatedEvent returns the payload emitted when the governance
// authority rebinds itself.
func NewAuthorityUpdatedEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAuthorityUpdated,
		Attributes: map[string]string{
			"previous": hex.EncodeToString(previous[:]),
			"next":     hex.EncodeToString(next[:]),
		},
	}
}

func newProjectEvent(eventType string, p *Project) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeProject(p)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["client"] = hex.EncodeToString(sanitized.Client[:])
	attrs["token"] = sanitized.Token
	attrs["budget"] = sanitized.Budget.String()
	attrs["status"] = sanitized.Status.String()
	attrs["proposals"] = strconv.FormatUint(sanitized.Proposals, 10)
	attrs["createdAt"] = strconv.FormatUint(sanitized.CreatedAt, 10)
	if sanitized.Hired() {
		attrs["worker"] = hex.EncodeToString(sanitized.Worker[:])
		attrs["escrow"] = hex.EncodeToString(sanitized.EscrowID[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newProposalEvent(eventType string, p *Proposal) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeProposal(p)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["project"] = hex.EncodeToString(sanitized.ProjectID[:])
	attrs["candidate"] = hex.EncodeToString(sanitized.Candidate[:])
	attrs["cost"] = sanitized.Cost.String()
	attrs["accepted"] = strconv.FormatBool(sanitized.Accepted)
	attrs["submittedAt"] = strconv.FormatUint(sanitized.SubmittedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
