package escrow

import (
	"encoding/hex"
	"strconv"

	"workchain/core/types"
)

const (
	EventTypeCreated       = "escrow.created"
	EventTypeFunded        = "escrow.funded"
	EventTypeReleased      = "escrow.released"
	EventTypeRefunded      = "escrow.refunded"
	EventTypeLocked        = "escrow.locked"
	EventTypeResolverBound = "escrow.resolver_bound"
	EventTypeResolved      = "escrow.resolved"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// custody account.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

// NewFundedEvent returns the canonical event payload emitted when the
// depositor's budget lands in the vault.
func NewFundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeFunded, e) }

// NewReleasedEvent returns the canonical event payload for a release of the
// escrowed funds to the beneficiary.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeReleased, e) }

// NewLockedEvent returns the canonical event payload emitted when an account
// is frozen pending arbitration.
func NewLockedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeLocked, e) }

// NewResolverBoundEvent returns the canonical event payload emitted when the
// arbitration identity is bound.
func NewResolverBoundEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeResolverBound, e) }

// NewResolvedEvent returns the canonical event payload emitted when an
// arbitration verdict forces the terminal transfer.
func NewResolvedEvent(e *Escrow, winner [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeResolved, e)
	evt.Attributes["winner"] = hex.EncodeToString(winner[:])
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["project"] = hex.EncodeToString(sanitized.ProjectID[:])
	attrs["depositor"] = hex.EncodeToString(sanitized.Depositor[:])
	attrs["beneficiary"] = hex.EncodeToString(sanitized.Beneficiary[:])
	attrs["token"] = sanitized.Token
	attrs["amount"] = sanitized.Amount.String()
	attrs["feeBps"] = strconv.FormatUint(uint64(sanitized.FeeBps), 10)
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatUint(sanitized.CreatedAt, 10)
	if sanitized.ResolverBound() {
		attrs["resolver"] = hex.EncodeToString(sanitized.Resolver[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
