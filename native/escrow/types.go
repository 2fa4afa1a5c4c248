package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of a custody account. Released and
// Refunded are absorbing: no transition leaves them.
type Status uint8

const (
	// StatusAwaitingFunding marks accounts created at hire time whose budget
	// has not been pulled from the depositor yet.
	StatusAwaitingFunding Status = iota
	// StatusFunded marks accounts holding the full budget in the module vault.
	StatusFunded
	// StatusReleased marks accounts whose funds were paid to the beneficiary.
	StatusReleased
	// StatusRefunded marks accounts whose funds were returned to the depositor
	// after arbitration.
	StatusRefunded
	// StatusLocked marks accounts frozen by a dispute; only the bound resolver
	// can move funds out of this state.
	StatusLocked
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingFunding, StatusFunded, StatusReleased, StatusRefunded, StatusLocked:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for event payloads and logs.
func (s Status) String() string {
	switch s {
	case StatusAwaitingFunding:
		return "awaiting_funding"
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Escrow captures the immutable terms and runtime status of a single custody
// account. Depositor, beneficiary, token and amount are fixed at creation;
// the resolver is bind-once and empty until the depositor sets it.
type Escrow struct {
	ID          [32]byte
	ProjectID   [32]byte
	Depositor   [20]byte
	Beneficiary [20]byte
	Resolver    [20]byte
	Token       string
	Amount      *big.Int
	FeeBps      uint32
	CreatedAt   uint64
	Status      Status
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// ResolverBound reports whether a dispute resolver has been bound.
func (e *Escrow) ResolverBound() bool {
	return e != nil && e.Resolver != ([20]byte{})
}

// NormalizeToken ensures the provided token symbol matches a supported value
// ("WRK" or "ZWRK") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "WRK", "ZWRK":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported escrow token: %s", symbol)
	}
}

// Sanitize validates and normalises the supplied escrow definition, returning
// a cloned instance with canonical token casing and a non-nil amount field.
// The function does not mutate the original value.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount == nil {
		clone.Amount = big.NewInt(0)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if clone.FeeBps > 10_000 {
		return nil, fmt.Errorf("escrow fee bps out of range: %d", clone.FeeBps)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}
