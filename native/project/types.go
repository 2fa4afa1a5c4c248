package project

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of an engagement record. The
// ordering Open < InProgress < Review < {Completed, InDispute} is strict:
// no transition ever decreases it. Cancelled is reachable from Open only.
type Status uint8

const (
	// StatusOpen accepts proposals; the only state in which the registry
	// entry has no custody account.
	StatusOpen Status = iota
	// StatusInProgress marks hired engagements with a bound custody account.
	StatusInProgress
	// StatusReview marks engagements whose worker has submitted the work.
	StatusReview
	// StatusCompleted is terminal; entered only via client acceptance, the
	// sole non-arbitrated payout path.
	StatusCompleted
	// StatusInDispute is terminal for the engagement record itself; the
	// custody account resolves the underlying fund state separately.
	StatusInDispute
	// StatusCancelled is terminal; reachable from Open only, before any
	// custody account exists.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusReview, StatusCompleted, StatusInDispute, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status has no outgoing transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusInDispute, StatusCancelled:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for event payloads and logs.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusInProgress:
		return "in_progress"
	case StatusReview:
		return "review"
	case StatusCompleted:
		return "completed"
	case StatusInDispute:
		return "in_dispute"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Project is the per-engagement state machine record. Client, token and
// budget are immutable; Worker and EscrowID are set exactly once, at the
// Open->InProgress transition. Title and description live only in the
// creation event (announcement channel), not in state.
type Project struct {
	ID        [32]byte
	Client    [20]byte
	Worker    [20]byte
	Token     string
	Budget    *big.Int
	EscrowID  [32]byte
	Status    Status
	Proposals uint64
	CreatedAt uint64
	UpdatedAt uint64
}

// Clone returns a deep copy of the project record.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Budget != nil {
		clone.Budget = new(big.Int).Set(p.Budget)
	} else {
		clone.Budget = big.NewInt(0)
	}
	return &clone
}

// Hired reports whether a worker has been bound.
func (p *Project) Hired() bool {
	return p != nil && p.Worker != ([20]byte{})
}

// Proposal is an immutable bid submitted by a candidate worker for one
// engagement. Only the owning engagement may flip Accepted, exactly once.
type Proposal struct {
	ProjectID   [32]byte
	Candidate   [20]byte
	Cost        *big.Int
	Details     string
	Accepted    bool
	SubmittedAt uint64
}

// Clone returns a deep copy of the proposal record.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Cost != nil {
		clone.Cost = new(big.Int).Set(p.Cost)
	} else {
		clone.Cost = big.NewInt(0)
	}
	return &clone
}

// SanitizeProject validates and normalises a project record, returning a
// cloned instance. The function does not mutate the original value.
func SanitizeProject(p *Project) (*Project, error) {
	if p == nil {
		return nil, fmt.Errorf("project: nil project")
	}
	clone := p.Clone()
	token := strings.ToUpper(strings.TrimSpace(clone.Token))
	if token == "" {
		return nil, fmt.Errorf("project: token required")
	}
	clone.Token = token
	if clone.Budget == nil || clone.Budget.Sign() <= 0 {
		return nil, fmt.Errorf("project: budget must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("project: invalid status %d", clone.Status)
	}
	return clone, nil
}

// SanitizeProposal validates a proposal record, returning a cloned instance.
func SanitizeProposal(p *Proposal) (*Proposal, error) {
	if p == nil {
		return nil, fmt.Errorf("project: nil proposal")
	}
	clone := p.Clone()
	if clone.Candidate == ([20]byte{}) {
		return nil, fmt.Errorf("project: proposal candidate required")
	}
	if clone.Cost == nil || clone.Cost.Sign() <= 0 {
		return nil, fmt.Errorf("project: proposal cost must be positive")
	}
	return clone, nil
}
