package arbitration

import "fmt"

// Status represents the lifecycle of a dispute record. Resolved is absorbing:
// status and verdict never change afterwards.
type Status uint8

const (
	// StatusVoting accepts juror ballots.
	StatusVoting Status = iota
	// StatusResolved is terminal; the verdict has been computed and the
	// custody account settled.
	StatusResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s == StatusVoting || s == StatusResolved
}

// String implements fmt.Stringer for event payloads and logs.
func (s Status) String() string {
	switch s {
	case StatusVoting:
		return "voting"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Verdict enumerates the possible dispute outcomes.
type Verdict uint8

const (
	// VerdictUnresolved is the only verdict a Voting dispute may carry.
	VerdictUnresolved Verdict = iota
	// VerdictPlaintiff favours the party that opened the dispute.
	VerdictPlaintiff
	// VerdictDefendant favours the non-initiating party. Ties resolve here.
	VerdictDefendant
)

// Valid reports whether the verdict value is within the supported range.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictUnresolved, VerdictPlaintiff, VerdictDefendant:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for event payloads and logs.
func (v Verdict) String() string {
	switch v {
	case VerdictUnresolved:
		return "unresolved"
	case VerdictPlaintiff:
		return "plaintiff"
	case VerdictDefendant:
		return "defendant"
	default:
		return "unknown"
	}
}

// Dispute is the per-escalation arbitration record. Created once per locked
// custody account; each juror may cast at most one vote.
type Dispute struct {
	ID             uint64
	EscrowID       [32]byte
	Plaintiff      [20]byte
	Defendant      [20]byte
	VotesPlaintiff uint64
	VotesDefendant uint64
	Status         Status
	Verdict        Verdict
	Voted          [][20]byte
	OpenedAt       uint64
	VotingEnd      uint64
}

// Clone returns a deep copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	if len(d.Voted) > 0 {
		clone.Voted = make([][20]byte, len(d.Voted))
		copy(clone.Voted, d.Voted)
	}
	return &clone
}

// HasVoted reports whether the juror has already cast a ballot.
func (d *Dispute) HasVoted(juror [20]byte) bool {
	if d == nil {
		return false
	}
	for _, voted := range d.Voted {
		if voted == juror {
			return true
		}
	}
	return false
}

// Sanitize validates a dispute record, returning a cloned instance.
func Sanitize(d *Dispute) (*Dispute, error) {
	if d == nil {
		return nil, fmt.Errorf("arbitration: nil dispute")
	}
	clone := d.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("arbitration: invalid status %d", clone.Status)
	}
	if !clone.Verdict.Valid() {
		return nil, fmt.Errorf("arbitration: invalid verdict %d", clone.Verdict)
	}
	if clone.Status == StatusVoting && clone.Verdict != VerdictUnresolved {
		return nil, fmt.Errorf("arbitration: voting dispute must be unresolved")
	}
	if clone.Plaintiff == clone.Defendant {
		return nil, fmt.Errorf("arbitration: plaintiff and defendant must differ")
	}
	return clone, nil
}
