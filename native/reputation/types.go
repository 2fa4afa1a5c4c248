package reputation

// Profile aggregates the reputation standing of one account. The scoring
// formula itself lives off-chain; this ledger only records the resulting
// score and the completed-engagement counter.
type Profile struct {
	ReputationScore   uint64
	ProjectsCompleted uint64
	UpdatedAt         uint64
}

// Clone returns a copy safe for modification.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return &Profile{}
	}
	clone := *p
	return &clone
}
