package reputation

import (
	"errors"
	"fmt"
	"time"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var profilePrefix = []byte("reputation/profile/")

func profileKey(account [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, account))
}

// ErrNotInitialised marks ledgers constructed without a storage backend.
var ErrNotInitialised = errors.New("reputation: ledger not initialised")

// Ledger persists per-account reputation profiles.
type Ledger struct {
	store storage
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store: store,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock used for update stamps. Primarily
// leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// Get fetches the profile for an account. Accounts without history return a
// zero profile and ok=false.
func (l *Ledger) Get(account [20]byte) (*Profile, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrNotInitialised
	}
	profile := &Profile{}
	ok, err := l.store.KVGet(profileKey(account), profile)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &Profile{}, false, nil
	}
	return profile, true, nil
}

// Put stores the supplied profile, stamping the update time.
func (l *Ledger) Put(account [20]byte, profile *Profile) error {
	if l == nil || l.store == nil {
		return ErrNotInitialised
	}
	if profile == nil {
		return errors.New("reputation: profile required")
	}
	stored := profile.Clone()
	stored.UpdatedAt = uint64(l.now())
	return l.store.KVPut(profileKey(account), stored)
}
