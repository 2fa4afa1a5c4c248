package reputation

import (
	"bytes"
	"errors"
	"testing"
)

type memStore struct {
	profiles map[string]*Profile
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[string]*Profile)}
}

func (m *memStore) KVPut(key []byte, value interface{}) error {
	profile, ok := value.(*Profile)
	if !ok {
		return errors.New("memStore: unexpected value type")
	}
	m.profiles[string(key)] = profile.Clone()
	return nil
}

func (m *memStore) KVGet(key []byte, out interface{}) (bool, error) {
	profile, ok := m.profiles[string(key)]
	if !ok {
		return false, nil
	}
	dst, okDst := out.(*Profile)
	if !okDst {
		return false, errors.New("memStore: unexpected destination type")
	}
	*dst = *profile
	return true, nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestGetProfileDefaultsToZero(t *testing.T) {
	engine := NewEngine(newMemStore())
	profile, ok, err := engine.GetProfile(newTestAddress(0x01))
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if ok {
		t.Fatalf("expected no stored profile")
	}
	if profile.ReputationScore != 0 || profile.ProjectsCompleted != 0 {
		t.Fatalf("expected zero profile, got %+v", profile)
	}
}

func TestUpdateReputationStampsTime(t *testing.T) {
	engine := NewEngine(newMemStore())
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	account := newTestAddress(0x01)

	if err := engine.UpdateReputation(account, 87); err != nil {
		t.Fatalf("update reputation: %v", err)
	}
	profile, ok, err := engine.GetProfile(account)
	if err != nil || !ok {
		t.Fatalf("get profile: %v", err)
	}
	if profile.ReputationScore != 87 {
		t.Fatalf("expected score 87, got %d", profile.ReputationScore)
	}
	if profile.UpdatedAt != 1_700_000_000 {
		t.Fatalf("expected update stamp, got %d", profile.UpdatedAt)
	}
}

func TestIncrementProjectsCompleted(t *testing.T) {
	engine := NewEngine(newMemStore())
	account := newTestAddress(0x01)

	for i := 0; i < 3; i++ {
		if err := engine.IncrementProjectsCompleted(account); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	profile, _, err := engine.GetProfile(account)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.ProjectsCompleted != 3 {
		t.Fatalf("expected 3 completions, got %d", profile.ProjectsCompleted)
	}
	// Counter updates leave the score untouched.
	if profile.ReputationScore != 0 {
		t.Fatalf("expected untouched score, got %d", profile.ReputationScore)
	}
}

func TestEngineWithoutStore(t *testing.T) {
	engine := NewEngine(nil)
	if _, _, err := engine.GetProfile(newTestAddress(0x01)); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected not initialised, got %v", err)
	}
	if err := engine.IncrementProjectsCompleted(newTestAddress(0x01)); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected not initialised, got %v", err)
	}
}
