package reputation

import (
	"encoding/hex"
	"strconv"

	"workchain/core/events"
	"workchain/core/types"
)

// EventTypeUpdated is emitted whenever an account's profile changes.
const EventTypeUpdated = "reputation.updated"

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Engine wires higher-level operations against the ledger abstraction. It
// wraps the persistence layer so modules can update reputation standing
// without re-implementing storage concerns.
type Engine struct {
	ledger  *Ledger
	emitter events.Emitter
}

// NewEngine constructs an engine backed by the provided storage backend.
func NewEngine(store storage) *Engine {
	engine := &Engine{emitter: events.NoopEmitter{}}
	if store != nil {
		engine.ledger = NewLedger(store)
	}
	return engine
}

// SetNowFunc overrides the wall clock used by the underlying ledger.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || e.ledger == nil {
		return
	}
	e.ledger.SetNowFunc(now)
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(account [20]byte, profile *Profile) {
	if e == nil || e.emitter == nil || profile == nil {
		return
	}
	e.emitter.Emit(reputationEvent{evt: &types.Event{
		Type: EventTypeUpdated,
		Attributes: map[string]string{
			"account":           hex.EncodeToString(account[:]),
			"reputationScore":   strconv.FormatUint(profile.ReputationScore, 10),
			"projectsCompleted": strconv.FormatUint(profile.ProjectsCompleted, 10),
		},
	}})
}

// GetProfile fetches the stored profile for an account.
func (e *Engine) GetProfile(account [20]byte) (*Profile, bool, error) {
	if e == nil || e.ledger == nil {
		return nil, false, ErrNotInitialised
	}
	return e.ledger.Get(account)
}

// UpdateReputation overwrites the account's reputation score.
func (e *Engine) UpdateReputation(account [20]byte, score uint64) error {
	if e == nil || e.ledger == nil {
		return ErrNotInitialised
	}
	profile, _, err := e.ledger.Get(account)
	if err != nil {
		return err
	}
	profile.ReputationScore = score
	if err := e.ledger.Put(account, profile); err != nil {
		return err
	}
	e.emit(account, profile)
	return nil
}

// IncrementProjectsCompleted bumps the completed-engagement counter. Invoked
// by the project engine when an engagement reaches Completed.
func (e *Engine) IncrementProjectsCompleted(account [20]byte) error {
	if e == nil || e.ledger == nil {
		return ErrNotInitialised
	}
	profile, _, err := e.ledger.Get(account)
	if err != nil {
		return err
	}
	profile.ProjectsCompleted++
	if err := e.ledger.Put(account, profile); err != nil {
		return err
	}
	e.emit(account, profile)
	return nil
}
