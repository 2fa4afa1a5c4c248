package staking

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"workchain/core/events"
	"workchain/core/types"
)

const (
	// EventTypeStaked is emitted when balance is bonded.
	EventTypeStaked = "stake.bonded"
	// EventTypeUnstaked is emitted when bonded stake is returned.
	EventTypeUnstaked = "stake.unbonded"
)

var (
	errNilState = errors.New("staking engine: state not configured")

	// ErrInsufficientBalance marks bonds without ZWRK coverage.
	ErrInsufficientBalance = errors.New("staking: insufficient balance")
	// ErrInsufficientStake marks unbonds exceeding the bonded amount.
	ErrInsufficientStake = errors.New("staking: insufficient stake")
	// ErrReentrantCall marks operations that re-entered an account while a
	// balance move on the same account was still in flight.
	ErrReentrantCall = errors.New("staking: reentrant call")
)

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type stakeEvent struct {
	evt *types.Event
}

func (e stakeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e stakeEvent) Event() *types.Event { return e.evt }

// Engine moves ZWRK between an account's liquid balance and its bonded stake.
// Both directions update balances under a per-account exclusive latch so a
// transitively re-entered call observes the already-updated state and fails
// its guard instead of double-counting.
type Engine struct {
	state   engineState
	emitter events.Emitter

	mu   sync.Mutex
	busy map[[20]byte]struct{}
}

// NewEngine creates a staking engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		busy:    make(map[[20]byte]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(eventType string, addr [20]byte, amount *big.Int, acc *types.Account) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(stakeEvent{evt: &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account": hex.EncodeToString(addr[:]),
			"amount":  amount.String(),
			"stake":   acc.Stake.String(),
		},
	}})
}

func (e *Engine) acquire(addr [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy == nil {
		e.busy = make(map[[20]byte]struct{})
	}
	if _, held := e.busy[addr]; held {
		return ErrReentrantCall
	}
	e.busy[addr] = struct{}{}
	return nil
}

func (e *Engine) release(addr [20]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, addr)
}

// Stake bonds the given amount of the account's ZWRK balance.
func (e *Engine) Stake(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("staking: amount must be positive")
	}
	if err := e.acquire(addr); err != nil {
		return err
	}
	defer e.release(addr)

	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureBalances()
	if acc.BalanceZWRK.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	acc.BalanceZWRK = new(big.Int).Sub(acc.BalanceZWRK, amount)
	acc.Stake = new(big.Int).Add(acc.Stake, amount)
	if err := e.state.PutAccount(addr[:], acc); err != nil {
		return err
	}
	e.emit(EventTypeStaked, addr, amount, acc)
	return nil
}

// Unstake returns the given amount of bonded stake to the liquid balance.
func (e *Engine) Unstake(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("staking: amount must be positive")
	}
	if err := e.acquire(addr); err != nil {
		return err
	}
	defer e.release(addr)

	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureBalances()
	if acc.Stake.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	acc.Stake = new(big.Int).Sub(acc.Stake, amount)
	acc.BalanceZWRK = new(big.Int).Add(acc.BalanceZWRK, amount)
	if err := e.state.PutAccount(addr[:], acc); err != nil {
		return err
	}
	e.emit(EventTypeUnstaked, addr, amount, acc)
	return nil
}
