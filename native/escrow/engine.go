package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"workchain/core/events"
	"workchain/core/types"
	"workchain/native/fees"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	// ErrNotFound marks lookups of custody accounts that were never created.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidStatus marks transitions requested from the wrong state.
	ErrInvalidStatus = errors.New("escrow: invalid status for transition")
	// ErrUnauthorized marks callers that are not allowed to drive a transition.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInsufficientBalance marks funding attempts without coverage.
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	// ErrResolverBound is returned when binding a resolver a second time.
	ErrResolverBound = errors.New("escrow: resolver already bound")
	// ErrResolverUnset is returned when a dispute resolution is forced before
	// any resolver was bound.
	ErrResolverUnset = errors.New("escrow: resolver not bound")
	// ErrReentrantCall marks operations that re-entered a custody account
	// while a transfer on the same account was still in flight.
	ErrReentrantCall = errors.New("escrow: reentrant call")
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool, error)
	EscrowCredit(id [32]byte, token string, amt *big.Int) error
	EscrowDebit(id [32]byte, token string, amt *big.Int) error
	EscrowBalance(id [32]byte, token string) (*big.Int, error)
	EscrowVaultAddress(token string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the custody-account state machine with external state and event
// emitters. Fund movement happens here and nowhere else: the sum of released
// and refunded transfers over an account's lifetime is at most one transfer of
// exactly the escrowed amount.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	feeTreasury [20]byte
	nowFn       func() int64

	mu   sync.Mutex
	busy map[[32]byte]struct{}
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		busy:    make(map[[32]byte]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeeTreasury configures the address that receives release fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// acquire takes the per-account exclusive latch held across any operation that
// moves funds. A transitively re-entered call on the same account fails here
// instead of observing half-applied balances.
func (e *Engine) acquire(id [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy == nil {
		e.busy = make(map[[32]byte]struct{})
	}
	if _, held := e.busy[id]; held {
		return ErrReentrantCall
	}
	e.busy[id] = struct{}{}
	return nil
}

func (e *Engine) release(id [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, id)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	toAcc = toAcc.EnsureBalances()
	switch normalized {
	case "WRK":
		if fromAcc.BalanceWRK.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceWRK = new(big.Int).Sub(fromAcc.BalanceWRK, amt)
		toAcc.BalanceWRK = new(big.Int).Add(toAcc.BalanceWRK, amt)
	case "ZWRK":
		if fromAcc.BalanceZWRK.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceZWRK = new(big.Int).Sub(fromAcc.BalanceZWRK, amt)
		toAcc.BalanceZWRK = new(big.Int).Add(toAcc.BalanceZWRK, amt)
	default:
		return fmt.Errorf("escrow: unsupported token %s", token)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	return nil
}

func (e *Engine) balanceOf(addr [20]byte, token string) (*big.Int, error) {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	acc = acc.EnsureBalances()
	switch token {
	case "WRK":
		return new(big.Int).Set(acc.BalanceWRK), nil
	case "ZWRK":
		return new(big.Int).Set(acc.BalanceZWRK), nil
	default:
		return nil, fmt.Errorf("escrow: unsupported token %s", token)
	}
}

// ComputeID derives the deterministic custody-account identifier for the
// owning project and its two parties.
func ComputeID(projectID [32]byte, depositor, beneficiary [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash(projectID[:], depositor[:], beneficiary[:])
}

// Create initialises and persists a new custody account in the
// AwaitingFunding state. It is invoked exactly once per project, by the
// owning engagement record at hire time.
func (e *Engine) Create(projectID [32]byte, depositor, beneficiary [20]byte, token string, amount *big.Int, feeBps uint32) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalizedToken, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if feeBps > 10_000 {
		return nil, fmt.Errorf("escrow: fee bps out of range")
	}
	if depositor == beneficiary {
		return nil, fmt.Errorf("escrow: depositor and beneficiary must differ")
	}
	id := ComputeID(projectID, depositor, beneficiary)
	if _, ok, err := e.state.EscrowGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("escrow: identifier already exists")
	}
	esc := &Escrow{
		ID:          id,
		ProjectID:   projectID,
		Depositor:   depositor,
		Beneficiary: beneficiary,
		Token:       normalizedToken,
		Amount:      amt,
		FeeBps:      feeBps,
		CreatedAt:   uint64(e.now()),
		Status:      StatusAwaitingFunding,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Get returns a copy of the custody account with the given identifier.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	return e.loadEscrow(id)
}

// Fund pulls the escrowed amount from the depositor's balance into the module
// vault and marks the account funded. An insufficient depositor balance fails
// the operation with no state change.
func (e *Engine) Fund(id [32]byte, caller [20]byte) error {
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusAwaitingFunding {
		return fmt.Errorf("%w: cannot fund in status %s", ErrInvalidStatus, esc.Status)
	}
	if esc.Depositor != caller {
		return fmt.Errorf("%w: only the depositor may fund", ErrUnauthorized)
	}
	balance, err := e.balanceOf(esc.Depositor, esc.Token)
	if err != nil {
		return err
	}
	if balance.Cmp(esc.Amount) < 0 {
		return ErrInsufficientBalance
	}
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	// Status is persisted before the value transfer so a reentered call on
	// this account observes Funded and is rejected by its own guard. A
	// storage fault between the status write and the vault credit is fatal
	// to the node, not retryable; payOut re-checks vault coverage before any
	// payout, so a Funded account with no vault holding cannot pay out.
	esc.Status = StatusFunded
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.transferToken(esc.Depositor, vault, esc.Token, esc.Amount); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(id, esc.Token, esc.Amount); err != nil {
		return err
	}
	e.emit(NewFundedEvent(esc))
	return nil
}

// Release settles the account in favour of the beneficiary. Only the
// depositor may call it, and only from the Funded state; the engagement
// record exposes this path through its Review->Completed transition.
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return fmt.Errorf("%w: cannot release in status %s", ErrInvalidStatus, esc.Status)
	}
	if esc.Depositor != caller {
		return fmt.Errorf("%w: only the depositor may release", ErrUnauthorized)
	}
	if err := e.payOut(esc, esc.Beneficiary, StatusReleased, true); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc))
	return nil
}

// LockForDispute freezes a funded account pending arbitration. Either party
// may lock; no funds move.
func (e *Engine) LockForDispute(id [32]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return fmt.Errorf("%w: cannot lock in status %s", ErrInvalidStatus, esc.Status)
	}
	if caller != esc.Depositor && caller != esc.Beneficiary {
		return fmt.Errorf("%w: only the depositor or beneficiary may lock", ErrUnauthorized)
	}
	esc.Status = StatusLocked
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewLockedEvent(esc))
	return nil
}

// BindResolver permanently binds the arbitration identity allowed to force a
// settlement on a locked account. Only the depositor may bind, and only once.
func (e *Engine) BindResolver(id [32]byte, caller, resolver [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Depositor != caller {
		return fmt.Errorf("%w: only the depositor may bind a resolver", ErrUnauthorized)
	}
	if esc.ResolverBound() {
		return ErrResolverBound
	}
	if resolver == ([20]byte{}) {
		return fmt.Errorf("escrow: resolver address required")
	}
	esc.Resolver = resolver
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewResolverBoundEvent(esc))
	return nil
}

// ResolveDispute forces the terminal transfer on a locked account according to
// an external arbitration verdict. Only the bound resolver may call it. A
// winner equal to the beneficiary releases (fee applies), any other winner
// refunds the depositor in full.
func (e *Engine) ResolveDispute(id [32]byte, caller, winner [20]byte) error {
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusLocked {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidStatus, esc.Status)
	}
	if !esc.ResolverBound() {
		return ErrResolverUnset
	}
	if esc.Resolver != caller {
		return fmt.Errorf("%w: only the bound resolver may resolve", ErrUnauthorized)
	}
	if winner == esc.Beneficiary {
		if err := e.payOut(esc, esc.Beneficiary, StatusReleased, true); err != nil {
			return err
		}
	} else {
		if err := e.payOut(esc, esc.Depositor, StatusRefunded, false); err != nil {
			return err
		}
	}
	e.emit(NewResolvedEvent(esc, winner))
	return nil
}

// payOut performs the single terminal transfer out of the vault. The caller
// has already validated status and authorization; payOut re-checks vault
// coverage, persists the terminal status, then moves funds.
func (e *Engine) payOut(esc *Escrow, recipient [20]byte, terminal Status, applyFee bool) error {
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	total := cloneBigInt(esc.Amount)
	if total.Sign() <= 0 {
		return fmt.Errorf("escrow: amount must be positive")
	}
	held, err := e.state.EscrowBalance(esc.ID, esc.Token)
	if err != nil {
		return err
	}
	if held.Cmp(total) < 0 {
		return ErrInsufficientBalance
	}
	fee := big.NewInt(0)
	net := total
	if applyFee && esc.FeeBps > 0 && e.feeTreasury != ([20]byte{}) {
		fee, net = fees.Split(total, esc.FeeBps)
	}
	esc.Status = terminal
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if net.Sign() > 0 {
		if err := e.transferToken(vault, recipient, esc.Token, net); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := e.transferToken(vault, e.feeTreasury, esc.Token, fee); err != nil {
			return err
		}
	}
	return e.state.EscrowDebit(esc.ID, esc.Token, total)
}
