package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"workchain/core/events"
	"workchain/core/types"
	"workchain/native/common"
	"workchain/native/escrow"
)

// ModuleName identifies this module to the pause guard.
const ModuleName = "arbitration"

var (
	errNilState   = errors.New("arbitration engine: state not configured")
	errNilCustody = errors.New("arbitration engine: custody engine not configured")

	// ErrNotFound marks lookups of disputes that were never opened.
	ErrNotFound = errors.New("arbitration: dispute not found")
	// ErrInvalidStatus marks operations against a resolved dispute.
	ErrInvalidStatus = errors.New("arbitration: invalid status for operation")
	// ErrUnauthorized marks callers without standing for an operation.
	ErrUnauthorized = errors.New("arbitration: unauthorized caller")
	// ErrNotJuror marks ballots from accounts outside the juror set.
	ErrNotJuror = errors.New("arbitration: caller is not a registered juror")
	// ErrAlreadyVoted marks a second ballot from the same juror.
	ErrAlreadyVoted = errors.New("arbitration: juror already voted")
	// ErrInvalidVerdict marks ballots that are neither plaintiff nor defendant.
	ErrInvalidVerdict = errors.New("arbitration: invalid vote verdict")
	// ErrDisputeExists marks a second escalation of the same custody account.
	ErrDisputeExists = errors.New("arbitration: dispute already open for escrow")
	// ErrVotingClosed marks ballots cast after the configured voting deadline.
	ErrVotingClosed = errors.New("arbitration: voting period closed")
	// ErrInsufficientStake marks juror candidates below the stake floor.
	ErrInsufficientStake = errors.New("arbitration: juror stake below minimum")
)

type arbitrationState interface {
	NextDisputeID() (uint64, error)
	DisputePut(*Dispute) error
	DisputeGet(id uint64) (*Dispute, bool, error)
	DisputeIDForEscrow(escrowID [32]byte) (uint64, bool, error)
	DisputeIndexPut(escrowID [32]byte, id uint64) error
	JurorAdd(addr [20]byte) error
	JurorRemove(addr [20]byte) error
	IsJuror(addr [20]byte) (bool, error)
	Jurors() ([][20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
}

// custodyEngine is the capability surface the authority holds over locked
// custody accounts: read access for standing checks and the forced terminal
// settlement invoked with the authority's bound resolver identity.
type custodyEngine interface {
	Get(id [32]byte) (*escrow.Escrow, error)
	ResolveDispute(id [32]byte, caller, winner [20]byte) error
}

type arbitrationEvent struct {
	evt *types.Event
}

func (e arbitrationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e arbitrationEvent) Event() *types.Event { return e.evt }

// Engine collects binary juror votes on escalated disputes and is the one
// external actor trusted to force a release or refund on a locked custody
// account. The authority address is the identity bound as resolver on every
// custody account; the admin address gates juror management and resolution.
type Engine struct {
	state         arbitrationState
	custody       custodyEngine
	emitter       events.Emitter
	pauses        common.PauseView
	admin         [20]byte
	authority     [20]byte
	votingPeriod  uint64
	minJurorStake *big.Int
	nowFn         func() int64
}

// NewEngine creates an arbitration engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state arbitrationState) { e.state = state }

// SetCustody wires the custody-account engine settlements are forced on.
func (e *Engine) SetCustody(custody custodyEngine) { e.custody = custody }

// SetPauses wires the module pause view consulted before every mutation.
func (e *Engine) SetPauses(pauses common.PauseView) { e.pauses = pauses }

// SetAdmin configures the administrator identity gating juror management and
// dispute resolution.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetAuthority configures the identity this engine presents as the bound
// dispute resolver when settling custody accounts.
func (e *Engine) SetAuthority(addr [20]byte) { e.authority = addr }

// SetVotingPeriod configures the optional voting deadline in seconds. Zero
// disables deadline enforcement.
func (e *Engine) SetVotingPeriod(seconds uint64) { e.votingPeriod = seconds }

// SetMinJurorStake configures the optional stake floor checked when adding
// jurors. Nil or zero disables the check.
func (e *Engine) SetMinJurorStake(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		e.minJurorStake = nil
		return
	}
	e.minJurorStake = new(big.Int).Set(amount)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(arbitrationEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	return common.Guard(e.pauses, ModuleName)
}

func (e *Engine) loadDispute(id uint64) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok, err := e.state.DisputeGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// Get returns a copy of the dispute with the given identifier.
func (e *Engine) Get(id uint64) (*Dispute, error) {
	d, err := e.loadDispute(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// ForEscrow returns the dispute escalated for a custody account, if any.
func (e *Engine) ForEscrow(escrowID [32]byte) (*Dispute, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	id, ok, err := e.state.DisputeIDForEscrow(escrowID)
	if err != nil || !ok {
		return nil, false, err
	}
	d, err := e.Get(id)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// OpenDispute escalates a locked custody account into arbitration. Only the
// account's depositor or beneficiary has standing; the caller becomes the
// plaintiff and the counterparty the defendant. One dispute per escrow.
func (e *Engine) OpenDispute(escrowID [32]byte, caller [20]byte) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.custody == nil {
		return nil, errNilCustody
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.custody.Get(escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status != escrow.StatusLocked {
		return nil, fmt.Errorf("%w: escrow is not locked", ErrInvalidStatus)
	}
	var defendant [20]byte
	switch caller {
	case esc.Depositor:
		defendant = esc.Beneficiary
	case esc.Beneficiary:
		defendant = esc.Depositor
	default:
		return nil, fmt.Errorf("%w: only the escrow parties may open a dispute", ErrUnauthorized)
	}
	if _, exists, err := e.state.DisputeIDForEscrow(escrowID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDisputeExists
	}
	id, err := e.state.NextDisputeID()
	if err != nil {
		return nil, err
	}
	now := uint64(e.now())
	d := &Dispute{
		ID:        id,
		EscrowID:  escrowID,
		Plaintiff: caller,
		Defendant: defendant,
		Status:    StatusVoting,
		Verdict:   VerdictUnresolved,
		OpenedAt:  now,
	}
	if e.votingPeriod > 0 {
		d.VotingEnd = now + e.votingPeriod
	}
	if err := e.state.DisputePut(d); err != nil {
		return nil, err
	}
	if err := e.state.DisputeIndexPut(escrowID, id); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(d))
	return d.Clone(), nil
}

// CastVote records a juror's ballot. Each juror votes at most once per
// dispute; only plaintiff or defendant are valid verdicts.
func (e *Engine) CastVote(disputeID uint64, juror [20]byte, verdict Verdict) error {
	if err := e.guard(); err != nil {
		return err
	}
	d, err := e.loadDispute(disputeID)
	if err != nil {
		return err
	}
	if d.Status != StatusVoting {
		return fmt.Errorf("%w: dispute is not voting", ErrInvalidStatus)
	}
	if d.VotingEnd > 0 && uint64(e.now()) > d.VotingEnd {
		return ErrVotingClosed
	}
	if verdict != VerdictPlaintiff && verdict != VerdictDefendant {
		return ErrInvalidVerdict
	}
	isJuror, err := e.state.IsJuror(juror)
	if err != nil {
		return err
	}
	if !isJuror {
		return ErrNotJuror
	}
	if d.HasVoted(juror) {
		return ErrAlreadyVoted
	}
	switch verdict {
	case VerdictPlaintiff:
		d.VotesPlaintiff++
	case VerdictDefendant:
		d.VotesDefendant++
	}
	d.Voted = append(d.Voted, juror)
	if err := e.state.DisputePut(d); err != nil {
		return err
	}
	e.emit(NewVoteEvent(d, juror, verdict))
	return nil
}

// Resolve computes the verdict from the tallies and forces the corresponding
// terminal transfer on the locked custody account. Only the administrator may
// resolve; the side with strictly more votes wins and ties resolve in favour
// of the defendant, the non-initiating party.
func (e *Engine) Resolve(disputeID uint64, caller [20]byte) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.custody == nil {
		return nil, errNilCustody
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.admin == ([20]byte{}) || caller != e.admin {
		return nil, fmt.Errorf("%w: only the administrator may resolve", ErrUnauthorized)
	}
	d, err := e.loadDispute(disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusVoting {
		return nil, fmt.Errorf("%w: dispute already resolved", ErrInvalidStatus)
	}
	verdict := VerdictDefendant
	if d.VotesPlaintiff > d.VotesDefendant {
		verdict = VerdictPlaintiff
	}
	winner := d.Defendant
	if verdict == VerdictPlaintiff {
		winner = d.Plaintiff
	}
	// The custody settlement commits first; a failed settlement leaves the
	// dispute in Voting so a later Resolve can retry it.
	if err := e.custody.ResolveDispute(d.EscrowID, e.authority, winner); err != nil {
		return nil, err
	}
	d.Status = StatusResolved
	d.Verdict = verdict
	if err := e.state.DisputePut(d); err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(d, winner))
	return d.Clone(), nil
}

// AddJuror registers an account as eligible to vote on disputes. Only the
// administrator may add; when a stake floor is configured the candidate's
// bonded stake must meet it.
func (e *Engine) AddJuror(caller, juror [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(); err != nil {
		return err
	}
	if e.admin == ([20]byte{}) || caller != e.admin {
		return fmt.Errorf("%w: only the administrator may manage jurors", ErrUnauthorized)
	}
	if juror == ([20]byte{}) {
		return fmt.Errorf("arbitration: juror address required")
	}
	if e.minJurorStake != nil {
		acc, err := e.state.GetAccount(juror[:])
		if err != nil {
			return err
		}
		acc = acc.EnsureBalances()
		if acc.Stake.Cmp(e.minJurorStake) < 0 {
			return ErrInsufficientStake
		}
	}
	if err := e.state.JurorAdd(juror); err != nil {
		return err
	}
	e.emit(NewJurorEvent(EventTypeJurorAdded, juror))
	return nil
}

// RemoveJuror strips an account's juror eligibility. Existing ballots on open
// disputes are not retracted.
func (e *Engine) RemoveJuror(caller, juror [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(); err != nil {
		return err
	}
	if e.admin == ([20]byte{}) || caller != e.admin {
		return fmt.Errorf("%w: only the administrator may manage jurors", ErrUnauthorized)
	}
	if err := e.state.JurorRemove(juror); err != nil {
		return err
	}
	e.emit(NewJurorEvent(EventTypeJurorRemoved, juror))
	return nil
}

// Jurors returns the registered juror set.
func (e *Engine) Jurors() ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.Jurors()
}
