package project

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"workchain/core/events"
	"workchain/core/types"
	"workchain/native/common"
	"workchain/native/escrow"
	"workchain/native/fees"
)

// ModuleName identifies this module to the pause guard.
const ModuleName = "project"

var (
	errNilState = errors.New("project engine: state not configured")

	// ErrNotFound marks lookups of engagements that were never created.
	ErrNotFound = errors.New("project: not found")
	// ErrInvalidStatus marks transitions requested from the wrong state.
	ErrInvalidStatus = errors.New("project: invalid status for transition")
	// ErrUnauthorized marks callers that may not drive a transition.
	ErrUnauthorized = errors.New("project: unauthorized caller")
	// ErrDuplicateProposal marks a second bid from the same candidate.
	ErrDuplicateProposal = errors.New("project: candidate already submitted a proposal")
	// ErrProposalNotFound marks hires of candidates without a bid.
	ErrProposalNotFound = errors.New("project: proposal not found")
)

type projectState interface {
	NextProjectSeq() (uint64, error)
	ProjectPut(*Project) error
	ProjectGet(id [32]byte) (*Project, bool, error)
	ProjectRegistryAppend(id [32]byte) error
	ProjectRegistryList() ([][32]byte, error)
	ProposalPut(*Proposal) error
	ProposalGet(projectID [32]byte, candidate [20]byte) (*Proposal, bool, error)
	ProposalCandidates(projectID [32]byte) ([][20]byte, error)
	GovernanceAuthorityGet() ([20]byte, bool, error)
	GovernanceAuthoritySet(addr [20]byte) error
}

// custodyEngine is the capability surface the engagement record holds over
// its spawned custody account. The owner drives these privileged operations
// with the client's (depositor's) identity; arbitrary callers never reach
// them directly.
type custodyEngine interface {
	Create(projectID [32]byte, depositor, beneficiary [20]byte, token string, amount *big.Int, feeBps uint32) (*escrow.Escrow, error)
	BindResolver(id [32]byte, caller, resolver [20]byte) error
	Release(id [32]byte, caller [20]byte) error
	LockForDispute(id [32]byte, caller [20]byte) error
}

// reputationHook is the collaborator interface consumed on completion.
type reputationHook interface {
	IncrementProjectsCompleted(addr [20]byte) error
}

type projectEvent struct {
	evt *types.Event
}

func (e projectEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e projectEvent) Event() *types.Event { return e.evt }

// Engine owns the engagement registry and the per-engagement state machine.
// It spawns proposal records and exactly one custody account per hire, and is
// the only component allowed to mutate either.
type Engine struct {
	state      projectState
	custody    custodyEngine
	reputation reputationHook
	emitter    events.Emitter
	pauses     common.PauseView
	arbitrator [20]byte
	feePolicy  fees.Policy
	nowFn      func() int64
}

// NewEngine creates a project engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state projectState) { e.state = state }

// SetCustody wires the custody-account engine spawned escrows live in.
func (e *Engine) SetCustody(custody custodyEngine) { e.custody = custody }

// SetReputation wires the optional reputation collaborator notified when an
// engagement completes.
func (e *Engine) SetReputation(hook reputationHook) { e.reputation = hook }

// SetPauses wires the module pause view consulted before every mutation.
func (e *Engine) SetPauses(pauses common.PauseView) { e.pauses = pauses }

// SetArbitrator configures the arbitration identity bound as dispute resolver
// on every custody account created at hire time.
func (e *Engine) SetArbitrator(addr [20]byte) { e.arbitrator = addr }

// SetFeePolicy configures the release-fee policy stamped onto new custody
// accounts.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.feePolicy = policy }

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
	e.emitter.Emit(projectEvent{evt: event})
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

func (e *Engine) loadProject(id [32]byte) (*Project, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, ok, err := e.state.ProjectGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// ComputeID derives the deterministic engagement identifier from the client
// address and the registry sequence number.
func ComputeID(client [20]byte, seq uint64) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	return ethcrypto.Keccak256Hash([]byte("project:"), client[:], seqBuf[:])
}

// Create instantiates a new engagement record in the Open state, appends it to
// the registry, and announces the human-readable fields in the creation event.
// Any caller may create an engagement as its client.
func (e *Engine) Create(client [20]byte, title, description, token string, budget *big.Int) (*Project, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if client == ([20]byte{}) {
		return nil, fmt.Errorf("project: client address required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("project: title required")
	}
	normalizedToken, err := escrow.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, fmt.Errorf("project: budget must be positive")
	}
	seq, err := e.state.NextProjectSeq()
	if err != nil {
		return nil, err
	}
	now := uint64(e.now())
	p := &Project{
		ID:        ComputeID(client, seq),
		Client:    client,
		Token:     normalizedToken,
		Budget:    new(big.Int).Set(budget),
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.state.ProjectPut(p); err != nil {
		return nil, err
	}
	if err := e.state.ProjectRegistryAppend(p.ID); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(p, title, description))
	return p.Clone(), nil
}

// Get returns a copy of the engagement with the given identifier.
func (e *Engine) Get(id [32]byte) (*Project, error) {
	p, err := e.loadProject(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// List returns the full engagement registry in creation order. The registry
// is append-only; no deletion operation exists.
func (e *Engine) List() ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ProjectRegistryList()
}

// SubmitProposal records a candidate's bid on an Open engagement. A candidate
// may submit at most one proposal per engagement, and the client may not bid
// on its own engagement.
func (e *Engine) SubmitProposal(projectID [32]byte, candidate [20]byte, cost *big.Int, details string) (*Proposal, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot submit proposal in status %s", ErrInvalidStatus, p.Status)
	}
	if candidate == ([20]byte{}) {
		return nil, fmt.Errorf("project: candidate address required")
	}
	if candidate == p.Client {
		return nil, fmt.Errorf("%w: client may not bid on own engagement", ErrUnauthorized)
	}
	if cost == nil || cost.Sign() <= 0 {
		return nil, fmt.Errorf("project: proposal cost must be positive")
	}
	if _, exists, err := e.state.ProposalGet(projectID, candidate); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateProposal
	}
	proposal := &Proposal{
		ProjectID:   projectID,
		Candidate:   candidate,
		Cost:        new(big.Int).Set(cost),
		Details:     details,
		SubmittedAt: uint64(e.now()),
	}
	if err := e.state.ProposalPut(proposal); err != nil {
		return nil, err
	}
	p.Proposals++
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return nil, err
	}
	e.emit(NewProposalSubmittedEvent(proposal))
	return proposal.Clone(), nil
}

// Proposals returns all proposals submitted on an engagement.
func (e *Engine) Proposals(projectID [32]byte) ([]*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	candidates, err := e.state.ProposalCandidates(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Proposal, 0, len(candidates))
	for _, candidate := range candidates {
		proposal, ok, err := e.state.ProposalGet(projectID, candidate)
		if err != nil {
			return nil, err
		}
		if ok && proposal != nil {
			out = append(out, proposal.Clone())
		}
	}
	return out, nil
}

// Hire selects a candidate on an Open engagement. Only the client may hire;
// the candidate must have an existing proposal. Hiring accepts the proposal,
// creates and binds exactly one custody account sized to the budget, binds
// the arbitration resolver, and advances the engagement to InProgress.
func (e *Engine) Hire(projectID [32]byte, caller, candidate [20]byte) (*Project, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.custody == nil {
		return nil, errors.New("project engine: custody engine not configured")
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot hire in status %s", ErrInvalidStatus, p.Status)
	}
	if p.Client != caller {
		return nil, fmt.Errorf("%w: only the client may hire", ErrUnauthorized)
	}
	proposal, ok, err := e.state.ProposalGet(projectID, candidate)
	if err != nil {
		return nil, err
	}
	if !ok || proposal == nil {
		return nil, ErrProposalNotFound
	}
	if proposal.Accepted {
		return nil, fmt.Errorf("project: proposal already accepted")
	}
	esc, err := e.custody.Create(projectID, p.Client, candidate, p.Token, p.Budget, e.feePolicy.FeeBps)
	if err != nil {
		return nil, err
	}
	if e.arbitrator != ([20]byte{}) {
		if err := e.custody.BindResolver(esc.ID, p.Client, e.arbitrator); err != nil {
			return nil, err
		}
	}
	proposal.Accepted = true
	if err := e.state.ProposalPut(proposal); err != nil {
		return nil, err
	}
	p.Worker = candidate
	p.EscrowID = esc.ID
	p.Status = StatusInProgress
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return nil, err
	}
	e.emit(NewProposalAcceptedEvent(proposal))
	e.emit(NewHiredEvent(p))
	return p.Clone(), nil
}

// SubmitWork advances a hired engagement to Review. Only the worker may call.
func (e *Engine) SubmitWork(projectID [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if p.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot submit work in status %s", ErrInvalidStatus, p.Status)
	}
	if p.Worker != caller {
		return fmt.Errorf("%w: only the worker may submit work", ErrUnauthorized)
	}
	p.Status = StatusReview
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return err
	}
	e.emit(NewWorkSubmittedEvent(p))
	return nil
}

// AcceptWork completes an engagement under review. Only the client may call.
// This is the only path by which funds leave custody without arbitration: the
// engagement drives the custody release with the client's identity.
func (e *Engine) AcceptWork(projectID [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.custody == nil {
		return errors.New("project engine: custody engine not configured")
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if p.Status != StatusReview {
		return fmt.Errorf("%w: cannot accept work in status %s", ErrInvalidStatus, p.Status)
	}
	if p.Client != caller {
		return fmt.Errorf("%w: only the client may accept work", ErrUnauthorized)
	}
	if err := e.custody.Release(p.EscrowID, p.Client); err != nil {
		return err
	}
	p.Status = StatusCompleted
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return err
	}
	if e.reputation != nil {
		if err := e.reputation.IncrementProjectsCompleted(p.Worker); err != nil {
			return err
		}
	}
	e.emit(NewCompletedEvent(p))
	return nil
}

// RaiseDispute escalates a hired engagement to arbitration. Either party may
// raise it from InProgress or Review; the custody account is locked and no
// funds move until the dispute resolves.
func (e *Engine) RaiseDispute(projectID [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.custody == nil {
		return errors.New("project engine: custody engine not configured")
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if p.Status != StatusInProgress && p.Status != StatusReview {
		return fmt.Errorf("%w: cannot raise dispute in status %s", ErrInvalidStatus, p.Status)
	}
	if caller != p.Client && caller != p.Worker {
		return fmt.Errorf("%w: only the client or worker may raise a dispute", ErrUnauthorized)
	}
	if err := e.custody.LockForDispute(p.EscrowID, caller); err != nil {
		return err
	}
	p.Status = StatusInDispute
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(p, caller))
	return nil
}

// Cancel withdraws an Open engagement before any hire. Only the client may
// cancel; no custody account exists yet, so no funds are involved.
func (e *Engine) Cancel(projectID [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	p, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if p.Status != StatusOpen {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidStatus, p.Status)
	}
	if p.Client != caller {
		return fmt.Errorf("%w: only the client may cancel", ErrUnauthorized)
	}
	p.Status = StatusCancelled
	p.UpdatedAt = uint64(e.now())
	if err := e.state.ProjectPut(p); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(p))
	return nil
}

// GovernanceAuthority returns the identity gating administrative rebinds.
func (e *Engine) GovernanceAuthority() ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	return e.state.GovernanceAuthorityGet()
}

// SetGovernanceAuthority rebinds the administrator identity used to gate this
// function itself. Only the current authority may rebind; when no authority
// has ever been configured the first bind is open to the node operator via
// genesis wiring, not via this call.
func (e *Engine) SetGovernanceAuthority(caller, next [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return fmt.Errorf("project: governance authority required")
	}
	current, ok, err := e.state.GovernanceAuthorityGet()
	if err != nil {
		return err
	}
	if !ok || current != caller {
		return fmt.Errorf("%w: only the governance authority may rebind", ErrUnauthorized)
	}
	if err := e.state.GovernanceAuthoritySet(next); err != nil {
		return err
	}
	e.emit(NewAuthorityUpdatedEvent(current, next))
	return nil
}
