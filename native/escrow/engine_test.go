package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"workchain/core/events"
	"workchain/core/types"
)

type mockState struct {
	escrows       map[[32]byte]*Escrow
	accounts      map[[20]byte]*types.Account
	vaultBalances map[string]map[[32]byte]*big.Int
	vaultAddrs    map[string][20]byte
}

func newMockState() *mockState {
	return &mockState{
		escrows:       make(map[[32]byte]*Escrow),
		accounts:      make(map[[20]byte]*types.Account),
		vaultBalances: make(map[string]map[[32]byte]*big.Int),
		vaultAddrs: map[string][20]byte{
			"WRK":  newTestAddress(0xAA),
			"ZWRK": newTestAddress(0xBB),
		},
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func cloneAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return (&types.Account{}).EnsureBalances()
	}
	return acc.Clone()
}

func (m *mockState) EscrowPut(e *Escrow) error {
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowCredit(id [32]byte, token string, amt *big.Int) error {
	balances := m.vaultBalances[token]
	if balances == nil {
		balances = make(map[[32]byte]*big.Int)
		m.vaultBalances[token] = balances
	}
	current := balances[id]
	if current == nil {
		current = big.NewInt(0)
	}
	balances[id] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) EscrowDebit(id [32]byte, token string, amt *big.Int) error {
	balances := m.vaultBalances[token]
	current := big.NewInt(0)
	if balances != nil && balances[id] != nil {
		current = balances[id]
	}
	if current.Cmp(amt) < 0 {
		return errors.New("mock: vault balance underflow")
	}
	balances[id] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *mockState) EscrowBalance(id [32]byte, token string) (*big.Int, error) {
	balances := m.vaultBalances[token]
	if balances == nil || balances[id] == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balances[id]), nil
}

func (m *mockState) EscrowVaultAddress(token string) ([20]byte, error) {
	addr, ok := m.vaultAddrs[token]
	if !ok {
		return [20]byte{}, errors.New("mock: unknown token")
	}
	return addr, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	return cloneAccount(m.accounts[key]), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = cloneAccount(account)
	return nil
}

func (m *mockState) setBalance(addr [20]byte, token string, amount int64) {
	acc := cloneAccount(m.accounts[addr])
	switch token {
	case "WRK":
		acc.BalanceWRK = big.NewInt(amount)
	case "ZWRK":
		acc.BalanceZWRK = big.NewInt(amount)
	}
	m.accounts[addr] = acc
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	acc := cloneAccount(m.accounts[addr])
	if token == "ZWRK" {
		return acc.BalanceZWRK
	}
	return acc.BalanceWRK
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, state
}

func createFundedEscrow(t *testing.T, engine *Engine, state *mockState, depositor, beneficiary [20]byte, amount int64, feeBps uint32) *Escrow {
	t.Helper()
	var projectID [32]byte
	projectID[0] = 0x01
	esc, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(amount), feeBps)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	state.setBalance(depositor, "WRK", amount)
	if err := engine.Fund(esc.ID, depositor); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	return esc
}

func TestCreateValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	var projectID [32]byte
	projectID[0] = 0x01

	if _, err := engine.Create(projectID, depositor, depositor, "WRK", big.NewInt(100), 0); err == nil {
		t.Fatalf("expected error when depositor equals beneficiary")
	}
	if _, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(0), 0); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := engine.Create(projectID, depositor, beneficiary, "DOGE", big.NewInt(100), 0); err == nil {
		t.Fatalf("expected error for unsupported token")
	}
	if _, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(100), 10_001); err == nil {
		t.Fatalf("expected error for out-of-range fee")
	}

	esc, err := engine.Create(projectID, depositor, beneficiary, "wrk", big.NewInt(100), 250)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if esc.Status != StatusAwaitingFunding {
		t.Fatalf("expected awaiting funding, got %s", esc.Status)
	}
	if esc.Token != "WRK" {
		t.Fatalf("expected normalized token, got %s", esc.Token)
	}
	if _, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(100), 0); err == nil {
		t.Fatalf("expected duplicate identifier to be rejected")
	}
}

func TestFundMovesBalanceIntoVault(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	var projectID [32]byte
	projectID[0] = 0x01

	esc, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(500), 0)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	state.setBalance(depositor, "WRK", 600)

	if err := engine.Fund(esc.ID, beneficiary); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for beneficiary fund, got %v", err)
	}
	if err := engine.Fund(esc.ID, depositor); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}

	stored, _, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusFunded {
		t.Fatalf("expected funded, got %s", stored.Status)
	}
	if got := state.balance(depositor, "WRK"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected depositor balance 100, got %s", got)
	}
	vault := state.vaultAddrs["WRK"]
	if got := state.balance(vault, "WRK"); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected vault balance 500, got %s", got)
	}
	held, _ := state.EscrowBalance(esc.ID, "WRK")
	if held.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected vault credit 500, got %s", held)
	}

	if err := engine.Fund(esc.ID, depositor); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status on second fund, got %v", err)
	}
}

func TestFundInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	var projectID [32]byte
	projectID[0] = 0x01

	esc, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(500), 0)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	state.setBalance(depositor, "WRK", 100)

	if err := engine.Fund(esc.ID, depositor); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	stored, _, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusAwaitingFunding {
		t.Fatalf("expected awaiting funding after failed fund, got %s", stored.Status)
	}
	if got := state.balance(depositor, "WRK"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected untouched depositor balance, got %s", got)
	}
}

func TestReleasePaysBeneficiaryWithFee(t *testing.T) {
	engine, state := newTestEngine(t)
	treasury := newTestAddress(0xFE)
	engine.SetFeeTreasury(treasury)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 10_000, 250)

	if err := engine.Release(esc.ID, beneficiary); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for beneficiary release, got %v", err)
	}
	if err := engine.Release(esc.ID, depositor); err != nil {
		t.Fatalf("release escrow: %v", err)
	}

	stored, _, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusReleased {
		t.Fatalf("expected released, got %s", stored.Status)
	}
	if got := state.balance(beneficiary, "WRK"); got.Cmp(big.NewInt(9_750)) != 0 {
		t.Fatalf("expected beneficiary 9750, got %s", got)
	}
	if got := state.balance(treasury, "WRK"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected treasury fee 250, got %s", got)
	}
	held, _ := state.EscrowBalance(esc.ID, "WRK")
	if held.Sign() != 0 {
		t.Fatalf("expected empty vault holding, got %s", held)
	}

	if err := engine.Release(esc.ID, depositor); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status on second release, got %v", err)
	}
}

func TestReleaseRequiresFunding(t *testing.T) {
	engine, _ := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	var projectID [32]byte
	projectID[0] = 0x01

	esc, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(100), 0)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := engine.Release(esc.ID, depositor); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status for unfunded release, got %v", err)
	}
}

func TestLockForDispute(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	outsider := newTestAddress(0x03)

	esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 1_000, 0)

	if err := engine.LockForDispute(esc.ID, outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for outsider lock, got %v", err)
	}
	if err := engine.LockForDispute(esc.ID, beneficiary); err != nil {
		t.Fatalf("lock escrow: %v", err)
	}
	stored, _, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusLocked {
		t.Fatalf("expected locked, got %s", stored.Status)
	}
	if err := engine.LockForDispute(esc.ID, depositor); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status on second lock, got %v", err)
	}
	// Locking moves no funds.
	held, _ := state.EscrowBalance(esc.ID, "WRK")
	if held.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected vault holding intact, got %s", held)
	}
}

func TestBindResolverOnce(t *testing.T) {
	engine, _ := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	resolver := newTestAddress(0x0A)
	var projectID [32]byte
	projectID[0] = 0x01

	esc, err := engine.Create(projectID, depositor, beneficiary, "WRK", big.NewInt(100), 0)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := engine.BindResolver(esc.ID, beneficiary, resolver); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for beneficiary bind, got %v", err)
	}
	if err := engine.BindResolver(esc.ID, depositor, [20]byte{}); err == nil {
		t.Fatalf("expected error for empty resolver")
	}
	if err := engine.BindResolver(esc.ID, depositor, resolver); err != nil {
		t.Fatalf("bind resolver: %v", err)
	}
	if err := engine.BindResolver(esc.ID, depositor, newTestAddress(0x0B)); !errors.Is(err, ErrResolverBound) {
		t.Fatalf("expected resolver bound, got %v", err)
	}
}

func TestResolveDisputeReleaseAndRefund(t *testing.T) {
	resolver := newTestAddress(0x0A)

	t.Run("beneficiary wins", func(t *testing.T) {
		engine, state := newTestEngine(t)
		treasury := newTestAddress(0xFE)
		engine.SetFeeTreasury(treasury)
		depositor := newTestAddress(0x01)
		beneficiary := newTestAddress(0x02)

		esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 10_000, 500)
		if err := engine.BindResolver(esc.ID, depositor, resolver); err != nil {
			t.Fatalf("bind resolver: %v", err)
		}
		if err := engine.LockForDispute(esc.ID, depositor); err != nil {
			t.Fatalf("lock escrow: %v", err)
		}
		if err := engine.ResolveDispute(esc.ID, depositor, beneficiary); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized for non-resolver, got %v", err)
		}
		if err := engine.ResolveDispute(esc.ID, resolver, beneficiary); err != nil {
			t.Fatalf("resolve dispute: %v", err)
		}
		stored, _, _ := state.EscrowGet(esc.ID)
		if stored.Status != StatusReleased {
			t.Fatalf("expected released, got %s", stored.Status)
		}
		if got := state.balance(beneficiary, "WRK"); got.Cmp(big.NewInt(9_500)) != 0 {
			t.Fatalf("expected beneficiary 9500, got %s", got)
		}
		if got := state.balance(treasury, "WRK"); got.Cmp(big.NewInt(500)) != 0 {
			t.Fatalf("expected treasury 500, got %s", got)
		}
	})

	t.Run("depositor wins refunds in full", func(t *testing.T) {
		engine, state := newTestEngine(t)
		treasury := newTestAddress(0xFE)
		engine.SetFeeTreasury(treasury)
		depositor := newTestAddress(0x01)
		beneficiary := newTestAddress(0x02)

		esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 10_000, 500)
		if err := engine.BindResolver(esc.ID, depositor, resolver); err != nil {
			t.Fatalf("bind resolver: %v", err)
		}
		if err := engine.LockForDispute(esc.ID, beneficiary); err != nil {
			t.Fatalf("lock escrow: %v", err)
		}
		if err := engine.ResolveDispute(esc.ID, resolver, depositor); err != nil {
			t.Fatalf("resolve dispute: %v", err)
		}
		stored, _, _ := state.EscrowGet(esc.ID)
		if stored.Status != StatusRefunded {
			t.Fatalf("expected refunded, got %s", stored.Status)
		}
		// Refunds carry no fee.
		if got := state.balance(depositor, "WRK"); got.Cmp(big.NewInt(10_000)) != 0 {
			t.Fatalf("expected full refund, got %s", got)
		}
		if got := state.balance(treasury, "WRK"); got.Sign() != 0 {
			t.Fatalf("expected no treasury fee on refund, got %s", got)
		}
	})
}

func TestResolveDisputeGuards(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	resolver := newTestAddress(0x0A)

	esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 1_000, 0)

	if err := engine.ResolveDispute(esc.ID, resolver, beneficiary); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status before lock, got %v", err)
	}
	if err := engine.LockForDispute(esc.ID, depositor); err != nil {
		t.Fatalf("lock escrow: %v", err)
	}
	if err := engine.ResolveDispute(esc.ID, resolver, beneficiary); !errors.Is(err, ErrResolverUnset) {
		t.Fatalf("expected resolver unset, got %v", err)
	}
}

type faultyState struct {
	*mockState
	readErr error
}

func (f *faultyState) EscrowGet(id [32]byte) (*Escrow, bool, error) {
	return nil, false, f.readErr
}

func TestGetSurfacesStorageReadErrors(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 1_000, 0)

	readErr := errors.New("backend read failed")
	engine.SetState(&faultyState{mockState: state, readErr: readErr})

	_, err := engine.Get(esc.ID)
	if !errors.Is(err, readErr) {
		t.Fatalf("expected backend error to surface, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("expected read fault distinct from a missing account")
	}
	if err := engine.Release(esc.ID, depositor); !errors.Is(err, readErr) {
		t.Fatalf("expected release to surface backend error, got %v", err)
	}
}

type reentrantState struct {
	*mockState
	engine *Engine
	target [32]byte
	caller [20]byte
	result error
	fired  bool
}

func (r *reentrantState) PutAccount(addr []byte, account *types.Account) error {
	if !r.fired {
		r.fired = true
		r.result = r.engine.Release(r.target, r.caller)
	}
	return r.mockState.PutAccount(addr, account)
}

func TestReleaseRejectsReentrantCall(t *testing.T) {
	engine, state := newTestEngine(t)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	esc := createFundedEscrow(t, engine, state, depositor, beneficiary, 1_000, 0)

	wrapped := &reentrantState{mockState: state, engine: engine, target: esc.ID, caller: depositor}
	engine.SetState(wrapped)

	if err := engine.Release(esc.ID, depositor); err != nil {
		t.Fatalf("release escrow: %v", err)
	}
	if !wrapped.fired {
		t.Fatalf("expected nested call to fire")
	}
	if !errors.Is(wrapped.result, ErrReentrantCall) {
		t.Fatalf("expected reentrant call rejection, got %v", wrapped.result)
	}
	if got := state.balance(beneficiary, "WRK"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected single payout of 1000, got %s", got)
	}
}

func TestEventsCarryCanonicalAttributes(t *testing.T) {
	engine, state := newTestEngine(t)
	recorder := events.NewRecorder(16)
	engine.SetEmitter(recorder)
	depositor := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	createFundedEscrow(t, engine, state, depositor, beneficiary, 1_000, 0)

	listed := recorder.List(0)
	if len(listed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(listed))
	}
	if listed[0].Type != EventTypeCreated || listed[1].Type != EventTypeFunded {
		t.Fatalf("unexpected event types %s, %s", listed[0].Type, listed[1].Type)
	}
	if listed[1].Attributes["status"] != StatusFunded.String() {
		t.Fatalf("expected funded status attribute, got %q", listed[1].Attributes["status"])
	}
}
