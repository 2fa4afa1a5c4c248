package gateway

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"workchain/core/events"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/crypto"
	"workchain/native/arbitration"
	"workchain/native/escrow"
	"workchain/native/project"
	"workchain/native/reputation"
	"workchain/storage"
)

type fixture struct {
	server  *Server
	handler http.Handler

	manager *state.Manager
	custody *escrow.Engine
	project *project.Engine
	arbiter *arbitration.Engine

	client    [20]byte
	worker    [20]byte
	admin     [20]byte
	projectID [32]byte
	escrowID  [32]byte
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	manager := state.NewManager(storage.NewMemDB())
	recorder := events.NewRecorder(64)

	custody := escrow.NewEngine()
	custody.SetState(manager)
	custody.SetEmitter(recorder)
	custody.SetNowFunc(func() int64 { return 1_700_000_000 })

	reputationEngine := reputation.NewEngine(manager)
	reputationEngine.SetEmitter(recorder)

	projects := project.NewEngine()
	projects.SetState(manager)
	projects.SetCustody(custody)
	projects.SetReputation(reputationEngine)
	projects.SetEmitter(recorder)
	projects.SetNowFunc(func() int64 { return 1_700_000_000 })

	admin := newTestAddress(0xAD)
	projects.SetArbitrator(admin)

	arbiter := arbitration.NewEngine()
	arbiter.SetState(manager)
	arbiter.SetCustody(custody)
	arbiter.SetAdmin(admin)
	arbiter.SetAuthority(admin)
	arbiter.SetEmitter(recorder)
	arbiter.SetNowFunc(func() int64 { return 1_700_000_000 })

	server := NewServer(Config{
		Projects:    projects,
		Custody:     custody,
		Arbitration: arbiter,
		Reputation:  reputationEngine,
		Accounts:    manager,
		Recorder:    recorder,
	})

	f := &fixture{
		server:  server,
		handler: server.Router(),
		manager: manager,
		custody: custody,
		project: projects,
		arbiter: arbiter,
		client:  newTestAddress(0x01),
		worker:  newTestAddress(0x02),
		admin:   admin,
	}

	acc := (&types.Account{}).EnsureBalances()
	acc.BalanceWRK = big.NewInt(100_000)
	if err := manager.PutAccount(f.client[:], acc); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	p, err := projects.Create(f.client, "backend service", "REST API build", "WRK", big.NewInt(10_000))
	if err != nil {
		t.Fatalf("create engagement: %v", err)
	}
	f.projectID = p.ID
	if _, err := projects.SubmitProposal(p.ID, f.worker, big.NewInt(10_000), "four weeks"); err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	hired, err := projects.Hire(p.ID, f.client, f.worker)
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	f.escrowID = hired.EscrowID
	if err := custody.Fund(f.escrowID, f.client); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok body, got %q", rec.Body.String())
	}
}

func TestListAndGetProjects(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/projects")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed []map[string]interface{}
	decodeBody(t, rec, &listed)
	if len(listed) != 1 {
		t.Fatalf("expected one engagement, got %d", len(listed))
	}

	rec = f.get(t, "/v1/projects/"+hex.EncodeToString(f.projectID[:]))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, rec, &payload)
	if payload["status"] != "in_progress" {
		t.Fatalf("expected in_progress, got %v", payload["status"])
	}
	wantClient := crypto.NewAddress(crypto.WRKPrefix, f.client[:]).String()
	if payload["client"] != wantClient {
		t.Fatalf("expected bech32 client %s, got %v", wantClient, payload["client"])
	}
	if payload["escrowId"] != hex.EncodeToString(f.escrowID[:]) {
		t.Fatalf("expected escrow binding in payload")
	}
}

func TestGetProjectErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/projects/nothex")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
	var missing [32]byte
	missing[0] = 0xFF
	rec = f.get(t, "/v1/projects/"+hex.EncodeToString(missing[:]))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestListProposals(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/projects/"+hex.EncodeToString(f.projectID[:])+"/proposals")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var proposals []map[string]interface{}
	decodeBody(t, rec, &proposals)
	if len(proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(proposals))
	}
	if proposals[0]["accepted"] != true {
		t.Fatalf("expected accepted proposal")
	}
}

func TestGetEscrow(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/escrows/"+hex.EncodeToString(f.escrowID[:]))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, rec, &payload)
	if payload["status"] != "funded" {
		t.Fatalf("expected funded escrow, got %v", payload["status"])
	}
	if payload["amount"] != "10000" {
		t.Fatalf("expected amount 10000, got %v", payload["amount"])
	}
}

func TestGetDispute(t *testing.T) {
	f := newFixture(t)

	if err := f.project.RaiseDispute(f.projectID, f.worker); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	d, err := f.arbiter.OpenDispute(f.escrowID, f.worker)
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	rec := f.get(t, "/v1/disputes/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, rec, &payload)
	if payload["status"] != "voting" {
		t.Fatalf("expected voting dispute, got %v", payload["status"])
	}
	if payload["escrowId"] != hex.EncodeToString(d.EscrowID[:]) {
		t.Fatalf("expected escrow binding in dispute payload")
	}

	rec = f.get(t, "/v1/disputes/99")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dispute, got %d", rec.Code)
	}
	rec = f.get(t, "/v1/disputes/abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed dispute id, got %d", rec.Code)
	}
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)

	if err := f.project.SubmitWork(f.projectID, f.worker); err != nil {
		t.Fatalf("submit work: %v", err)
	}
	if err := f.project.AcceptWork(f.projectID, f.client); err != nil {
		t.Fatalf("accept work: %v", err)
	}

	addr := crypto.NewAddress(crypto.WRKPrefix, f.worker[:]).String()
	rec := f.get(t, "/v1/profiles/"+addr)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, rec, &payload)
	if payload["projectsCompleted"] != float64(1) {
		t.Fatalf("expected one completion, got %v", payload["projectsCompleted"])
	}

	rec = f.get(t, "/v1/profiles/garbage")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", rec.Code)
	}
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t)

	addr := crypto.NewAddress(crypto.WRKPrefix, f.client[:]).String()
	rec := f.get(t, "/v1/accounts/"+addr)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, rec, &payload)
	// The client funded a 10000 escrow from a 100000 balance in the fixture.
	if payload["balanceWrk"] != "90000" {
		t.Fatalf("expected balance 90000, got %v", payload["balanceWrk"])
	}
	if payload["stake"] != "0" {
		t.Fatalf("expected zero stake, got %v", payload["stake"])
	}

	rec = f.get(t, "/v1/accounts/garbage")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", rec.Code)
	}
}

func TestEventsFeed(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var all []map[string]interface{}
	decodeBody(t, rec, &all)
	// Creation, proposal, acceptance, hire and funding all emit.
	if len(all) < 5 {
		t.Fatalf("expected at least five events, got %d", len(all))
	}

	rec = f.get(t, "/v1/events?limit=2")
	var limited []map[string]interface{}
	decodeBody(t, rec, &limited)
	if len(limited) != 2 {
		t.Fatalf("expected two events, got %d", len(limited))
	}

	rec = f.get(t, "/v1/events?limit=-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	// Prime the counters with one request first.
	f.get(t, "/healthz")
	rec := f.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("gateway_requests_total")) {
		t.Fatalf("expected request counter in metrics output")
	}
}
