package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"workchain/core/events"
	"workchain/core/types"
	"workchain/crypto"
	"workchain/native/arbitration"
	"workchain/native/escrow"
	"workchain/native/project"
	"workchain/native/reputation"
)

// AccountReader exposes the account lookups served under /v1/accounts.
type AccountReader interface {
	GetAccount(addr []byte) (*types.Account, error)
}

// Server exposes the read surface of the native engines over HTTP. Mutations
// stay on the engine APIs; the gateway is a query and monitoring plane.
type Server struct {
	projects    *project.Engine
	custody     *escrow.Engine
	arbitration *arbitration.Engine
	reputation  *reputation.Engine
	accounts    AccountReader
	recorder    *events.Recorder
	obs         *Observability
	logger      *slog.Logger
}

// Config wires the engines served by the gateway.
type Config struct {
	Projects      *project.Engine
	Custody       *escrow.Engine
	Arbitration   *arbitration.Engine
	Reputation    *reputation.Engine
	Accounts      AccountReader
	Recorder      *events.Recorder
	Observability *Observability
	Logger        *slog.Logger
}

// NewServer constructs a gateway over the provided engines.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observability
	if obs == nil {
		obs = NewObservability(ObservabilityConfig{LogRequests: true}, logger)
	}
	return &Server{
		projects:    cfg.Projects,
		custody:     cfg.Custody,
		arbitration: cfg.Arbitration,
		reputation:  cfg.Reputation,
		accounts:    cfg.Accounts,
		recorder:    cfg.Recorder,
		obs:         obs,
		logger:      logger,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware("root"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/projects", s.handleListProjects)
		v1.Get("/projects/{id}", s.handleGetProject)
		v1.Get("/projects/{id}/proposals", s.handleListProposals)
		v1.Get("/escrows/{id}", s.handleGetEscrow)
		v1.Get("/disputes/{id}", s.handleGetDispute)
		v1.Get("/profiles/{addr}", s.handleGetProfile)
		v1.Get("/accounts/{addr}", s.handleGetAccount)
		v1.Get("/events", s.handleListEvents)
	})

	return r
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorPayload{Error: err.Error()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, arbitration.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func parseID32(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return id, err
	}
	if len(decoded) != 32 {
		return id, errors.New("identifier must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func encodeAddr(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.WRKPrefix, addr[:]).String()
}

type projectPayload struct {
	ID        string `json:"id"`
	Client    string `json:"client"`
	Worker    string `json:"worker,omitempty"`
	Token     string `json:"token"`
	Budget    string `json:"budget"`
	EscrowID  string `json:"escrowId,omitempty"`
	Status    string `json:"status"`
	Proposals uint64 `json:"proposals"`
	CreatedAt uint64 `json:"createdAt"`
	UpdatedAt uint64 `json:"updatedAt"`
}

func newProjectPayload(p *project.Project) projectPayload {
	payload := projectPayload{
		ID:        hex.EncodeToString(p.ID[:]),
		Client:    encodeAddr(p.Client),
		Worker:    encodeAddr(p.Worker),
		Token:     p.Token,
		Budget:    p.Budget.String(),
		Status:    p.Status.String(),
		Proposals: p.Proposals,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.EscrowID != ([32]byte{}) {
		payload.EscrowID = hex.EncodeToString(p.EscrowID[:])
	}
	return payload
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := s.projects.List()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]projectPayload, 0, len(ids))
	for _, id := range ids {
		p, err := s.projects.Get(id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		out = append(out, newProjectPayload(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.projects.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newProjectPayload(p))
}

type proposalPayload struct {
	ProjectID   string `json:"projectId"`
	Candidate   string `json:"candidate"`
	Cost        string `json:"cost"`
	Details     string `json:"details,omitempty"`
	Accepted    bool   `json:"accepted"`
	SubmittedAt uint64 `json:"submittedAt"`
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	id, err := parseID32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	proposals, err := s.projects.Proposals(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]proposalPayload, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, proposalPayload{
			ProjectID:   hex.EncodeToString(p.ProjectID[:]),
			Candidate:   encodeAddr(p.Candidate),
			Cost:        p.Cost.String(),
			Details:     p.Details,
			Accepted:    p.Accepted,
			SubmittedAt: p.SubmittedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type escrowPayload struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Resolver    string `json:"resolver,omitempty"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	FeeBps      uint32 `json:"feeBps"`
	Status      string `json:"status"`
	CreatedAt   uint64 `json:"createdAt"`
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID32(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	esc, err := s.custody.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, escrowPayload{
		ID:          hex.EncodeToString(esc.ID[:]),
		ProjectID:   hex.EncodeToString(esc.ProjectID[:]),
		Depositor:   encodeAddr(esc.Depositor),
		Beneficiary: encodeAddr(esc.Beneficiary),
		Resolver:    encodeAddr(esc.Resolver),
		Token:       esc.Token,
		Amount:      esc.Amount.String(),
		FeeBps:      esc.FeeBps,
		Status:      esc.Status.String(),
		CreatedAt:   esc.CreatedAt,
	})
}

type disputePayload struct {
	ID             uint64   `json:"id"`
	EscrowID       string   `json:"escrowId"`
	Plaintiff      string   `json:"plaintiff"`
	Defendant      string   `json:"defendant"`
	VotesPlaintiff uint64   `json:"votesPlaintiff"`
	VotesDefendant uint64   `json:"votesDefendant"`
	Status         string   `json:"status"`
	Verdict        string   `json:"verdict"`
	Voted          []string `json:"voted"`
	OpenedAt       uint64   `json:"openedAt"`
	VotingEnd      uint64   `json:"votingEnd,omitempty"`
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.arbitration.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	voted := make([]string, 0, len(d.Voted))
	for _, juror := range d.Voted {
		voted = append(voted, encodeAddr(juror))
	}
	s.writeJSON(w, http.StatusOK, disputePayload{
		ID:             d.ID,
		EscrowID:       hex.EncodeToString(d.EscrowID[:]),
		Plaintiff:      encodeAddr(d.Plaintiff),
		Defendant:      encodeAddr(d.Defendant),
		VotesPlaintiff: d.VotesPlaintiff,
		VotesDefendant: d.VotesDefendant,
		Status:         d.Status.String(),
		Verdict:        d.Verdict.String(),
		Voted:          voted,
		OpenedAt:       d.OpenedAt,
		VotingEnd:      d.VotingEnd,
	})
}

type profilePayload struct {
	Address           string `json:"address"`
	ReputationScore   uint64 `json:"reputationScore"`
	ProjectsCompleted uint64 `json:"projectsCompleted"`
	UpdatedAt         uint64 `json:"updatedAt"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddressBytes(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	profile, _, err := s.reputation.GetProfile(addr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profilePayload{
		Address:           encodeAddr(addr),
		ReputationScore:   profile.ReputationScore,
		ProjectsCompleted: profile.ProjectsCompleted,
		UpdatedAt:         profile.UpdatedAt,
	})
}

type accountPayload struct {
	Address     string `json:"address"`
	Nonce       uint64 `json:"nonce"`
	BalanceWRK  string `json:"balanceWrk"`
	BalanceZWRK string `json:"balanceZwrk"`
	Stake       string `json:"stake"`
	Username    string `json:"username,omitempty"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		s.writeError(w, http.StatusNotFound, errors.New("account lookups not configured"))
		return
	}
	addr, err := crypto.DecodeAddressBytes(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	acc, err := s.accounts.GetAccount(addr[:])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	acc = acc.EnsureBalances()
	s.writeJSON(w, http.StatusOK, accountPayload{
		Address:     encodeAddr(addr),
		Nonce:       acc.Nonce,
		BalanceWRK:  acc.BalanceWRK.String(),
		BalanceZWRK: acc.BalanceZWRK.String(),
		Stake:       acc.Stake.String(),
		Username:    acc.Username,
	})
}

type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = parsed
	}
	var recorded []*eventPayload
	if s.recorder != nil {
		for _, evt := range s.recorder.List(limit) {
			recorded = append(recorded, &eventPayload{Type: evt.Type, Attributes: evt.Attributes})
		}
	}
	if recorded == nil {
		recorded = []*eventPayload{}
	}
	s.writeJSON(w, http.StatusOK, recorded)
}
