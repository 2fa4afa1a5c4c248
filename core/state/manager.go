package state

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"workchain/core/types"
	"workchain/native/arbitration"
	"workchain/native/escrow"
	"workchain/native/project"
	"workchain/storage"
)

// Manager provides the persistence layer shared by every native engine. Keys
// are prefixed, keccak-hashed, and values RLP-encoded, matching the layout an
// authenticated trie would use so the backend can be swapped later without a
// key migration.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix      = []byte("account:")
	escrowPrefix       = []byte("escrow:")
	escrowVaultPrefix  = []byte("escrow-vault:")
	projectPrefix      = []byte("project:")
	projectSeqKey      = []byte("project-seq")
	projectRegistryKey = []byte("project-registry")
	authorityKey       = []byte("project-authority")
	proposalPrefix     = []byte("proposal:")
	proposalIndexPref  = []byte("proposal-index:")
	disputePrefix      = []byte("dispute:")
	disputeSeqKey      = []byte("dispute-seq")
	disputeEscrowPref  = []byte("dispute-escrow:")
	jurorSetKey        = []byte("jurors")
	pausePrefix        = []byte("pause:")
)

func hashKey(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(bytes.Join(parts, nil))
}

func (m *Manager) write(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// read decodes the value under key into out. The boolean reports existence.
func (m *Manager) read(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) nextSeq(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.read(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.write(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// --- accounts ---

// GetAccount loads the account stored for addr. Unknown addresses yield a
// zeroed account so callers can treat reads as infallible lookups.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	account := &types.Account{}
	ok, err := m.read(hashKey(accountPrefix, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return account.EnsureBalances(), nil
}

// PutAccount persists the account under addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	return m.write(hashKey(accountPrefix, addr), account.EnsureBalances())
}

// --- escrow custody accounts ---

// EscrowPut persists a sanitized custody account.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	return m.write(hashKey(escrowPrefix, sanitized.ID[:]), sanitized)
}

// EscrowGet loads the custody account with the given identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool, error) {
	esc := &escrow.Escrow{}
	ok, err := m.read(hashKey(escrowPrefix, id[:]), esc)
	if err != nil || !ok {
		return nil, false, err
	}
	return esc, true, nil
}

func (m *Manager) escrowVaultBalanceKey(id [32]byte, token string) []byte {
	return hashKey(escrowVaultPrefix, []byte(token), []byte(":"), id[:])
}

// EscrowVaultAddress derives the deterministic module address holding vault
// balances for a token.
func (m *Manager) EscrowVaultAddress(token string) ([20]byte, error) {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return [20]byte{}, err
	}
	digest := ethcrypto.Keccak256(escrowVaultPrefix, []byte(normalized))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

// EscrowCredit records amt as held by the vault on behalf of escrow id.
func (m *Manager) EscrowCredit(id [32]byte, token string, amt *big.Int) error {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow credit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(id, normalized)
	if err != nil {
		return err
	}
	return m.write(m.escrowVaultBalanceKey(id, normalized), new(big.Int).Add(current, amt))
}

// EscrowDebit releases amt of the vault holding for escrow id.
func (m *Manager) EscrowDebit(id [32]byte, token string, amt *big.Int) error {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow debit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(id, normalized)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: insufficient escrow vault balance")
	}
	return m.write(m.escrowVaultBalanceKey(id, normalized), new(big.Int).Sub(current, amt))
}

// EscrowBalance returns the vault holding recorded for escrow id.
func (m *Manager) EscrowBalance(id [32]byte, token string) (*big.Int, error) {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.read(m.escrowVaultBalanceKey(id, normalized), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// --- projects and proposals ---

// NextProjectSeq allocates the next engagement sequence number.
func (m *Manager) NextProjectSeq() (uint64, error) {
	return m.nextSeq(hashKey(projectSeqKey))
}

// ProjectPut persists a sanitized engagement record.
func (m *Manager) ProjectPut(p *project.Project) error {
	sanitized, err := project.SanitizeProject(p)
	if err != nil {
		return err
	}
	return m.write(hashKey(projectPrefix, sanitized.ID[:]), sanitized)
}

// ProjectGet loads the engagement with the given identifier.
func (m *Manager) ProjectGet(id [32]byte) (*project.Project, bool, error) {
	p := &project.Project{}
	ok, err := m.read(hashKey(projectPrefix, id[:]), p)
	if err != nil || !ok {
		return nil, false, err
	}
	return p, true, nil
}

// ProjectRegistryAppend records an engagement in the append-only registry.
func (m *Manager) ProjectRegistryAppend(id [32]byte) error {
	key := hashKey(projectRegistryKey)
	var list [][]byte
	if _, err := m.read(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, id[:]) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), id[:]...))
	return m.write(key, list)
}

// ProjectRegistryList returns every engagement identifier in creation order.
func (m *Manager) ProjectRegistryList() ([][32]byte, error) {
	var list [][]byte
	if _, err := m.read(hashKey(projectRegistryKey), &list); err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 32 {
			return nil, fmt.Errorf("state: malformed registry entry %x", raw)
		}
		var id [32]byte
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

// ProposalPut persists a sanitized proposal and indexes its candidate.
func (m *Manager) ProposalPut(p *project.Proposal) error {
	sanitized, err := project.SanitizeProposal(p)
	if err != nil {
		return err
	}
	key := hashKey(proposalPrefix, sanitized.ProjectID[:], []byte(":"), sanitized.Candidate[:])
	if err := m.write(key, sanitized); err != nil {
		return err
	}
	indexKey := hashKey(proposalIndexPref, sanitized.ProjectID[:])
	var index [][]byte
	if _, err := m.read(indexKey, &index); err != nil {
		return err
	}
	for _, existing := range index {
		if bytes.Equal(existing, sanitized.Candidate[:]) {
			return nil
		}
	}
	index = append(index, append([]byte(nil), sanitized.Candidate[:]...))
	return m.write(indexKey, index)
}

// ProposalGet loads the proposal a candidate submitted on an engagement.
func (m *Manager) ProposalGet(projectID [32]byte, candidate [20]byte) (*project.Proposal, bool, error) {
	p := &project.Proposal{}
	key := hashKey(proposalPrefix, projectID[:], []byte(":"), candidate[:])
	ok, err := m.read(key, p)
	if err != nil || !ok {
		return nil, false, err
	}
	return p, true, nil
}

// ProposalCandidates returns the candidates that bid on an engagement in
// submission order.
func (m *Manager) ProposalCandidates(projectID [32]byte) ([][20]byte, error) {
	var index [][]byte
	if _, err := m.read(hashKey(proposalIndexPref, projectID[:]), &index); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(index))
	for _, raw := range index {
		if len(raw) != 20 {
			return nil, fmt.Errorf("state: malformed proposal index entry %x", raw)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

// GovernanceAuthorityGet returns the configured administrator identity.
func (m *Manager) GovernanceAuthorityGet() ([20]byte, bool, error) {
	var raw []byte
	ok, err := m.read(hashKey(authorityKey), &raw)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("state: malformed governance authority %x", raw)
	}
	var addr [20]byte
	copy(addr[:], raw)
	return addr, true, nil
}

// GovernanceAuthoritySet rebinds the administrator identity. Authorization is
// enforced by the project engine; genesis wiring may call this directly.
func (m *Manager) GovernanceAuthoritySet(addr [20]byte) error {
	if addr == ([20]byte{}) {
		return fmt.Errorf("state: governance authority must not be empty")
	}
	return m.write(hashKey(authorityKey), addr[:])
}

// --- disputes and jurors ---

// NextDisputeID allocates the next dispute identifier.
func (m *Manager) NextDisputeID() (uint64, error) {
	return m.nextSeq(hashKey(disputeSeqKey))
}

func disputeKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return hashKey(disputePrefix, buf[:])
}

// DisputePut persists a sanitized dispute record.
func (m *Manager) DisputePut(d *arbitration.Dispute) error {
	sanitized, err := arbitration.Sanitize(d)
	if err != nil {
		return err
	}
	return m.write(disputeKey(sanitized.ID), sanitized)
}

// DisputeGet loads the dispute with the given identifier.
func (m *Manager) DisputeGet(id uint64) (*arbitration.Dispute, bool, error) {
	d := &arbitration.Dispute{}
	ok, err := m.read(disputeKey(id), d)
	if err != nil || !ok {
		return nil, false, err
	}
	return d, true, nil
}

// DisputeIndexPut records the dispute escalated for a custody account.
func (m *Manager) DisputeIndexPut(escrowID [32]byte, id uint64) error {
	return m.write(hashKey(disputeEscrowPref, escrowID[:]), id)
}

// DisputeIDForEscrow resolves the dispute opened for a custody account.
func (m *Manager) DisputeIDForEscrow(escrowID [32]byte) (uint64, bool, error) {
	var id uint64
	ok, err := m.read(hashKey(disputeEscrowPref, escrowID[:]), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	return id, true, nil
}

func (m *Manager) jurorList() ([][]byte, error) {
	var members [][]byte
	if _, err := m.read(hashKey(jurorSetKey), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// JurorAdd registers an address in the juror set. Duplicate additions are
// ignored while the stored list remains sorted for determinism.
func (m *Manager) JurorAdd(addr [20]byte) error {
	members, err := m.jurorList()
	if err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr[:]) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr[:]...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	return m.write(hashKey(jurorSetKey), members)
}

// JurorRemove strips an address from the juror set.
func (m *Manager) JurorRemove(addr [20]byte) error {
	members, err := m.jurorList()
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, existing := range members {
		if !bytes.Equal(existing, addr[:]) {
			filtered = append(filtered, existing)
		}
	}
	return m.write(hashKey(jurorSetKey), filtered)
}

// IsJuror reports whether the address belongs to the juror set.
func (m *Manager) IsJuror(addr [20]byte) (bool, error) {
	members, err := m.jurorList()
	if err != nil {
		return false, err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr[:]) {
			return true, nil
		}
	}
	return false, nil
}

// Jurors returns the registered juror set in deterministic order.
func (m *Manager) Jurors() ([][20]byte, error) {
	members, err := m.jurorList()
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(members))
	for _, raw := range members {
		if len(raw) != 20 {
			return nil, fmt.Errorf("state: malformed juror entry %x", raw)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

// --- module pauses ---

// SetPaused flips the pause switch for a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if module == "" {
		return fmt.Errorf("state: module name required")
	}
	return m.write(hashKey(pausePrefix, []byte(module)), paused)
}

// IsPaused implements the pause view consumed by the native engines. Errors
// reading the underlying state report unpaused, matching the best-effort
// semantics the guard expects.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.read(hashKey(pausePrefix, []byte(module)), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

// --- generic KV helpers ---

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.write(hashKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the
// key existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.read(hashKey(key), out)
}
