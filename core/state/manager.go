package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"agorachain/storage"
)

// Manager provides typed access to the canonical ledger state on top of a raw
// key-value store. Every write is recorded in an undo journal so a failed
// operation can roll back all of its mutations before surfacing an error.
type Manager struct {
	db      storage.Database
	journal []journalEntry
}

type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Snapshot marks the current journal position. Passing the returned id to
// RevertToSnapshot undoes every write performed since this call.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot unwinds the journal back to the supplied snapshot id.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			_ = m.db.Put(entry.key, entry.prev)
		} else {
			_ = m.db.Delete(entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit discards the undo journal, making all writes since the last snapshot
// final.
func (m *Manager) Commit() {
	m.journal = m.journal[:0]
}

func (m *Manager) rawPut(key, value []byte) error {
	prev, err := m.db.Get(key)
	existed := true
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}
		existed = false
		prev = nil
	}
	m.journal = append(m.journal, journalEntry{key: append([]byte(nil), key...), prev: prev, existed: existed})
	return m.db.Put(key, value)
}

func (m *Manager) rawDelete(key []byte) error {
	prev, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	m.journal = append(m.journal, journalEntry{key: append([]byte(nil), key...), prev: prev, existed: true})
	return m.db.Delete(key)
}

// KVPut serialises the supplied value with RLP and stores it under the key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return m.rawPut(key, encoded)
}

// KVGet loads the value stored under key into out. The boolean reports whether
// the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the key, journalling the prior value.
func (m *Manager) KVDelete(key []byte) error {
	return m.rawDelete(key)
}

// --- Token registry ---

// TokenMetadata describes a registered token symbol.
type TokenMetadata struct {
	Symbol            string
	Name              string
	Decimals          uint8
	CollateralAllowed bool
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	rolePrefix    = []byte("role:")
	pausePrefix   = []byte("pause:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	if _, err := m.KVGet(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RegisterToken records metadata for a new token symbol. Registering an
// existing symbol is rejected.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8, collateralAllowed bool) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("state: token symbol required")
	}
	if m.TokenExists(normalized) {
		return fmt.Errorf("state: token %s already registered", normalized)
	}
	meta := &TokenMetadata{
		Symbol:            normalized,
		Name:              strings.TrimSpace(name),
		Decimals:          decimals,
		CollateralAllowed: collateralAllowed,
	}
	if err := m.KVPut(tokenMetadataKey(normalized), meta); err != nil {
		return err
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	return m.KVPut(tokenListKey, list)
}

// Token returns the metadata for the supplied symbol.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized := normalizeSymbol(symbol)
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(normalized), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("state: token %s not registered", normalized)
	}
	return meta, nil
}

// TokenExists reports whether the symbol has been registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(normalizeSymbol(symbol)), meta)
	return err == nil && ok
}

// TokenList returns the registered symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// IsCollateralAllowed reports whether the symbol is on the collateral
// allow-list.
func (m *Manager) IsCollateralAllowed(symbol string) bool {
	meta, err := m.Token(symbol)
	if err != nil {
		return false
	}
	return meta.CollateralAllowed
}

// --- Balances ---

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr)+1+len(symbol))
	buf = append(buf, balancePrefix...)
	buf = append(buf, addr...)
	buf = append(buf, ':')
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}

// SetBalance stores the balance for (addr, symbol). Negative amounts are
// rejected.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %s", normalizeSymbol(symbol))
	}
	return m.KVPut(balanceKey(addr, normalizeSymbol(symbol)), amount)
}

// Balance loads the balance for (addr, symbol), defaulting to zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// --- Roles ---

// SetRole grants the role to the address. Granting an already-held role is a
// no-op.
func (m *Manager) SetRole(role string, addr []byte) error {
	key := roleKey(role)
	var members [][]byte
	if _, err := m.KVGet(key, &members); err != nil {
		return err
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i], members[j]) < 0 })
	return m.KVPut(key, members)
}

// HasRole reports whether the address holds the role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	var members [][]byte
	ok, err := m.KVGet(roleKey(role), &members)
	if err != nil || !ok {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// RoleMembers returns every address holding the role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	var members [][]byte
	if _, err := m.KVGet(roleKey(role), &members); err != nil {
		return nil, err
	}
	return members, nil
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], strings.ToLower(strings.TrimSpace(role)))
	return ethcrypto.Keccak256(buf)
}

// --- Module pauses ---

// SetPaused toggles the pause flag for a native module.
func (m *Manager) SetPaused(module string, paused bool) error {
	return m.KVPut(pauseKey(module), paused)
}

// IsPaused reports whether the module is paused. It satisfies
// common.PauseView.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	return err == nil && ok && paused
}

func pauseKey(module string) []byte {
	buf := make([]byte, len(pausePrefix)+len(module))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], strings.ToLower(strings.TrimSpace(module)))
	return ethcrypto.Keccak256(buf)
}
