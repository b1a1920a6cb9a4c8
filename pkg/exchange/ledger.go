package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// balanceKey addresses one ledger cell.
type balanceKey struct {
	Asset common.Address
	Owner common.Address
}

// BalanceEntry is the persisted form of one ledger cell.
type BalanceEntry struct {
	Asset  common.Address `json:"asset"`
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

// Ledger is the internal (asset, owner) → amount table. It carries no lock of
// its own: the exchange serializes every operation, mirroring the host
// environment's one-call-at-a-time execution.
type Ledger struct {
	balances map[balanceKey]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[balanceKey]*uint256.Int)}
}

// Balance returns the current amount for (asset, owner), zero if absent.
func (l *Ledger) Balance(asset, owner common.Address) *uint256.Int {
	if bal, ok := l.balances[balanceKey{asset, owner}]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

// Credit adds amount to (asset, owner) and returns the new balance.
func (l *Ledger) Credit(asset, owner common.Address, amount *uint256.Int) *uint256.Int {
	key := balanceKey{asset, owner}
	bal, ok := l.balances[key]
	if !ok {
		bal = uint256.NewInt(0)
		l.balances[key] = bal
	}
	bal.Add(bal, amount)
	return bal.Clone()
}

// Debit subtracts amount from (asset, owner) and returns the new balance.
// Fails without touching the cell if the balance would go negative.
func (l *Ledger) Debit(asset, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	key := balanceKey{asset, owner}
	bal, ok := l.balances[key]
	if !ok || bal.Lt(amount) {
		have := uint256.NewInt(0)
		if ok {
			have = bal
		}
		return nil, fmt.Errorf("%w: %s holds %s of %s, need %s",
			ErrInsufficientBalance, owner.Hex(), have.Dec(), asset.Hex(), amount.Dec())
	}
	bal.Sub(bal, amount)
	return bal.Clone(), nil
}

// Set overwrites one cell. Used when reloading persisted state.
func (l *Ledger) Set(asset, owner common.Address, amount *uint256.Int) {
	l.balances[balanceKey{asset, owner}] = amount.Clone()
}

// Entries snapshots every non-zero cell.
func (l *Ledger) Entries() []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(l.balances))
	for key, bal := range l.balances {
		if bal.IsZero() {
			continue
		}
		entries = append(entries, BalanceEntry{Asset: key.Asset, Owner: key.Owner, Amount: bal.Clone()})
	}
	return entries
}

// scratch stages balance mutations against the ledger without applying them.
// Settlement runs its debits and credits here in order; a failed step
// discards the scratch, an all-good run commits every touched cell at once.
// Reads alias correctly when the same (asset, owner) cell appears in several
// steps, e.g. a fee account that is also the taker.
type scratch struct {
	ledger *Ledger
	vals   map[balanceKey]*uint256.Int
}

func newScratch(l *Ledger) *scratch {
	return &scratch{ledger: l, vals: make(map[balanceKey]*uint256.Int)}
}

func (s *scratch) get(asset, owner common.Address) *uint256.Int {
	key := balanceKey{asset, owner}
	if v, ok := s.vals[key]; ok {
		return v
	}
	v := s.ledger.Balance(asset, owner)
	s.vals[key] = v
	return v
}

func (s *scratch) credit(asset, owner common.Address, amount *uint256.Int) {
	v := s.get(asset, owner)
	v.Add(v, amount)
}

func (s *scratch) debit(asset, owner common.Address, amount *uint256.Int) error {
	v := s.get(asset, owner)
	if v.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, need %s",
			ErrInsufficientBalance, owner.Hex(), v.Dec(), asset.Hex(), amount.Dec())
	}
	v.Sub(v, amount)
	return nil
}

// commit writes every staged cell back to the ledger.
func (s *scratch) commit() {
	for key, v := range s.vals {
		s.ledger.Set(key.Asset, key.Owner, v)
	}
}

// entries lists the staged cells, for persistence alongside the commit.
func (s *scratch) entries() []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(s.vals))
	for key, v := range s.vals {
		entries = append(entries, BalanceEntry{Asset: key.Asset, Owner: key.Owner, Amount: v.Clone()})
	}
	return entries
}
