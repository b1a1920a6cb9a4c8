// Package token defines the narrow fungible-asset ledger interface the
// exchange settles against, plus an in-memory reference implementation with
// standard transfer/approve/delegated-transfer semantics.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address recipient")
	ErrUnknownAsset          = errors.New("token: unknown asset")
)

// Ledger is the exchange's view of an external fungible asset. The exchange
// pulls deposits with TransferFrom (after the owner's prior Approve) and
// pushes withdrawals with Transfer.
type Ledger interface {
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Allowance(owner, spender common.Address) *uint256.Int
}

// Token is an in-memory fungible asset ledger. The full supply is minted to
// the deployer at construction.
type Token struct {
	mu sync.RWMutex

	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int

	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// New creates a token and assigns totalSupply to deployer.
func New(name, symbol string, decimals uint8, totalSupply *uint256.Int, deployer common.Address) *Token {
	t := &Token{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		TotalSupply: totalSupply.Clone(),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
	t.balances[deployer] = totalSupply.Clone()
	return t
}

// BalanceOf returns the owner's balance (zero if absent).
func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if bal, ok := t.balances[owner]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

// Transfer moves amount from from to to. Fails if from holds less than
// amount, or if to is the zero address.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

func (t *Token) transferLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	fromBal, ok := t.balances[from]
	if !ok || fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s",
			ErrInsufficientBalance, from.Hex(), balString(fromBal), amount.Dec())
	}

	fromBal.Sub(fromBal, amount)

	toBal, ok := t.balances[to]
	if !ok {
		toBal = uint256.NewInt(0)
		t.balances[to] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

// Approve authorizes spender to move up to amount of owner's balance.
// A second approval overwrites the first.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	spenders, ok := t.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = spenders
	}
	spenders[spender] = amount.Clone()
	return nil
}

// Allowance returns what spender may still move on owner's behalf.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if spenders, ok := t.allowances[owner]; ok {
		if a, ok := spenders[spender]; ok {
			return a.Clone()
		}
	}
	return uint256.NewInt(0)
}

// TransferFrom moves amount from from to to on spender's authority,
// decrementing the allowance. Fails before any state change if the allowance
// or the balance is short.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := uint256.NewInt(0)
	if spenders, ok := t.allowances[from]; ok {
		if a, ok := spenders[spender]; ok {
			allowance = a
		}
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: approved %s, need %s",
			ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}

	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}

	allowance.Sub(allowance, amount)
	return nil
}

func balString(b *uint256.Int) string {
	if b == nil {
		return "0"
	}
	return b.Dec()
}

// Registry resolves asset identifiers to their ledgers. The exchange consults
// it on every token deposit and withdrawal.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]Ledger
}

func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[common.Address]Ledger)}
}

// Register binds an asset identifier to its ledger. Re-registering an
// identifier replaces the previous binding.
func (r *Registry) Register(asset common.Address, ledger Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[asset] = ledger
}

// Resolve returns the ledger for asset, or ErrUnknownAsset.
func (r *Registry) Resolve(asset common.Address) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ledger, ok := r.ledgers[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return ledger, nil
}
