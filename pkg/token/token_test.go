package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	deployer = common.HexToAddress("0xDD00000000000000000000000000000000000000")
	receiver = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	exchange = common.HexToAddress("0x00000000000000000000000000000000C0570d1a")
)

func supply() *uint256.Int {
	// 1,000,000 units at 18 decimals
	return uint256.MustFromDecimal("1000000000000000000000000")
}

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.MustFromDecimal("1000000000000000000"))
}

func newTestToken() *Token {
	return New("DApp Token", "DAPP", 18, supply(), deployer)
}

func TestNewAssignsSupplyToDeployer(t *testing.T) {
	tok := newTestToken()

	if tok.Name != "DApp Token" || tok.Symbol != "DAPP" || tok.Decimals != 18 {
		t.Errorf("metadata wrong: %s %s %d", tok.Name, tok.Symbol, tok.Decimals)
	}
	if !tok.TotalSupply.Eq(supply()) {
		t.Errorf("total supply = %s", tok.TotalSupply.Dec())
	}
	if got := tok.BalanceOf(deployer); !got.Eq(supply()) {
		t.Errorf("deployer balance = %s, want full supply", got.Dec())
	}
	if got := tok.BalanceOf(receiver); !got.IsZero() {
		t.Errorf("stranger balance = %s, want 0", got.Dec())
	}
}

func TestTransfer(t *testing.T) {
	tok := newTestToken()

	if err := tok.Transfer(deployer, receiver, tokens(100)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	want := new(uint256.Int).Sub(supply(), tokens(100))
	if got := tok.BalanceOf(deployer); !got.Eq(want) {
		t.Errorf("sender balance = %s, want %s", got.Dec(), want.Dec())
	}
	if got := tok.BalanceOf(receiver); !got.Eq(tokens(100)) {
		t.Errorf("receiver balance = %s, want %s", got.Dec(), tokens(100).Dec())
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	tok := newTestToken()

	over := new(uint256.Int).Add(supply(), uint256.NewInt(1))
	if err := tok.Transfer(deployer, receiver, over); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Sender with no balance at all
	if err := tok.Transfer(receiver, deployer, tokens(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := tok.BalanceOf(deployer); !got.Eq(supply()) {
		t.Errorf("failed transfers moved balance to %s", got.Dec())
	}
}

func TestTransferRejectsZeroAddress(t *testing.T) {
	tok := newTestToken()

	if err := tok.Transfer(deployer, common.Address{}, tokens(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestApproveAndAllowance(t *testing.T) {
	tok := newTestToken()

	if err := tok.Approve(deployer, exchange, tokens(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := tok.Allowance(deployer, exchange); !got.Eq(tokens(100)) {
		t.Errorf("allowance = %s, want %s", got.Dec(), tokens(100).Dec())
	}

	// A second approval replaces, not adds
	if err := tok.Approve(deployer, exchange, tokens(40)); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if got := tok.Allowance(deployer, exchange); !got.Eq(tokens(40)) {
		t.Errorf("allowance after re-approve = %s, want %s", got.Dec(), tokens(40).Dec())
	}

	if err := tok.Approve(deployer, common.Address{}, tokens(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestTransferFrom(t *testing.T) {
	tok := newTestToken()

	if err := tok.Approve(deployer, exchange, tokens(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.TransferFrom(exchange, deployer, receiver, tokens(60)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := tok.BalanceOf(receiver); !got.Eq(tokens(60)) {
		t.Errorf("receiver balance = %s, want %s", got.Dec(), tokens(60).Dec())
	}
	if got := tok.Allowance(deployer, exchange); !got.Eq(tokens(40)) {
		t.Errorf("allowance = %s, want %s", got.Dec(), tokens(40).Dec())
	}

	// The remaining allowance no longer covers another 60
	if err := tok.TransferFrom(exchange, deployer, receiver, tokens(60)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestTransferFromWithoutApproval(t *testing.T) {
	tok := newTestToken()

	if err := tok.TransferFrom(exchange, deployer, receiver, tokens(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestTransferFromAllowanceExceedsBalance(t *testing.T) {
	tok := newTestToken()

	// Allowance is generous but the owner's balance is not
	if err := tok.Transfer(deployer, receiver, tokens(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := tok.Approve(receiver, exchange, tokens(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.TransferFrom(exchange, receiver, deployer, tokens(50)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// The failed pull must not burn allowance
	if got := tok.Allowance(receiver, exchange); !got.Eq(tokens(100)) {
		t.Errorf("allowance after failed pull = %s, want %s", got.Dec(), tokens(100).Dec())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	asset := common.HexToAddress("0x0000000000000000000000000000000000Da0001")

	if _, err := r.Resolve(asset); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}

	tok := newTestToken()
	r.Register(asset, tok)
	got, err := r.Resolve(asset)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != Ledger(tok) {
		t.Error("resolve returned a different ledger")
	}
}
