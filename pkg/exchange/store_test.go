package exchange

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

// TestRestartRestoresState runs a full session, closes the store, reopens it
// and checks that balances, orders, the order counter and the event sequence
// all survive.
func TestRestartRestoresState(t *testing.T) {
	dbPath := t.TempDir() + "/exchange.db"
	cfg := params.Default().Exchange

	tok := token.New("DApp Token", "DAPP", 18, e18(1_000_000), taker)
	registry := token.NewRegistry()
	registry.Register(assetX, tok)
	clock := &util.FakeClock{Time: time.UnixMilli(1_700_000_000_000)}

	store, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ex, err := New(cfg, registry, store, clock, nil)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}

	if err := ex.DepositNative(maker, e18(3)); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
	if err := tok.Approve(taker, cfg.Custody, e18(20)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ex.DepositToken(taker, assetX, e18(20)); err != nil {
		t.Fatalf("deposit token: %v", err)
	}
	if _, err := ex.MakeOrder(maker, assetX, e18(2), NativeAsset, e18(1)); err != nil {
		t.Fatalf("make order: %v", err)
	}
	id2, err := ex.MakeOrder(maker, assetX, e18(1), NativeAsset, e18(1))
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := ex.CancelOrder(maker, id2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := ex.FillOrder(taker, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	seqBefore := ex.Feed().Len()

	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store2, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store2.Close() })

	ex2, err := New(cfg, registry, store2, clock, nil)
	if err != nil {
		t.Fatalf("rebuild exchange: %v", err)
	}

	requireBalance(t, ex2, NativeAsset, maker, e18(2))
	requireBalance(t, ex2, assetX, maker, e18(2))
	requireBalance(t, ex2, NativeAsset, taker, e18(1))
	// 20 - 2 - 0.2 fee
	requireBalance(t, ex2, assetX, taker, uint256.MustFromDecimal("17800000000000000000"))
	requireBalance(t, ex2, assetX, cfg.FeeAccount, uint256.MustFromDecimal("200000000000000000"))

	if ex2.OrderCount() != 2 {
		t.Errorf("order count = %d, want 2", ex2.OrderCount())
	}
	if filled, _ := ex2.OrderFilled(1); !filled {
		t.Error("order 1 lost its filled flag")
	}
	if cancelled, _ := ex2.OrderCancelled(id2); !cancelled {
		t.Error("order 2 lost its cancelled flag")
	}
	o, err := ex2.Order(1)
	if err != nil {
		t.Fatalf("read order 1: %v", err)
	}
	if o.Owner != maker || !o.AmountGet.Eq(e18(2)) || !o.AmountGive.Eq(e18(1)) {
		t.Errorf("order 1 fields mangled: %+v", o)
	}

	// New events keep numbering from where the old process stopped
	if err := ex2.DepositNative(maker, e18(1)); err != nil {
		t.Fatalf("deposit after restart: %v", err)
	}
	events := ex2.Feed().Events()
	if got := events[len(events)-1].Seq; got != seqBefore+1 {
		t.Errorf("first post-restart seq = %d, want %d", got, seqBefore+1)
	}
}

func TestRecentEvents(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/exchange.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := token.NewRegistry()
	registry.Register(assetX, token.New("DApp Token", "DAPP", 18, e18(1_000_000), taker))
	ex, err := New(params.Default().Exchange, registry, store, nil, nil)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := ex.DepositNative(maker, e18(1)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	raw, err := store.RecentEvents(3)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("expected 3 events, got %d", len(raw))
	}

	// Newest first
	var first struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(raw[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Seq != 5 {
		t.Errorf("first seq = %d, want 5", first.Seq)
	}
}
