// Package exchange implements a custodial single-venue exchange: a balance
// ledger for the native asset and external tokens, an id-keyed order table,
// and an atomic maker/taker settlement engine with a proportional taker fee.
//
// Every public operation executes as one serialized, all-or-nothing unit. The
// one ordering rule that matters when a call crosses into an external token
// ledger: internal ledger state is settled before control leaves the
// exchange (debit-then-push on withdrawal, pull-then-credit on deposit).
package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

type Exchange struct {
	mu sync.RWMutex

	cfg    params.Exchange
	ledger *Ledger
	book   *Book
	feed   *Feed
	tokens *token.Registry
	store  *Store
	clock  util.Clock
	log    *zap.Logger
}

// New builds an exchange over the given token registry and store, reloading
// any persisted ledger, order table and event sequence. FeeAccount and
// FeePercent are fixed for the exchange's lifetime.
func New(cfg params.Exchange, tokens *token.Registry, store *Store, clock util.Clock, logger *zap.Logger) (*Exchange, error) {
	if tokens == nil {
		return nil, fmt.Errorf("exchange: nil token registry")
	}
	if store == nil {
		return nil, fmt.Errorf("exchange: nil store")
	}
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("exchange: fee percent %d out of range", cfg.FeePercent)
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Exchange{
		cfg:    cfg,
		ledger: NewLedger(),
		book:   NewBook(),
		feed:   NewFeed(),
		tokens: tokens,
		store:  store,
		clock:  clock,
		log:    logger,
	}

	balances, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("exchange: load balances: %w", err)
	}
	for _, entry := range balances {
		e.ledger.Set(entry.Asset, entry.Owner, entry.Amount)
	}

	orders, err := store.LoadOrders()
	if err != nil {
		return nil, fmt.Errorf("exchange: load orders: %w", err)
	}
	for _, o := range orders {
		e.book.Restore(o)
	}

	count, err := store.LoadOrderCount()
	if err != nil {
		return nil, fmt.Errorf("exchange: load order count: %w", err)
	}
	if count > e.book.Count() {
		return nil, fmt.Errorf("exchange: order counter %d ahead of table size %d", count, e.book.Count())
	}

	seq, err := store.LoadEventSeq()
	if err != nil {
		return nil, fmt.Errorf("exchange: load event seq: %w", err)
	}
	e.feed.restoreSeq(seq)

	logger.Info("exchange_ready",
		zap.String("fee_account", cfg.FeeAccount.Hex()),
		zap.Uint64("fee_percent", cfg.FeePercent),
		zap.Uint64("orders", e.book.Count()),
		zap.Int("balance_cells", len(balances)),
	)
	return e, nil
}

// FeeAccount returns the identity receiving all taker fees.
func (e *Exchange) FeeAccount() common.Address { return e.cfg.FeeAccount }

// FeePercent returns the integer fee percentage.
func (e *Exchange) FeePercent() uint64 { return e.cfg.FeePercent }

// AllowSelfFill reports whether a maker may fill their own order.
func (e *Exchange) AllowSelfFill() bool { return e.cfg.AllowSelfFill }

// Feed exposes the event log for observers. The exchange never reads it back.
func (e *Exchange) Feed() *Feed { return e.feed }

// BalanceOf returns the ledger amount for (asset, owner), zero if absent.
func (e *Exchange) BalanceOf(asset, owner common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Balance(asset, owner)
}

// OrderCount returns the id of the most recently created order.
func (e *Exchange) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Count()
}

// Order returns a copy of the order with the given id.
func (e *Exchange) Order(id uint64) (*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.book.Get(id)
	if err != nil {
		return nil, err
	}
	return o.clone(), nil
}

// OrderCancelled reports the order's cancelled flag.
func (e *Exchange) OrderCancelled(id uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.book.Get(id)
	if err != nil {
		return false, err
	}
	return o.Cancelled, nil
}

// OrderFilled reports the order's filled flag.
func (e *Exchange) OrderFilled(id uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.book.Get(id)
	if err != nil {
		return false, err
	}
	return o.Filled, nil
}

// Orders snapshots the whole order table.
func (e *Exchange) Orders() []*Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.All()
}

// ReceiveNative rejects native value arriving outside DepositNative, so no
// value can enter custody without a ledger entry.
func (e *Exchange) ReceiveNative(caller common.Address, value *uint256.Int) error {
	e.log.Warn("unrouted_native_value",
		zap.String("from", caller.Hex()),
		zap.String("amount", nz(value).Dec()),
	)
	return ErrUnroutedValue
}

// DepositNative credits the caller's native balance with the value attached
// to the call.
func (e *Exchange) DepositNative(caller common.Address, value *uint256.Int) error {
	value = nz(value)

	e.mu.Lock()
	defer e.mu.Unlock()

	newBal := e.ledger.Balance(NativeAsset, caller)
	newBal.Add(newBal, value)

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindDeposit, Data: DepositData{
		Asset: NativeAsset, User: caller, Amount: value.Dec(), Balance: newBal.Dec(),
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SetBalance(BalanceEntry{Asset: NativeAsset, Owner: caller, Amount: newBal}); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	e.ledger.Set(NativeAsset, caller, newBal)
	e.feed.publish(ev)
	e.log.Info("deposit",
		zap.String("asset", "native"),
		zap.String("user", caller.Hex()),
		zap.String("amount", value.Dec()),
		zap.String("balance", newBal.Dec()),
	)
	return nil
}

// DepositToken pulls amount of asset from the caller via the token ledger's
// delegated transfer (which requires the caller's prior approval of the
// custody identity) and credits the caller's exchange balance. The pull runs
// first so a rejected transfer leaves the ledger untouched.
func (e *Exchange) DepositToken(caller, asset common.Address, amount *uint256.Int) error {
	if IsNative(asset) {
		return fmt.Errorf("%w: native deposits must use DepositNative", ErrInvalidAsset)
	}
	amount = nz(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := tok.TransferFrom(e.cfg.Custody, caller, e.cfg.Custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	newBal := e.ledger.Balance(asset, caller)
	newBal.Add(newBal, amount)

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindDeposit, Data: DepositData{
		Asset: asset, User: caller, Amount: amount.Dec(), Balance: newBal.Dec(),
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SetBalance(BalanceEntry{Asset: asset, Owner: caller, Amount: newBal}); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		// Undo the pull so custody holds nothing the ledger doesn't account for.
		if rerr := tok.Transfer(e.cfg.Custody, caller, amount); rerr != nil {
			e.log.Error("deposit_refund_failed", zap.String("user", caller.Hex()), zap.Error(rerr))
		}
		return err
	}

	e.ledger.Set(asset, caller, newBal)
	e.feed.publish(ev)
	e.log.Info("deposit",
		zap.String("asset", asset.Hex()),
		zap.String("user", caller.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("balance", newBal.Dec()),
	)
	return nil
}

// WithdrawNative debits the caller's native balance. The debit settles before
// the host releases the value, so a reentrant call observes the reduced
// balance.
func (e *Exchange) WithdrawNative(caller common.Address, amount *uint256.Int) error {
	amount = nz(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	newBal := e.ledger.Balance(NativeAsset, caller)
	if newBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s native, need %s",
			ErrInsufficientBalance, caller.Hex(), newBal.Dec(), amount.Dec())
	}
	newBal.Sub(newBal, amount)

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindWithdraw, Data: WithdrawData{
		Asset: NativeAsset, User: caller, Amount: amount.Dec(), Balance: newBal.Dec(),
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SetBalance(BalanceEntry{Asset: NativeAsset, Owner: caller, Amount: newBal}); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	e.ledger.Set(NativeAsset, caller, newBal)
	e.feed.publish(ev)
	e.log.Info("withdraw",
		zap.String("asset", "native"),
		zap.String("user", caller.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("balance", newBal.Dec()),
	)
	return nil
}

// WithdrawToken debits the caller's exchange balance, then pushes amount of
// asset from custody to the caller. Debit before push: the token ledger must
// never observe a stale balance. A rejected push restores the debit.
func (e *Exchange) WithdrawToken(caller, asset common.Address, amount *uint256.Int) error {
	if IsNative(asset) {
		return fmt.Errorf("%w: native withdrawals must use WithdrawNative", ErrInvalidAsset)
	}
	amount = nz(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	newBal, err := e.ledger.Debit(asset, caller, amount)
	if err != nil {
		return err
	}

	if err := tok.Transfer(e.cfg.Custody, caller, amount); err != nil {
		e.ledger.Credit(asset, caller, amount)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindWithdraw, Data: WithdrawData{
		Asset: asset, User: caller, Amount: amount.Dec(), Balance: newBal.Dec(),
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SetBalance(BalanceEntry{Asset: asset, Owner: caller, Amount: newBal}); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	e.feed.publish(ev)
	e.log.Info("withdraw",
		zap.String("asset", asset.Hex()),
		zap.String("user", caller.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("balance", newBal.Dec()),
	)
	return nil
}

// MakeOrder stores a new order and returns its id. No balance check happens
// here: the maker's ability to pay is validated lazily, at fill time.
func (e *Exchange) MakeOrder(caller, assetGet common.Address, amountGet *uint256.Int, assetGive common.Address, amountGive *uint256.Int) (uint64, error) {
	amountGet = nz(amountGet)
	amountGive = nz(amountGive)

	e.mu.Lock()
	defer e.mu.Unlock()

	o := &Order{
		ID:         e.book.Count() + 1,
		Owner:      caller,
		AssetGet:   assetGet,
		AmountGet:  amountGet.Clone(),
		AssetGive:  assetGive,
		AmountGive: amountGive.Clone(),
		Timestamp:  e.clock.Now().UnixMilli(),
	}

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindOrder, Data: OrderData{
		ID: o.ID, User: caller,
		AssetGet: assetGet, AmountGet: amountGet.Dec(),
		AssetGive: assetGive, AmountGive: amountGive.Dec(),
		Timestamp: o.Timestamp,
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SaveOrder(o); err != nil {
			return err
		}
		if err := b.SetOrderCount(o.ID); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return 0, err
	}

	e.book.Restore(o)
	e.feed.publish(ev)
	e.log.Info("order_created",
		zap.Uint64("id", o.ID),
		zap.String("owner", caller.Hex()),
		zap.String("asset_get", assetGet.Hex()),
		zap.String("amount_get", amountGet.Dec()),
		zap.String("asset_give", assetGive.Hex()),
		zap.String("amount_give", amountGive.Dec()),
	)
	return o.ID, nil
}

// CancelOrder flags the order cancelled. Only the owner may cancel, only
// while the order is neither cancelled nor filled.
func (e *Exchange) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(id)
	if err != nil {
		return err
	}
	if o.Owner != caller {
		return fmt.Errorf("%w: order %d belongs to %s", ErrUnauthorized, id, o.Owner.Hex())
	}
	if o.Terminal() {
		return fmt.Errorf("%w: id %d", ErrOrderTerminal, id)
	}

	cp := o.clone()
	cp.Cancelled = true

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindCancel, Data: CancelData{
		ID: o.ID, User: o.Owner,
		AssetGet: o.AssetGet, AmountGet: o.AmountGet.Dec(),
		AssetGive: o.AssetGive, AmountGive: o.AmountGive.Dec(),
		Timestamp: e.clock.Now().UnixMilli(),
	}}
	if err := e.commit(func(b *Batch) error {
		if err := b.SaveOrder(cp); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	o.Cancelled = true
	e.feed.publish(ev)
	e.log.Info("order_cancelled", zap.Uint64("id", id), zap.String("owner", caller.Hex()))
	return nil
}

// FillOrder settles the order against the caller as taker, as one
// indivisible unit:
//
//	fee = floor(amountGet * feePercent / 100), charged in assetGet
//	taker  assetGet  -= amountGet + fee
//	maker  assetGet  += amountGet
//	fees   assetGet  += fee
//	maker  assetGive -= amountGive
//	taker  assetGive += amountGive
//
// Either every mutation and the filled flag land, or none do. There is no
// partial fill.
func (e *Exchange) FillOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(id)
	if err != nil {
		return err
	}
	if o.Terminal() {
		return fmt.Errorf("%w: id %d", ErrOrderTerminal, id)
	}
	if o.Owner == caller && !e.cfg.AllowSelfFill {
		return fmt.Errorf("%w: order %d", ErrSelfFill, id)
	}

	fee := new(uint256.Int).Mul(o.AmountGet, uint256.NewInt(e.cfg.FeePercent))
	fee.Div(fee, uint256.NewInt(100))
	cost := new(uint256.Int).Add(o.AmountGet, fee)

	// Settlement runs on a scratch view; a failed step discards everything.
	s := newScratch(e.ledger)
	if err := s.debit(o.AssetGet, caller, cost); err != nil {
		return err
	}
	s.credit(o.AssetGet, o.Owner, o.AmountGet)
	s.credit(o.AssetGet, e.cfg.FeeAccount, fee)
	if err := s.debit(o.AssetGive, o.Owner, o.AmountGive); err != nil {
		return err
	}
	s.credit(o.AssetGive, caller, o.AmountGive)

	cp := o.clone()
	cp.Filled = true

	ev := Event{Seq: e.feed.nextSeq(), Kind: KindTrade, Data: TradeData{
		ID: o.ID, User: o.Owner,
		AssetGet: o.AssetGet, AmountGet: o.AmountGet.Dec(),
		AssetGive: o.AssetGive, AmountGive: o.AmountGive.Dec(),
		UserFill:  caller,
		Timestamp: e.clock.Now().UnixMilli(),
	}}
	if err := e.commit(func(b *Batch) error {
		for _, entry := range s.entries() {
			if err := b.SetBalance(entry); err != nil {
				return err
			}
		}
		if err := b.SaveOrder(cp); err != nil {
			return err
		}
		return b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	s.commit()
	o.Filled = true
	e.feed.publish(ev)
	e.log.Info("trade",
		zap.Uint64("id", id),
		zap.String("maker", o.Owner.Hex()),
		zap.String("taker", caller.Hex()),
		zap.String("amount_get", o.AmountGet.Dec()),
		zap.String("amount_give", o.AmountGive.Dec()),
		zap.String("fee", fee.Dec()),
	)
	return nil
}

// commit stages one operation's writes and lands them atomically.
func (e *Exchange) commit(build func(b *Batch) error) error {
	b := e.store.NewBatch()
	if err := build(b); err != nil {
		b.Close()
		return fmt.Errorf("exchange: stage batch: %w", err)
	}
	if err := b.Commit(); err != nil {
		b.Close()
		return fmt.Errorf("exchange: persist: %w", err)
	}
	return b.Close()
}

func nz(a *uint256.Int) *uint256.Int {
	if a == nil {
		return uint256.NewInt(0)
	}
	return a
}
