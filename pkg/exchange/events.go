package exchange

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags an event record.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindOrder    Kind = "order"
	KindCancel   Kind = "cancel"
	KindTrade    Kind = "trade"
)

// Event is one record of the append-only log. Seq is assigned from 1 and
// strictly increases. The exchange only writes the log; it never reads it
// back for its own logic.
type Event struct {
	Seq  uint64 `json:"seq"`
	Kind Kind   `json:"kind"`
	Data any    `json:"data"`
}

// DepositData and WithdrawData carry the post-operation balance so observers
// need no extra query. Amounts are decimal strings of the smallest unit.
type DepositData struct {
	Asset   common.Address `json:"asset"`
	User    common.Address `json:"user"`
	Amount  string         `json:"amount"`
	Balance string         `json:"balance"`
}

type WithdrawData struct {
	Asset   common.Address `json:"asset"`
	User    common.Address `json:"user"`
	Amount  string         `json:"amount"`
	Balance string         `json:"balance"`
}

// OrderData is emitted on creation; CancelData mirrors it with the
// cancellation time.
type OrderData struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  string         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive string         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // unix ms
}

type CancelData struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  string         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive string         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // unix ms, time of cancel
}

// TradeData reports a settled fill. User is the maker, UserFill the taker.
type TradeData struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  string         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive string         `json:"amountGive"`
	UserFill   common.Address `json:"userFill"`
	Timestamp  int64          `json:"timestamp"` // unix ms, time of fill
}

// Feed is the in-process event log with subscriber fan-out. Appends happen
// inside the exchange's operation lock, so subscribers observe events in
// commit order. Slow subscribers lose events rather than stall the exchange.
type Feed struct {
	mu     sync.RWMutex
	events []Event
	// base offsets sequence numbers past events persisted by earlier runs.
	// Those stay in the store; the in-memory slice holds this run only.
	base   uint64
	subs   map[int]chan Event
	nextID int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// nextSeq returns the sequence number the next event will carry. The
// exchange stamps the event, persists it, then hands it to publish.
func (f *Feed) nextSeq() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base + uint64(len(f.events)) + 1
}

// publish records an already-committed event and fans it out. Called by the
// exchange with its operation lock held, so events arrive in commit order.
func (f *Feed) publish(ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	subs := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// subscriber buffer full, drop
		}
	}
}

// Events returns a copy of the events appended during this process lifetime.
func (f *Feed) Events() []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Len returns the total number of events ever emitted, including persisted
// events from earlier runs.
func (f *Feed) Len() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base + uint64(len(f.events))
}

// Subscribe returns a buffered channel of future events and a cancel func.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Event, buffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (f *Feed) restoreSeq(lastSeq uint64) {
	f.mu.Lock()
	f.base = lastSeq
	f.mu.Unlock()
}
