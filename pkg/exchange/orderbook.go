package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order is one entry of the order table. AmountGet of AssetGet is what the
// maker wants; AmountGive of AssetGive is what the maker pays. Timestamp is
// observability only, never logic. Cancelled and Filled are each set at most
// once; either one makes the order terminal.
type Order struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // unix ms at creation
	Cancelled  bool           `json:"cancelled"`
	Filled     bool           `json:"filled"`
}

// Terminal reports whether the order permits no further transition.
func (o *Order) Terminal() bool {
	return o.Cancelled || o.Filled
}

func (o *Order) clone() *Order {
	cp := *o
	cp.AmountGet = o.AmountGet.Clone()
	cp.AmountGive = o.AmountGive.Clone()
	return &cp
}

// Book is the order table. Ids come from a single counter starting at 1,
// incremented once per created order, never reused; orders are never deleted.
// Like the Ledger it relies on the exchange's operation lock.
type Book struct {
	orders map[uint64]*Order
	count  uint64
}

func NewBook() *Book {
	return &Book{orders: make(map[uint64]*Order)}
}

// Get returns the order for id, or ErrOrderNotFound for id 0 or an id beyond
// the counter.
func (b *Book) Get(id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d (count %d)", ErrOrderNotFound, id, b.count)
	}
	return o, nil
}

// Count returns the id of the most recently created order.
func (b *Book) Count() uint64 {
	return b.count
}

// All snapshots every order, unordered.
func (b *Book) All() []*Order {
	out := make([]*Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.clone())
	}
	return out
}

// Restore reinserts a persisted order and advances the counter past it.
func (b *Book) Restore(o *Order) {
	b.orders[o.ID] = o
	if o.ID > b.count {
		b.count = o.ID
	}
}
