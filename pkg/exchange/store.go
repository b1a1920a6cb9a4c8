package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store provides Pebble-based persistence for the balance ledger, the order
// table and the event log. Every mutating exchange operation writes through a
// single Batch so its cells, order row and event record land atomically.
type Store struct {
	db *pebble.DB
}

// OpenStore opens a Pebble database at the given path.
func OpenStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:          32 << 20,                  // 32MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20, // 64MB
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBalances loads every persisted ledger cell.
func (s *Store) LoadBalances() ([]BalanceEntry, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate balances: %w", err)
	}
	defer iter.Close()

	var entries []BalanceEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var entry BalanceEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("corrupt balance entry at %q: %w", iter.Key(), err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadOrders loads the full order table in id order.
func (s *Store) LoadOrders() ([]*Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	defer iter.Close()

	var orders []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("corrupt order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, nil
}

// LoadOrderCount returns the persisted order counter, zero if never written.
func (s *Store) LoadOrderCount() (uint64, error) {
	return s.loadCounter([]byte(keyOrderCount))
}

// LoadEventSeq returns the last persisted event sequence, zero if none.
func (s *Store) LoadEventSeq() (uint64, error) {
	return s.loadCounter([]byte(keyEventSeq))
}

func (s *Store) loadCounter(key []byte) (uint64, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt counter %q: %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// RecentEvents returns up to limit persisted event records, newest first,
// as raw JSON envelopes.
func (s *Store) RecentEvents(limit int) ([]json.RawMessage, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	defer iter.Close()

	var events []json.RawMessage
	for iter.Last(); iter.Valid() && len(events) < limit; iter.Prev() {
		raw := make([]byte, len(iter.Value()))
		copy(raw, iter.Value())
		events = append(events, raw)
	}
	return events, nil
}

// Batch accumulates the writes of one exchange operation and commits them
// atomically.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// SetBalance stages one ledger cell.
func (b *Batch) SetBalance(entry BalanceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.batch.Set(balanceStoreKey(entry.Asset, entry.Owner), data, nil)
}

// SaveOrder stages the full order row (create or flag update).
func (b *Batch) SaveOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderStoreKey(o.ID), data, nil)
}

// SetOrderCount stages the order counter.
func (b *Batch) SetOrderCount(count uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)
	return b.batch.Set([]byte(keyOrderCount), buf[:], nil)
}

// AppendEvent stages one event record and the sequence counter.
func (b *Batch) AppendEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.batch.Set(eventStoreKey(ev.Seq), data, nil); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ev.Seq)
	return b.batch.Set([]byte(keyEventSeq), buf[:], nil)
}

// Commit writes the batch durably and atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
