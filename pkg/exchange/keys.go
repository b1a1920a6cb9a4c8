package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// Design principles:
// 1. Prefix-based for range scans (all balances, all orders, all events)
// 2. Big-endian ids/sequences for lexicographic = numeric ordering

const (
	prefixBalance = "bal:" // one ledger cell per (asset, owner)
	prefixOrder   = "ord:" // order table, keyed by id
	prefixEvent   = "evt:" // append-only event log, keyed by sequence
	keyOrderCount = "meta:ordercount"
	keyEventSeq   = "meta:eventseq"
)

// balanceStoreKey returns the key for one ledger cell
// Format: "bal:{asset}:{owner}"
func balanceStoreKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), owner.Hex()))
}

// orderStoreKey returns the key for an order
// Format: "ord:" + 8-byte big-endian id
func orderStoreKey(id uint64) []byte {
	key := make([]byte, len(prefixOrder)+8)
	copy(key, prefixOrder)
	binary.BigEndian.PutUint64(key[len(prefixOrder):], id)
	return key
}

// eventStoreKey returns the key for an event record
// Format: "evt:" + 8-byte big-endian sequence
func eventStoreKey(seq uint64) []byte {
	key := make([]byte, len(prefixEvent)+8)
	copy(key, prefixEvent)
	binary.BigEndian.PutUint64(key[len(prefixEvent):], seq)
	return key
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
