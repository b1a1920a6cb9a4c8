package exchange

import "github.com/ethereum/go-ethereum/common"

// NativeAsset is the reserved identifier for the chain's native asset. Every
// other identifier names an external token ledger.
var NativeAsset = common.Address{}

// IsNative reports whether asset is the reserved native-asset identifier.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}
