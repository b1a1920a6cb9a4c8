package exchange

import "errors"

// Every public operation fails atomically: on any of these errors the ledger,
// the order table and the counters are exactly as they were before the call.
var (
	// ErrInvalidAsset: the native sentinel was used where an external asset
	// is required (token deposit/withdraw paths).
	ErrInvalidAsset = errors.New("exchange: invalid asset")

	// ErrInsufficientBalance: a withdrawal or a fill-time debit exceeds the
	// current ledger balance.
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")

	// ErrTransferFailed: the external token ledger rejected a pull or push;
	// the rejection aborts the whole operation.
	ErrTransferFailed = errors.New("exchange: token transfer failed")

	// ErrUnauthorized: cancel attempted by someone other than the order owner.
	ErrUnauthorized = errors.New("exchange: not order owner")

	// ErrOrderNotFound: the id is zero or beyond the current counter.
	ErrOrderNotFound = errors.New("exchange: order not found")

	// ErrOrderTerminal: the order is already cancelled or filled.
	ErrOrderTerminal = errors.New("exchange: order already cancelled or filled")

	// ErrUnroutedValue: native value arrived outside the deposit path.
	ErrUnroutedValue = errors.New("exchange: native value must use DepositNative")

	// ErrSelfFill: the maker tried to fill their own order while the
	// configuration forbids self-trades.
	ErrSelfFill = errors.New("exchange: self fill not permitted")
)
