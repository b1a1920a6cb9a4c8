package api

// API request/response types for REST endpoints. Amounts travel as decimal
// strings of the smallest asset unit.

// ==============================
// REST Response Types
// ==============================

// ConfigInfo reports the exchange parameters fixed at construction.
type ConfigInfo struct {
	FeeAccount    string `json:"feeAccount"`
	FeePercent    uint64 `json:"feePercent"`
	AllowSelfFill bool   `json:"allowSelfFill"`
	NativeAsset   string `json:"nativeAsset"`
}

// BalanceInfo is one ledger read.
type BalanceInfo struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

// OrderInfo mirrors one order-table row.
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"`
	Cancelled  bool   `json:"cancelled"`
	Filled     bool   `json:"filled"`
}

// OrderCountInfo reports the order counter.
type OrderCountInfo struct {
	Count uint64 `json:"count"`
}

// OpResult acknowledges a mutating operation.
type OpResult struct {
	Status  string `json:"status"`
	OrderID uint64 `json:"orderId,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// TransferRequest covers deposits and withdrawals. Asset is omitted on the
// native paths. Caller stands in for the host-supplied identity.
type TransferRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount"`
}

// MakeOrderRequest creates an order.
type MakeOrderRequest struct {
	Caller     string `json:"caller"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest cancels or fills an existing order.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}
