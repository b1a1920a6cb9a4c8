package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/token"
)

const (
	aliceHex = "0xAA00000000000000000000000000000000000000"
	bobHex   = "0xBB00000000000000000000000000000000000000"
	tokenHex = "0x0000000000000000000000000000000000Da0001"
)

func newTestServer(t *testing.T) (*Server, *token.Token, params.Exchange) {
	t.Helper()

	cfg := params.Default().Exchange
	store, err := exchange.OpenStore(t.TempDir() + "/exchange.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	supply := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.MustFromDecimal("1000000000000000000"))
	tok := token.New("DApp Token", "DAPP", 18, supply, common.HexToAddress(bobHex))
	registry := token.NewRegistry()
	registry.Register(common.HexToAddress(tokenHex), tok)

	ex, err := exchange.New(cfg, registry, store, nil, nil)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	return NewServer(ex, store, nil), tok, cfg
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestGetConfig(t *testing.T) {
	s, _, cfg := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/v1/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	info := decodeBody[ConfigInfo](t, rec)
	if info.FeeAccount != cfg.FeeAccount.Hex() || info.FeePercent != cfg.FeePercent {
		t.Errorf("config = %+v", info)
	}
	if info.NativeAsset != (common.Address{}).Hex() {
		t.Errorf("native asset = %s", info.NativeAsset)
	}
}

func TestDepositNativeAndReadBalance(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/deposits/native", TransferRequest{
		Caller: aliceHex, Amount: "1000000000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "GET", fmt.Sprintf("/api/v1/balances/%s/%s", (common.Address{}).Hex(), aliceHex), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	bal := decodeBody[BalanceInfo](t, rec)
	if bal.Balance != "1000000000000000000" {
		t.Errorf("balance = %s", bal.Balance)
	}
}

func TestDepositNativeRejectsBadBody(t *testing.T) {
	s, _, _ := newTestServer(t)

	for name, body := range map[string]TransferRequest{
		"bad caller": {Caller: "nope", Amount: "1"},
		"bad amount": {Caller: aliceHex, Amount: "1.5"},
	} {
		rec := doJSON(t, s, "POST", "/api/v1/deposits/native", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
	}
}

func TestDepositTokenWithoutApproval(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/deposits/token", TransferRequest{
		Caller: bobHex, Asset: tokenHex, Amount: "100",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body %s", rec.Code, rec.Body.String())
	}
}

func TestWithdrawNativeInsufficient(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/withdrawals/native", TransferRequest{
		Caller: aliceHex, Amount: "1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestOrderLifecycleOverREST(t *testing.T) {
	s, tok, cfg := newTestServer(t)

	// Fund both sides directly
	rec := doJSON(t, s, "POST", "/api/v1/deposits/native", TransferRequest{
		Caller: aliceHex, Amount: "1000000000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit native: %d", rec.Code)
	}
	if err := tok.Approve(common.HexToAddress(bobHex), cfg.Custody, uint256.MustFromDecimal("2000000000000000000")); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rec = doJSON(t, s, "POST", "/api/v1/deposits/token", TransferRequest{
		Caller: bobHex, Asset: tokenHex, Amount: "2000000000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit token: %d, body %s", rec.Code, rec.Body.String())
	}

	// Make
	rec = doJSON(t, s, "POST", "/api/v1/orders", MakeOrderRequest{
		Caller:   aliceHex,
		AssetGet: tokenHex, AmountGet: "1000000000000000000",
		AssetGive: (common.Address{}).Hex(), AmountGive: "1000000000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("make order: %d, body %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[OpResult](t, rec)
	if res.OrderID != 1 {
		t.Fatalf("order id = %d", res.OrderID)
	}

	// Read back
	rec = doJSON(t, s, "GET", "/api/v1/orders/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: %d", rec.Code)
	}
	info := decodeBody[OrderInfo](t, rec)
	if info.Owner != common.HexToAddress(aliceHex).Hex() || info.Filled || info.Cancelled {
		t.Errorf("order info = %+v", info)
	}

	// Cancel by non-owner fails
	rec = doJSON(t, s, "POST", "/api/v1/orders/1/cancel", OrderActionRequest{Caller: bobHex})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign cancel status = %d, want 403", rec.Code)
	}

	// Fill settles
	rec = doJSON(t, s, "POST", "/api/v1/orders/1/fill", OrderActionRequest{Caller: bobHex})
	if rec.Code != http.StatusOK {
		t.Fatalf("fill: %d, body %s", rec.Code, rec.Body.String())
	}

	// Cancel after fill conflicts
	rec = doJSON(t, s, "POST", "/api/v1/orders/1/cancel", OrderActionRequest{Caller: aliceHex})
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel after fill status = %d, want 409", rec.Code)
	}

	// Order count and listing reflect the single order
	rec = doJSON(t, s, "GET", "/api/v1/orders/count", nil)
	if got := decodeBody[OrderCountInfo](t, rec); got.Count != 1 {
		t.Errorf("order count = %d", got.Count)
	}
	rec = doJSON(t, s, "GET", "/api/v1/orders", nil)
	if got := decodeBody[[]OrderInfo](t, rec); len(got) != 1 || !got[0].Filled {
		t.Errorf("order list = %+v", got)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/v1/orders/7", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetEvents(t *testing.T) {
	s, _, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, s, "POST", "/api/v1/deposits/native", TransferRequest{
			Caller: aliceHex, Amount: "5",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("deposit: %d", rec.Code)
		}
	}

	rec := doJSON(t, s, "GET", "/api/v1/events?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	events := decodeBody[[]json.RawMessage](t, rec)
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
