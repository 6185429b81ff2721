package bridge

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biowallet/backend/internal/chains"
	"github.com/biowallet/backend/internal/wallet"
)

// fakeProvider scripts the wallet-provider responses the execute path needs.
type fakeProvider struct {
	accounts   []string
	callResult string
	sent       []wallet.TxParams
	receipts   []*wallet.Receipt
}

func (f *fakeProvider) RequestAccounts(context.Context) ([]string, error) {
	return f.accounts, nil
}

func (f *fakeProvider) Call(context.Context, string, string) (string, error) {
	return f.callResult, nil
}

func (f *fakeProvider) SendTransaction(_ context.Context, tx wallet.TxParams) (string, error) {
	f.sent = append(f.sent, tx)
	return "0xbridgehash", nil
}

func (f *fakeProvider) TransactionReceipt(context.Context, string) (*wallet.Receipt, error) {
	if len(f.receipts) == 0 {
		return nil, nil
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	return r, nil
}

func TestGetQuote_QueryParameters(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.0/dln/order/create-tx", r.URL.Path)
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(Quote{OrderID: "order-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &fakeProvider{})
	quote, err := client.GetQuote(context.Background(),
		chains.SonicChainID, chains.BaseChainID, "1000000000000000000", "0xdest", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "order-1", quote.OrderID)

	assert.Equal(t, "100000014", got["srcChainId"], "Sonic maps to its DLN identifier")
	assert.Equal(t, NativeTokenAddress, got["srcChainTokenIn"])
	assert.Equal(t, "1000000000000000000", got["srcChainTokenInAmount"])
	assert.Equal(t, "8453", got["dstChainId"])
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", got["dstChainTokenOut"])
	assert.Equal(t, "auto", got["dstChainTokenOutAmount"])
	assert.Equal(t, "0xdest", got["dstChainTokenOutRecipient"])
	assert.Equal(t, "0xdest", got["srcChainOrderAuthorityAddress"])
	assert.Equal(t, "0xdest", got["dstChainOrderAuthorityAddress"])
	assert.Equal(t, "true", got["prependOperatingExpense"])
}

func TestGetQuote_UnsupportedChainFailsFast(t *testing.T) {
	requested := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &fakeProvider{})
	_, err := client.GetQuote(context.Background(), 1, chains.BaseChainID, "100", "0xdest", QuoteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chain")
	assert.False(t, requested, "no network call for unsupported pairs")
}

func TestTokenMeta_NativeSymbolsMatchChainRegistry(t *testing.T) {
	// Bridge and transfer steps must name the same asset the same way.
	for _, id := range []int{chains.SonicChainID, chains.SonicBlazeTestnetID} {
		assert.Equal(t, chains.Get(id).NativeTokenSymbol, TokenMeta[id].Symbol)
	}
}

func TestSourceIsNative(t *testing.T) {
	q := &Quote{}
	q.Estimation.SrcChainTokenIn.Address = NativeTokenAddress
	assert.True(t, q.SourceIsNative())

	q.Estimation.SrcChainTokenIn.Address = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	assert.False(t, q.SourceIsNative())
}

func TestExecuteTransaction_NativeSourceSkipsApproval(t *testing.T) {
	provider := &fakeProvider{accounts: []string{"0xme"}}
	client := NewClient("http://unused", provider)

	q := &Quote{
		Tx: TxPayload{To: "0xdln", Data: "0xdeadbeef", Value: "0xde0b6b3a7640000"},
	}
	q.Estimation.SrcChainTokenIn.Address = NativeTokenAddress

	hash, err := client.ExecuteTransaction(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "0xbridgehash", hash)

	require.Len(t, provider.sent, 1, "no approval transaction for native sources")
	tx := provider.sent[0]
	assert.Equal(t, "0xdln", tx.To)
	assert.Equal(t, "0xdeadbeef", tx.Data)
	assert.Equal(t, "0xde0b6b3a7640000", tx.Value, "quote value passes through untouched")
}

func TestExecuteTransaction_ERC20SourceApprovesFirst(t *testing.T) {
	provider := &fakeProvider{
		accounts: []string{"0xme"},
		// allowance(owner, spender) returns zero: approval required.
		callResult: "0x" + strings.Repeat("0", 64),
		receipts:   []*wallet.Receipt{{TransactionHash: "0xapprove", Status: "0x1"}},
	}
	client := NewClient("http://unused", provider)

	q := &Quote{
		Tx: TxPayload{To: "0xdln", Data: "0xdeadbeef", Value: "0x0"},
	}
	q.Estimation.SrcChainTokenIn.Address = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	q.Estimation.SrcChainTokenIn.Amount = "1000000"

	hash, err := client.ExecuteTransaction(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "0xbridgehash", hash)

	require.Len(t, provider.sent, 2, "approve then bridge")
	approve := provider.sent[0]
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", approve.To)
	assert.True(t, strings.HasPrefix(approve.Data, selectorApprove))
	assert.Equal(t, "0xdln", provider.sent[1].To)
}

func TestAllowanceCalldata(t *testing.T) {
	data := AllowanceCalldata("0xAbCd00000000000000000000000000000000EF12", "0x1111000000000000000000000000000000002222")
	assert.True(t, strings.HasPrefix(data, selectorAllowance))
	assert.Len(t, data, len(selectorAllowance)+128, "two padded 32-byte words")
	assert.Contains(t, strings.ToLower(data), "abcd00000000000000000000000000000000ef12")
}

func TestApproveCalldata(t *testing.T) {
	data := ApproveCalldata("0x1111000000000000000000000000000000002222", big.NewInt(1000000))
	assert.True(t, strings.HasPrefix(data, selectorApprove))
	assert.Len(t, data, len(selectorApprove)+128)
	// 1000000 = 0xf4240, right-aligned in the second word.
	assert.True(t, strings.HasSuffix(data, "f4240"))
}

func TestPollStatus_StopsOnContextCancel(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		json.NewEncoder(w).Encode(OrderStatus{Status: "Fulfilled", OrderID: "order-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &fakeProvider{})
	ctx, cancel := context.WithCancel(context.Background())

	var updates []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.PollStatus(ctx, "order-1", 10*time.Millisecond, func(s *OrderStatus) {
			updates = append(updates, s.Status)
			if len(updates) >= 2 {
				cancel()
			}
		})
	}()

	<-done
	assert.GreaterOrEqual(t, len(updates), 2)
	assert.Equal(t, "Fulfilled", updates[0])
}
