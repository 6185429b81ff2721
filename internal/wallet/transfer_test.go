package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts wallet responses and records sent transactions.
type fakeProvider struct {
	accounts    []string
	accountsErr error
	sendErr     error
	sent        []TxParams
	receipts    []*Receipt // popped per poll; nil entries mean "pending"
	callResult  string
}

func (f *fakeProvider) RequestAccounts(context.Context) ([]string, error) {
	return f.accounts, f.accountsErr
}

func (f *fakeProvider) Call(context.Context, string, string) (string, error) {
	return f.callResult, nil
}

func (f *fakeProvider) SendTransaction(_ context.Context, tx TxParams) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return "0xhash", nil
}

func (f *fakeProvider) TransactionReceipt(context.Context, string) (*Receipt, error) {
	if len(f.receipts) == 0 {
		return nil, nil
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	return r, nil
}

func TestSendNative_BuildsValueTransfer(t *testing.T) {
	provider := &fakeProvider{accounts: []string{"0xme"}}
	tr := NewTransferor(provider, 18)

	hash, err := tr.SendNative(context.Background(), "0xrecipient", "1.5 SONIC")
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)

	require.Len(t, provider.sent, 1)
	tx := provider.sent[0]
	assert.Equal(t, "0xme", tx.From)
	assert.Equal(t, "0xrecipient", tx.To)
	// 1.5 * 10^18 = 0x14d1120d7b160000
	assert.Equal(t, "0x14d1120d7b160000", tx.Value)
	assert.Empty(t, tx.Data, "native transfers carry no calldata")
}

func TestSendNative_NoAccounts(t *testing.T) {
	tr := NewTransferor(&fakeProvider{}, 18)
	_, err := tr.SendNative(context.Background(), "0xr", "1.0")
	require.Error(t, err)
}

func TestSendNative_RejectionPropagates(t *testing.T) {
	provider := &fakeProvider{
		accounts: []string{"0xme"},
		sendErr:  errors.New("user denied transaction signature"),
	}
	tr := NewTransferor(provider, 18)

	_, err := tr.SendNative(context.Background(), "0xr", "1.0")
	require.Error(t, err)

	bucket, msg := ClassifyError(err)
	assert.Equal(t, FailureRejected, bucket)
	assert.Equal(t, "Transaction was rejected", msg)
}

func TestWaitForReceipt_ReturnsMinedReceipt(t *testing.T) {
	provider := &fakeProvider{
		accounts: []string{"0xme"},
		receipts: []*Receipt{{TransactionHash: "0xhash", Status: "0x1"}},
	}
	tr := NewTransferor(provider, 18)

	receipt, err := tr.WaitForReceipt(context.Background(), "0xhash")
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
}

func TestWaitForReceipt_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTransferor(&fakeProvider{}, 18)
	_, err := tr.WaitForReceipt(ctx, "0xhash")
	require.ErrorIs(t, err, context.Canceled)
}

func TestReceipt_Succeeded(t *testing.T) {
	assert.True(t, (&Receipt{Status: "0x1"}).Succeeded())
	assert.False(t, (&Receipt{Status: "0x0"}).Succeeded())
	var nilReceipt *Receipt
	assert.False(t, nilReceipt.Succeeded())
}
