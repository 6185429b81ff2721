// Package wallet is the injected-provider boundary: account discovery,
// raw calls, transaction submission, and receipt observation, plus the
// native-token transfer service built on top of it.
//
// Provider is a capability interface selected once at connection time;
// each provider family (JSON-RPC node, browser bridge, test fake) gets
// one implementation rather than runtime duck-typing.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// TxParams is the minimal transaction shape the provider submits.
// Value and Data are 0x-prefixed hex, matching the wire format.
type TxParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// Receipt is the subset of a transaction receipt the orchestrator needs.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
}

// Succeeded reports whether the receipt status is the success sentinel.
func (r *Receipt) Succeeded() bool { return r != nil && r.Status == "0x1" }

// Provider is the wallet capability interface. TransactionReceipt returns
// (nil, nil) while the transaction is still pending.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	Call(ctx context.Context, to, data string) (string, error)
	SendTransaction(ctx context.Context, tx TxParams) (string, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// RPCProvider implements Provider over a JSON-RPC HTTP endpoint.
type RPCProvider struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewRPCProvider creates a JSON-RPC backed provider.
func NewRPCProvider(url string) *RPCProvider {
	return &RPCProvider{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (p *RPCProvider) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      p.nextID.Add(1),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil || string(rr.Result) == "null" {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

// RequestAccounts returns the provider's unlocked accounts.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.call(ctx, "eth_requestAccounts", nil, &accounts); err != nil {
		// Nodes without the wallet namespace expose eth_accounts instead.
		if err := p.call(ctx, "eth_accounts", nil, &accounts); err != nil {
			return nil, err
		}
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found; connect a wallet first")
	}
	return accounts, nil
}

// Call performs a read-only eth_call against the latest block.
func (p *RPCProvider) Call(ctx context.Context, to, data string) (string, error) {
	var result string
	err := p.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": to, "data": data},
		"latest",
	}, &result)
	return result, err
}

// SendTransaction submits a transaction and returns its hash.
func (p *RPCProvider) SendTransaction(ctx context.Context, tx TxParams) (string, error) {
	var hash string
	err := p.call(ctx, "eth_sendTransaction", []interface{}{tx}, &hash)
	return hash, err
}

// TransactionReceipt fetches the receipt for a hash, (nil, nil) while
// the transaction is unmined.
func (p *RPCProvider) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := p.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}
