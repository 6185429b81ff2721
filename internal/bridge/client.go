// Package bridge is the DLN cross-chain client: quote fetching, token
// approval, transaction execution through the wallet provider, and order
// status polling. Chain support is a fixed mapping table; anything
// outside it fails fast.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biowallet/backend/internal/chains"
	"github.com/biowallet/backend/internal/circuitbreaker"
	"github.com/biowallet/backend/internal/wallet"
)

// NativeTokenAddress is the zero address the DLN protocol uses for a
// chain's native token.
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"

// DefaultStatusPollInterval is how often an order's status is re-fetched.
// No backoff, no retry cap: polling runs until the owning context ends.
const DefaultStatusPollInterval = 15 * time.Second

// dlnChainIDs maps internal chain IDs to the protocol's own identifiers.
var dlnChainIDs = map[int]string{
	chains.SonicChainID:        "100000014",
	chains.SonicBlazeTestnetID: "57054",
	chains.BaseChainID:         "8453",
	chains.BaseSepoliaChainID:  "84532",
}

// tokenAddresses maps internal chain IDs to the token bridged on that
// chain: native on the Sonic chains, USDC on the Base chains.
var tokenAddresses = map[int]string{
	chains.SonicChainID:        NativeTokenAddress,
	chains.SonicBlazeTestnetID: NativeTokenAddress,
	chains.BaseChainID:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	chains.BaseSepoliaChainID:  "0x078d782b760474a361dda0af3839290b0ef57ad6",
}

// TokenMeta is the per-chain bridged-token display data. Native-token
// chains take their symbol from the chain registry so bridge and
// transfer steps agree on what they call the same asset.
var TokenMeta = map[int]struct {
	Symbol   string
	Decimals int
}{
	chains.SonicChainID:        {chains.Get(chains.SonicChainID).NativeTokenSymbol, 18},
	chains.SonicBlazeTestnetID: {chains.Get(chains.SonicBlazeTestnetID).NativeTokenSymbol, 18},
	chains.BaseChainID:         {"USDC", 6},
	chains.BaseSepoliaChainID:  {"USDC", 6},
}

// TokenAmount describes one side of a quote's estimation.
type TokenAmount struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
}

// Estimation is the quote's source/destination breakdown.
type Estimation struct {
	SrcChainTokenIn  TokenAmount `json:"srcChainTokenIn"`
	DstChainTokenOut struct {
		TokenAmount
		RecommendedAmount string `json:"recommendedAmount"`
	} `json:"dstChainTokenOut"`
	RecommendedSlippage float64 `json:"recommendedSlippage"`
}

// TxPayload is the unsigned transaction the quote prepares.
type TxPayload struct {
	Data  string `json:"data"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Quote is the create-tx response: the estimation, the prepared payload,
// and the order tracking ID. Held only for the duration of one bridge
// flow, never persisted.
type Quote struct {
	Estimation Estimation `json:"estimation"`
	Tx         TxPayload  `json:"tx"`
	Order      struct {
		ApproximateFulfillmentDelay int `json:"approximateFulfillmentDelay"`
	} `json:"order"`
	OrderID string `json:"orderId"`
	FixFee  string `json:"fixFee"`
}

// SourceIsNative reports whether the quote's source token is the chain's
// native token; non-native sources need an allowance before execution.
func (q *Quote) SourceIsNative() bool {
	addr := q.Estimation.SrcChainTokenIn.Address
	return addr == NativeTokenAddress || addr == "0x0"
}

// OrderStatus is the tracking endpoint's response.
type OrderStatus struct {
	Status              string `json:"status"`
	OrderID             string `json:"orderId"`
	FulfilledDstEventTx string `json:"fulfilledDstEventMetadata,omitempty"`
	ClaimTxHash         string `json:"claimTxHash,omitempty"`
}

// QuoteOptions are the optional create-tx parameters.
type QuoteOptions struct {
	AffiliateFeePercent   string
	AffiliateFeeRecipient string
	DstChainTokenAmount   string
}

// Client calls the DLN aggregation API and executes prepared payloads
// through a wallet provider.
type Client struct {
	baseURL    string
	provider   wallet.Provider
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a bridge client.
func NewClient(baseURL string, provider wallet.Provider) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		provider:   provider,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name: "dln",
			ShouldTrip: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// GetQuote fetches a cross-chain quote with prepared transaction data.
// amount is in the source chain's smallest unit. Unsupported chain pairs
// fail before any network call.
func (c *Client) GetQuote(ctx context.Context, sourceChainID, destinationChainID int, amount, recipient string, opts QuoteOptions) (*Quote, error) {
	srcChain, okSrc := dlnChainIDs[sourceChainID]
	dstChain, okDst := dlnChainIDs[destinationChainID]
	if !okSrc || !okDst {
		return nil, fmt.Errorf("unsupported chain: source=%d, destination=%d", sourceChainID, destinationChainID)
	}

	srcToken, okSrc := tokenAddresses[sourceChainID]
	dstToken, okDst := tokenAddresses[destinationChainID]
	if !okSrc || !okDst {
		return nil, fmt.Errorf("unsupported token for the selected chains")
	}

	dstAmount := opts.DstChainTokenAmount
	if dstAmount == "" {
		dstAmount = "auto"
	}

	params := url.Values{}
	params.Set("srcChainId", srcChain)
	params.Set("srcChainTokenIn", srcToken)
	params.Set("srcChainTokenInAmount", amount)
	params.Set("dstChainId", dstChain)
	params.Set("dstChainTokenOut", dstToken)
	params.Set("dstChainTokenOutAmount", dstAmount)
	params.Set("dstChainTokenOutRecipient", recipient)
	params.Set("srcChainOrderAuthorityAddress", recipient)
	params.Set("dstChainOrderAuthorityAddress", recipient)
	params.Set("prependOperatingExpense", "true")
	if opts.AffiliateFeePercent != "" {
		params.Set("affiliateFeePercent", opts.AffiliateFeePercent)
	}
	if opts.AffiliateFeeRecipient != "" {
		params.Set("affiliateFeeRecipient", opts.AffiliateFeeRecipient)
	}

	reqURL := c.baseURL + "/v1.0/dln/order/create-tx?" + params.Encode()
	slog.Debug("[Bridge] Fetching quote", "url", reqURL)

	var quote Quote
	if err := c.getJSON(ctx, reqURL, &quote); err != nil {
		return nil, fmt.Errorf("failed to get bridge quote: %w", err)
	}
	return &quote, nil
}

// Status fetches the current order status by ID.
func (c *Client) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	var status OrderStatus
	if err := c.getJSON(ctx, c.baseURL+"/v1.0/dln/order/"+orderID, &status); err != nil {
		return nil, fmt.Errorf("failed to get transaction status: %w", err)
	}
	return &status, nil
}

// PollStatus re-fetches the order status on a fixed interval and reports
// each result through onUpdate until ctx is cancelled. Fetch errors are
// logged and polling continues.
func (c *Client) PollStatus(ctx context.Context, orderID string, interval time.Duration, onUpdate func(*OrderStatus)) {
	if interval == 0 {
		interval = DefaultStatusPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, orderID)
		if err != nil {
			slog.Warn("[Bridge] Status poll failed", "order_id", orderID, "error", err)
		} else if onUpdate != nil {
			onUpdate(status)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExecuteTransaction submits the quote's prepared payload through the
// wallet provider. For a non-native source token it first ensures the
// DLN contract has sufficient allowance, approving and waiting for the
// approval receipt when it doesn't. Returns the bridge transaction hash.
func (c *Client) ExecuteTransaction(ctx context.Context, quote *Quote) (string, error) {
	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("no wallet accounts available")
	}
	from := accounts[0]

	if !quote.SourceIsNative() {
		slog.Info("[Bridge] ERC-20 source token, checking approval",
			"token", quote.Estimation.SrcChainTokenIn.Address)
		if err := c.ensureAllowance(ctx, from,
			quote.Estimation.SrcChainTokenIn.Address,
			quote.Tx.To,
			quote.Estimation.SrcChainTokenIn.Amount); err != nil {
			return "", err
		}
	}

	// The value field carries the protocol's fixed fee in native currency
	// and must be forwarded untouched.
	hash, err := c.provider.SendTransaction(ctx, wallet.TxParams{
		From:  from,
		To:    quote.Tx.To,
		Value: quote.Tx.Value,
		Data:  quote.Tx.Data,
	})
	if err != nil {
		return "", fmt.Errorf("bridge transaction: %w", err)
	}

	slog.Info("[Bridge] Transaction submitted", "hash", hash, "order_id", quote.OrderID)
	return hash, nil
}

// ensureAllowance checks the token's allowance via eth_call and submits
// an approve transaction when it is insufficient, polling for the
// approval receipt before returning.
func (c *Client) ensureAllowance(ctx context.Context, owner, token, spender, amount string) error {
	required, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid source amount %q", amount)
	}

	result, err := c.provider.Call(ctx, token, AllowanceCalldata(owner, spender))
	if err != nil {
		return fmt.Errorf("allowance check: %w", err)
	}
	current := new(big.Int)
	if trimmed := strings.TrimPrefix(result, "0x"); trimmed != "" {
		if _, ok := current.SetString(trimmed, 16); !ok {
			return fmt.Errorf("invalid allowance result %q", result)
		}
	}

	if current.Cmp(required) >= 0 {
		slog.Debug("[Bridge] Token already approved for required amount")
		return nil
	}

	approveHash, err := c.provider.SendTransaction(ctx, wallet.TxParams{
		From: owner,
		To:   token,
		Data: ApproveCalldata(spender, required),
	})
	if err != nil {
		return fmt.Errorf("approve transaction: %w", err)
	}
	slog.Info("[Bridge] Approval submitted, waiting for receipt", "hash", approveHash)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := c.provider.TransactionReceipt(ctx, approveHash)
		if err != nil {
			return fmt.Errorf("approval receipt: %w", err)
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return fmt.Errorf("approval transaction %s reverted", approveHash)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	return c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("status %d: %s", resp.StatusCode, body)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
