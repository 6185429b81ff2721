package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FailureBucket classifies a failed wallet interaction for user messaging.
type FailureBucket string

const (
	FailureNetwork  FailureBucket = "network"
	FailureRejected FailureBucket = "rejected"
	FailureOther    FailureBucket = "other"
)

// Transfer status strings surfaced while a transaction progresses.
const (
	StatusPending    = "Transaction pending..."
	StatusConfirming = "Confirming transaction..."
	StatusSuccess    = "Transaction successful!"
)

// receiptPollInterval is how often a pending transaction is re-checked.
const receiptPollInterval = 2 * time.Second

// ClassifyError maps a wallet failure into one of three buckets, each
// with its own user-facing status string. No retry is attempted; the
// user resubmits.
func ClassifyError(err error) (FailureBucket, string) {
	if err == nil {
		return FailureOther, ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "request failed") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "deadline exceeded"):
		return FailureNetwork, "Network error: RPC endpoint timeout"
	case strings.Contains(lower, "rejected") || strings.Contains(lower, "user denied"):
		return FailureRejected, "Transaction was rejected"
	default:
		if runes := []rune(msg); len(runes) > 100 {
			msg = string(runes[:100])
		}
		return FailureOther, "Error: " + msg
	}
}

// Transferor sends native-value transactions and watches their receipts.
type Transferor struct {
	provider Provider
	decimals int
}

// NewTransferor creates a transfer service for a chain's native token.
func NewTransferor(provider Provider, decimals int) *Transferor {
	return &Transferor{provider: provider, decimals: decimals}
}

// SendNative parses a human-readable amount, converts it to the chain's
// smallest unit, and submits a plain value transfer. Returns the
// transaction hash.
func (t *Transferor) SendNative(ctx context.Context, recipient, humanAmount string) (string, error) {
	amount := SanitizeAmount(humanAmount)
	value, err := ParseUnits(amount, t.decimals)
	if err != nil {
		return "", fmt.Errorf("parse amount: %w", err)
	}

	accounts, err := t.provider.RequestAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("no wallet accounts available")
	}

	hash, err := t.provider.SendTransaction(ctx, TxParams{
		From:  accounts[0],
		To:    recipient,
		Value: ToHex(value),
	})
	if err != nil {
		return "", err
	}

	slog.Info("[Wallet] Native transfer submitted",
		"to", recipient, "amount", amount, "hash", hash)
	return hash, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (t *Transferor) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.provider.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
