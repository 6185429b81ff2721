package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biowallet/backend/internal/core"
)

func TestGenerate_PromptFraming(t *testing.T) {
	var got struct {
		Prompt      string `json:"prompt"`
		UserAddress string `json:"userAddress"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(core.AgentResponse{
			Content: core.AgentContent{
				Text: "Sending now",
				FunctionCall: &core.FunctionCall{
					FunctionName: "sendTransaction",
					Args:         core.FunctionArgs{RecipientAddress: "0xABC", Amount: "2.0"},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	profile := core.Profile{Name: "Alice", Telegram: "alice_tg"}
	resp, err := client.Generate(context.Background(), "send two tokens", profile, "0xUSER")
	require.NoError(t, err)

	profileJSON, _ := json.Marshal(profile)
	assert.Equal(t, "send two tokens "+string(profileJSON), got.Prompt)
	assert.Equal(t, "0xUSER", got.UserAddress)

	require.NotNil(t, resp.Content.FunctionCall)
	assert.Equal(t, "sendTransaction", resp.Content.FunctionCall.FunctionName)
	assert.Equal(t, "2.0", resp.Content.FunctionCall.Args.Amount)
}

func TestGenerate_DefaultsUserAddress(t *testing.T) {
	var got struct {
		UserAddress string `json:"userAddress"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(core.AgentResponse{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Generate(context.Background(), "hello", core.Profile{Name: "A"}, "")
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", got.UserAddress)
}

func TestGenerate_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Generate(context.Background(), "hello", core.Profile{Name: "A"}, "0x1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/transactions/0xdead", r.URL.Path)
		json.NewEncoder(w).Encode(core.TransactionHistory{
			WalletAddress:    "0xdead",
			TransactionCount: 1,
			Transactions:     []core.TransactionRecord{{Result: "Sent 1.0 S to Bob"}},
		})
	}))
	defer srv.Close()

	hist, err := NewClient(srv.URL).History(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Equal(t, 1, hist.TransactionCount)
	assert.Equal(t, "Sent 1.0 S to Bob", hist.Transactions[0].Result)
}

func TestFallbackCall_TransferPhrase(t *testing.T) {
	profile := core.Profile{Name: "Bob"}

	call, text := FallbackCall("please send him something", profile)
	require.NotNil(t, call)
	assert.Equal(t, "sendTransaction", call.FunctionName)
	assert.Equal(t, "Bob", call.Args.RecipientAddress)
	assert.Equal(t, FallbackAmount, call.Args.Amount)
	assert.Contains(t, text, "I'll help you send 1.0")
	assert.Contains(t, text, "Bob")

	call, _ = FallbackCall("transfer funds", profile)
	require.NotNil(t, call)
}

func TestFallbackCall_NonTransferPhrase(t *testing.T) {
	call, text := FallbackCall("connect with bob on telegram", core.Profile{Name: "Bob"})
	assert.Nil(t, call)
	assert.Empty(t, text)
}
