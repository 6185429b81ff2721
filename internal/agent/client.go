// Package agent talks to the remote NLU/agent endpoint that turns a
// transcript plus a matched profile into free text and an optional
// structured function call.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/biowallet/backend/internal/circuitbreaker"
	"github.com/biowallet/backend/internal/core"
)

// FallbackAmount is the default transfer amount the offline heuristic
// fabricates when the agent endpoint is unreachable. See FallbackCall.
const FallbackAmount = "1.0"

// Client issues generate and history requests against the agent service.
// Generate calls run behind a circuit breaker so a dead agent endpoint
// rejects immediately instead of holding every episode for the full
// client timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates an agent client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:     "agent",
			Cooldown: 15 * time.Second,
			ShouldTrip: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	UserAddress string `json:"userAddress"`
}

// Generate sends the transcript combined with the matched profile and
// returns the agent's response. The prompt is the transcript followed by
// the serialized profile, matching the endpoint's expected framing.
func (c *Client) Generate(ctx context.Context, transcript string, profile core.Profile, userAddress string) (*core.AgentResponse, error) {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if userAddress == "" {
		userAddress = "0x0000000000000000000000000000000000000000"
	}

	body, err := json.Marshal(generateRequest{
		Prompt:      transcript + " " + string(profileJSON),
		UserAddress: userAddress,
	})
	if err != nil {
		return nil, err
	}

	var agentResp core.AgentResponse
	err = c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("agent request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to get response from agent: %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&agentResp)
	})
	if err != nil {
		return nil, err
	}
	return &agentResp, nil
}

// History fetches the interaction history for an address.
func (c *Client) History(ctx context.Context, address string) (*core.TransactionHistory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/transactions/"+address, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("history request: status %d: %s", resp.StatusCode, body)
	}

	var hist core.TransactionHistory
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &hist, nil
}

// FallbackCall implements the offline degrade path: when the agent call
// fails but the transcript sounds like a transfer request ("send" or
// "transfer"), a sendTransaction call with a default amount is
// synthesized so the demo stays operable. The fabricated intent is
// logged loudly because it was never confirmed by the agent.
func FallbackCall(transcript string, profile core.Profile) (*core.FunctionCall, string) {
	lower := strings.ToLower(transcript)
	if !strings.Contains(lower, "send") && !strings.Contains(lower, "transfer") {
		return nil, ""
	}

	slog.Warn("[Agent] Endpoint unreachable, synthesizing transfer intent",
		"recipient", profile.Name, "amount", FallbackAmount)

	call := &core.FunctionCall{
		FunctionName: "sendTransaction",
		Args: core.FunctionArgs{
			RecipientAddress: profile.Name,
			Amount:           FallbackAmount,
		},
	}
	text := fmt.Sprintf("I'll help you send %s tokens to %s", FallbackAmount, profile.Name)
	return call, text
}
