// Package dispatch is the orchestration core: it consumes trigger events,
// runs the scan → agent → function-call pipeline for each episode, and
// drives the side-effecting flows (token transfer, social connect,
// cross-chain bridge) while publishing progress steps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biowallet/backend/internal/agent"
	"github.com/biowallet/backend/internal/bridge"
	"github.com/biowallet/backend/internal/chains"
	"github.com/biowallet/backend/internal/core"
	"github.com/biowallet/backend/internal/events"
	"github.com/biowallet/backend/internal/facematch"
	"github.com/biowallet/backend/internal/gallery"
	"github.com/biowallet/backend/internal/metrics"
	"github.com/biowallet/backend/internal/speech"
	"github.com/biowallet/backend/internal/wallet"
)

// zeroAddress is sent as the user address when no wallet is connected.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// closeDelay is how long a finished transfer stays on screen before the
// episode auto-closes.
const closeDelay = 3 * time.Second

// FrameSource captures one still image from the camera feed.
type FrameSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// LinkOpener opens an external profile URL in the user's browser context.
// The server-side implementation publishes an event the UI acts on.
type LinkOpener interface {
	Open(ctx context.Context, url string) error
}

// EventLinkOpener publishes link-open events on the bus.
type EventLinkOpener struct {
	Emitter events.Emitter
}

// Open publishes the URL for the UI to open in a new browser context.
func (o *EventLinkOpener) Open(_ context.Context, url string) error {
	o.Emitter.Emit(events.TypeLinkOpen, "dispatcher", "", map[string]interface{}{
		"url": url,
	})
	return nil
}

// HistoryRecorder persists completed interactions for the history API.
type HistoryRecorder interface {
	Record(ctx context.Context, walletAddress string, rec core.TransactionRecord) error
}

// Dispatcher wires the episode pipeline together.
type Dispatcher struct {
	gallery    *gallery.Gallery
	matcher    *facematch.Service
	agent      *agent.Client
	bridge     *bridge.Client
	transferor *wallet.Transferor
	provider   wallet.Provider
	frames     FrameSource
	listener   *speech.Listener
	links      LinkOpener
	history    HistoryRecorder
	emitter    events.Emitter
	metrics    *metrics.Metrics

	chainID           int
	allowSendFallback bool
	pollInterval      time.Duration

	mu       sync.Mutex
	current  *Episode
	operator string
}

// Options configures a Dispatcher. Gallery, Matcher, Agent, Frames, and
// Emitter are required; the rest degrade to no-ops or defaults.
type Options struct {
	Gallery    *gallery.Gallery
	Matcher    *facematch.Service
	Agent      *agent.Client
	Bridge     *bridge.Client
	Transferor *wallet.Transferor
	Provider   wallet.Provider
	Frames     FrameSource
	Listener   *speech.Listener
	Links      LinkOpener
	History    HistoryRecorder
	Emitter    events.Emitter
	Metrics    *metrics.Metrics

	ChainID           int
	AllowSendFallback bool
	StatusPollEvery   time.Duration
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.ChainID == 0 {
		opts.ChainID = chains.SonicChainID
	}
	if opts.StatusPollEvery == 0 {
		opts.StatusPollEvery = bridge.DefaultStatusPollInterval
	}
	if opts.Links == nil {
		opts.Links = &EventLinkOpener{Emitter: opts.Emitter}
	}
	return &Dispatcher{
		gallery:           opts.Gallery,
		matcher:           opts.Matcher,
		agent:             opts.Agent,
		bridge:            opts.Bridge,
		transferor:        opts.Transferor,
		provider:          opts.Provider,
		frames:            opts.Frames,
		listener:          opts.Listener,
		links:             opts.Links,
		history:           opts.History,
		emitter:           opts.Emitter,
		metrics:           opts.Metrics,
		chainID:           opts.ChainID,
		allowSendFallback: opts.AllowSendFallback,
		pollInterval:      opts.StatusPollEvery,
	}
}

// Run consumes trigger events until ctx is done. At most one episode is
// live at a time; triggers arriving mid-episode cannot occur because the
// listener is suspended, but any that do are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trig, ok := <-d.listener.Triggers():
			if !ok {
				return
			}
			d.HandleTrigger(ctx, trig.Transcript)
		}
	}
}

// HandleTrigger starts an episode for a transcript. Returns nil when an
// episode is already live.
func (d *Dispatcher) HandleTrigger(ctx context.Context, transcript string) *Episode {
	d.mu.Lock()
	if d.current != nil && !d.current.State().IsTerminal() {
		d.mu.Unlock()
		slog.Warn("[Dispatcher] Trigger dropped, episode already in flight")
		return nil
	}
	ep := NewEpisode(ctx, transcript, d.emitter)
	d.current = ep
	d.mu.Unlock()

	if d.listener != nil {
		d.listener.Suspend()
	}

	go d.runEpisode(ep)
	return ep
}

// Current returns the live episode, if any.
func (d *Dispatcher) Current() *Episode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// CloseEpisode tears down an episode and resumes the trigger listener.
// In-flight network calls not bound to the episode context continue;
// only rendering state and pollers are discarded.
func (d *Dispatcher) CloseEpisode(ctx context.Context, ep *Episode) {
	if ep == nil {
		return
	}
	d.mu.Lock()
	if d.current == ep {
		d.current = nil
	}
	d.mu.Unlock()

	ep.Close()
	if d.listener != nil {
		d.listener.Resume(ctx)
	}
}

// operatorAddress resolves the connected wallet address once, falling
// back to the zero address when no wallet is reachable.
func (d *Dispatcher) operatorAddress(ctx context.Context) string {
	d.mu.Lock()
	cached := d.operator
	d.mu.Unlock()
	if cached != "" {
		return cached
	}
	if d.provider == nil {
		return zeroAddress
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	accounts, err := d.provider.RequestAccounts(cctx)
	if err != nil || len(accounts) == 0 {
		return zeroAddress
	}

	d.mu.Lock()
	d.operator = accounts[0]
	d.mu.Unlock()
	return accounts[0]
}

func (d *Dispatcher) runEpisode(ep *Episode) {
	ctx := ep.Context()
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			outcome := "failed"
			if ep.State() == StateDone {
				outcome = "done"
			}
			d.metrics.EpisodesTotal.WithLabelValues(outcome).Inc()
			d.metrics.EpisodeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := ep.Transition(StateScanning); err != nil {
		slog.Error("[Dispatcher] Scan transition failed", "error", err)
		return
	}
	ep.PushStep(core.AgentStep{Label: "Scanning for faces...", IsLoading: true, Type: core.StepScan})

	face, ok := d.scan(ctx, ep)
	if !ok {
		return
	}

	profile := *face.Profile
	ep.SetMatch(face, &profile)
	ep.PushStep(core.AgentStep{
		Label: "Face Found: " + profile.Name,
		Type:  core.StepScan,
	})
	ep.AppendStep(core.AgentStep{Label: "Calling agent...", IsLoading: true, Type: core.StepAgent})

	if err := ep.Transition(StateCallingAgent); err != nil {
		slog.Error("[Dispatcher] Agent transition failed", "error", err)
		return
	}

	call := d.callAgent(ctx, ep, profile)
	if ep.State().IsTerminal() {
		return
	}

	if err := ep.Transition(StateAwaitingFunctionResult); err != nil {
		slog.Error("[Dispatcher] Function-result transition failed", "error", err)
		return
	}

	if call == nil {
		slog.Info("[Dispatcher] No function call in response")
		_ = ep.Transition(StateDone)
		return
	}

	d.handleFunctionCall(ctx, ep, call, profile)
}

// scan captures a frame, matches it against the gallery, and picks the
// largest recognized face. All failure modes are reported as terminal
// scan steps with actionable text.
func (d *Dispatcher) scan(ctx context.Context, ep *Episode) (*core.DetectedFace, bool) {
	failScan := func(label, result string) {
		ep.ResetSteps(core.AgentStep{Label: label, Type: core.StepScan})
		ep.Fail(label)
		if d.metrics != nil {
			d.metrics.MatchResults.WithLabelValues(result).Inc()
		}
	}

	frame, err := d.frames.Capture(ctx)
	if err != nil {
		slog.Warn("[Dispatcher] Frame capture failed", "error", err)
		failScan("Error: Could not capture image. Please check camera permissions.", "error")
		return nil, false
	}

	detected, err := d.matcher.DetectFaces(ctx, frame, d.gallery.Snapshot())
	switch {
	case errors.Is(err, facematch.ErrEmptyGallery):
		failScan("Error: No faces registered. Please register a face first.", "empty_gallery")
		return nil, false
	case errors.Is(err, facematch.ErrNoFacesDetected):
		failScan("No faces detected. Please face the camera and try again.", "no_faces")
		return nil, false
	case err != nil:
		slog.Warn("[Dispatcher] Face detection failed", "error", err)
		failScan("Error: "+err.Error(), "error")
		return nil, false
	}

	largest := facematch.PickLargest(detected)
	if largest == nil || largest.Profile == nil || largest.MatchLabel == facematch.UnknownLabel {
		failScan("No recognized faces detected. Please register your face or adjust lighting.", "unknown")
		return nil, false
	}

	if d.metrics != nil {
		d.metrics.MatchResults.WithLabelValues("matched").Inc()
		d.metrics.MatchDistance.Observe(largest.Distance)
	}
	return largest, true
}

// callAgent issues the generate request and returns the function call to
// dispatch, applying the offline fallback when the endpoint fails.
func (d *Dispatcher) callAgent(ctx context.Context, ep *Episode, profile core.Profile) *core.FunctionCall {
	resp, err := d.agent.Generate(ctx, ep.Transcript, profile, d.operatorAddress(ctx))
	if err == nil {
		if d.metrics != nil {
			d.metrics.AgentRequests.WithLabelValues("ok").Inc()
		}
		ep.PushStep(core.AgentStep{Label: truncate(resp.Content.Text, 50), Type: core.StepAgent})
		return resp.Content.FunctionCall
	}

	slog.Warn("[Dispatcher] Agent call failed", "error", err)
	if d.allowSendFallback {
		if call, text := agent.FallbackCall(ep.Transcript, profile); call != nil {
			if d.metrics != nil {
				d.metrics.AgentRequests.WithLabelValues("fallback").Inc()
			}
			ep.PushStep(core.AgentStep{Label: text, Type: core.StepAgent})
			return call
		}
	}

	if d.metrics != nil {
		d.metrics.AgentRequests.WithLabelValues("error").Inc()
	}
	ep.PushStep(core.AgentStep{
		Label: fmt.Sprintf("Error connecting to AI agent: %v", err),
		Type:  core.StepAgent,
	})
	ep.Fail("agent unreachable")
	return nil
}

// handleFunctionCall dispatches one structured function call. Unknown
// function names are logged and ignored without a user-visible error.
func (d *Dispatcher) handleFunctionCall(ctx context.Context, ep *Episode, call *core.FunctionCall, profile core.Profile) {
	name := call.FunctionName
	switch {
	case name == "sendTransaction":
		d.sendTransaction(ctx, ep, call, profile)
	case name == "connectOnLinkedin":
		d.connectSocial(ctx, ep, "LinkedIn", profile.LinkedIn, "https://linkedin.com/in/")
	case name == "connectOnTelegram":
		d.connectSocial(ctx, ep, "Telegram", profile.Telegram, "https://t.me/")
	case name == "connectSocial":
		d.connectNamedPlatform(ctx, ep, call.Args.Platform, profile)
	case name == "getBridgeQuote" || strings.HasPrefix(strings.ToLower(name), "bridge"):
		d.bridgeFlow(ctx, ep, call, profile)
	default:
		slog.Warn("[Dispatcher] Unknown function call ignored", "function", name)
		_ = ep.Transition(StateDone)
	}
}

// sendTransaction prepares and executes a native-token transfer to the
// matched profile's address.
func (d *Dispatcher) sendTransaction(ctx context.Context, ep *Episode, call *core.FunctionCall, profile core.Profile) {
	amount := wallet.SanitizeAmount(call.Args.Amount)
	if call.Args.Amount == "" {
		amount = agent.FallbackAmount
	}
	recipient := call.Args.RecipientAddress
	if recipient == "" {
		recipient = profile.Name
	}
	cfg := chains.Get(d.chainID)
	symbol := cfg.NativeTokenSymbol

	display := amount
	if f, err := strconv.ParseFloat(amount, 64); err == nil {
		display = strconv.FormatFloat(f, 'f', 2, 64)
	}
	ep.AppendStep(core.AgentStep{Label: "Grabbing amount: " + display, Type: core.StepToken})
	ep.AppendStep(core.AgentStep{Label: "Preparing token transfer...", IsLoading: true, Type: core.StepToken})
	ep.PushStep(core.AgentStep{Label: "Using token: " + symbol, Type: core.StepToken})
	ep.AppendStep(core.AgentStep{
		Label: fmt.Sprintf("Preparing to send %s %s to %s", amount, symbol, recipient),
		Type:  core.StepToken,
	})
	ep.SetTransfer(&TransferIntent{Recipient: recipient, InitialUsdAmount: amount})

	if d.transferor == nil {
		// No wallet configured: the intent stays mounted for a UI-side
		// wallet to pick up, and the episode ends cleanly.
		_ = ep.Transition(StateDone)
		return
	}

	if err := ep.Transition(StateExecuting); err != nil {
		slog.Error("[Dispatcher] Execute transition failed", "error", err)
		return
	}
	ep.AppendStep(core.AgentStep{
		Label:     fmt.Sprintf("Sending %s %s", display, symbol),
		IsLoading: true,
		Type:      core.StepTransaction,
	})

	hash, err := d.transferor.SendNative(ctx, recipient, amount)
	if err != nil {
		bucket, msg := wallet.ClassifyError(err)
		ep.PushStep(core.AgentStep{Label: msg, Type: core.StepTransaction})
		ep.Fail(msg)
		if d.metrics != nil {
			d.metrics.TransfersTotal.WithLabelValues(string(bucket)).Inc()
		}
		return
	}

	ep.PushStep(core.AgentStep{
		Label:     "Transaction submitted! Waiting for confirmation...",
		IsLoading: true,
		Type:      core.StepTransaction,
	})

	receipt, err := d.transferor.WaitForReceipt(ep.Context(), hash)
	if err != nil {
		// Episode closed mid-wait; the transaction itself continues.
		slog.Info("[Dispatcher] Receipt wait ended", "hash", hash, "error", err)
		return
	}

	if !receipt.Succeeded() {
		ep.PushStep(core.AgentStep{Label: "Transaction reverted", Type: core.StepTransaction})
		ep.Fail("transaction reverted")
		if d.metrics != nil {
			d.metrics.TransfersTotal.WithLabelValues("other").Inc()
		}
		return
	}

	ep.PushStep(core.AgentStep{Label: "Transaction confirmed", Type: core.StepTransaction})
	ep.AppendStep(core.AgentStep{
		Label: fmt.Sprintf("View on %s/tx/%s", cfg.BlockExplorer, hash),
		Type:  core.StepHash,
	})
	if d.metrics != nil {
		d.metrics.TransfersTotal.WithLabelValues("confirmed").Inc()
	}
	d.record(ctx, fmt.Sprintf("Sent %s %s to %s", amount, symbol, recipient))
	_ = ep.Transition(StateDone)

	// Give the user a moment to read the confirmation, then close.
	go func() {
		select {
		case <-time.After(closeDelay):
			d.CloseEpisode(context.Background(), ep)
		case <-ep.Context().Done():
		}
	}()
}

// connectSocial opens a profile URL for a known platform. A missing
// handle is a silent no-op.
func (d *Dispatcher) connectSocial(ctx context.Context, ep *Episode, platform, handle, baseURL string) {
	if handle == "" {
		slog.Info("[Dispatcher] No handle for platform, skipping", "platform", platform)
		_ = ep.Transition(StateDone)
		return
	}

	if err := ep.Transition(StateExecuting); err != nil {
		slog.Error("[Dispatcher] Execute transition failed", "error", err)
		return
	}
	ep.AppendStep(core.AgentStep{
		Label:     fmt.Sprintf("Connecting on %s...", platform),
		IsLoading: true,
		Type:      core.StepConnection,
	})

	if err := d.links.Open(ctx, baseURL+handle); err != nil {
		slog.Warn("[Dispatcher] Link open failed", "platform", platform, "error", err)
	}
	ep.PushStep(core.AgentStep{
		Label: fmt.Sprintf("Connected on %s", platform),
		Type:  core.StepConnection,
	})
	d.record(ctx, fmt.Sprintf("Connected with %s on %s", ep.Profile().Name, platform))
	_ = ep.Transition(StateDone)
}

// connectNamedPlatform routes the generic connectSocial variant.
func (d *Dispatcher) connectNamedPlatform(ctx context.Context, ep *Episode, platform string, profile core.Profile) {
	switch strings.ToLower(platform) {
	case "linkedin":
		d.connectSocial(ctx, ep, "LinkedIn", profile.LinkedIn, "https://linkedin.com/in/")
	case "telegram":
		d.connectSocial(ctx, ep, "Telegram", profile.Telegram, "https://t.me/")
	case "twitter", "x":
		d.connectSocial(ctx, ep, "Twitter", profile.Twitter, "https://x.com/")
	default:
		slog.Warn("[Dispatcher] Unknown social platform, skipping", "platform", platform)
		_ = ep.Transition(StateDone)
	}
}

// bridgeFlow fetches a cross-chain quote, renders a confirmation card,
// and executes on explicit approval. Chain identifiers resolve as raw
// numeric IDs or through the name lookup table.
func (d *Dispatcher) bridgeFlow(ctx context.Context, ep *Episode, call *core.FunctionCall, profile core.Profile) {
	if d.bridge == nil {
		ep.AppendStep(core.AgentStep{Label: "Bridging is not configured", Type: core.StepToken})
		ep.Fail("bridge not configured")
		return
	}

	sourceID := d.chainID
	if call.Args.SourceChain != "" {
		id, err := chains.Resolve(call.Args.SourceChain)
		if err != nil {
			ep.AppendStep(core.AgentStep{Label: "Unsupported source chain: " + call.Args.SourceChain, Type: core.StepToken})
			ep.Fail(err.Error())
			return
		}
		sourceID = id
	}

	destID, err := chains.Resolve(call.Args.DestinationChain)
	if err != nil {
		ep.AppendStep(core.AgentStep{Label: "Unsupported destination chain: " + call.Args.DestinationChain, Type: core.StepToken})
		ep.Fail(err.Error())
		return
	}

	amount := wallet.SanitizeAmount(call.Args.Amount)
	meta, ok := bridge.TokenMeta[sourceID]
	if !ok {
		ep.AppendStep(core.AgentStep{Label: "Unsupported token for the selected chains", Type: core.StepToken})
		ep.Fail("unsupported source token")
		return
	}
	smallest, err := wallet.ParseUnits(amount, meta.Decimals)
	if err != nil {
		ep.AppendStep(core.AgentStep{Label: "Invalid amount: " + amount, Type: core.StepToken})
		ep.Fail(err.Error())
		return
	}

	recipient := call.Args.RecipientAddress
	if recipient == "" {
		recipient = profile.Name
	}

	ep.AppendStep(core.AgentStep{Label: "Getting bridge quote...", IsLoading: true, Type: core.StepToken})
	quote, err := d.bridge.GetQuote(ctx, sourceID, destID, smallest.String(), recipient, bridge.QuoteOptions{})
	if err != nil {
		if d.metrics != nil {
			d.metrics.BridgeQuotes.WithLabelValues("error").Inc()
		}
		ep.PushStep(core.AgentStep{Label: "Failed to get bridge quote: " + err.Error(), Type: core.StepToken})
		ep.Fail("bridge quote failed")
		return
	}
	if d.metrics != nil {
		d.metrics.BridgeQuotes.WithLabelValues("ok").Inc()
	}

	if err := ep.Transition(StateAwaitingUserConfirmation); err != nil {
		slog.Error("[Dispatcher] Confirmation transition failed", "error", err)
		return
	}
	ep.PushStep(core.AgentStep{Label: confirmationSummary(quote), IsLoading: true, Type: core.StepToken})

	approved, err := ep.AwaitConfirmation(ctx)
	if err != nil {
		slog.Info("[Dispatcher] Confirmation wait ended", "error", err)
		return
	}
	if !approved {
		ep.PushStep(core.AgentStep{Label: "Bridge cancelled", Type: core.StepToken})
		_ = ep.Transition(StateDone)
		return
	}

	if err := ep.Transition(StateExecuting); err != nil {
		slog.Error("[Dispatcher] Execute transition failed", "error", err)
		return
	}
	ep.PushStep(core.AgentStep{Label: "Executing bridge transaction...", IsLoading: true, Type: core.StepTransaction})

	hash, err := d.bridge.ExecuteTransaction(ctx, quote)
	if err != nil {
		_, msg := wallet.ClassifyError(err)
		ep.PushStep(core.AgentStep{Label: msg, Type: core.StepTransaction})
		ep.Fail(msg)
		return
	}

	ep.PushStep(core.AgentStep{Label: "Bridge transaction submitted", Type: core.StepTransaction})
	ep.AppendStep(core.AgentStep{
		Label: fmt.Sprintf("Tracking order %s", quote.OrderID),
		Type:  core.StepHash,
	})
	d.record(ctx, fmt.Sprintf("Bridged %s %s to chain %d for %s", amount, meta.Symbol, destID, recipient))
	_ = ep.Transition(StateDone)

	// Status polling runs until the episode closes; no backoff, no cap.
	go d.bridge.PollStatus(ep.Context(), quote.OrderID, d.pollInterval, func(status *bridge.OrderStatus) {
		if d.metrics != nil {
			d.metrics.BridgePolls.Inc()
		}
		d.emitter.Emit(events.TypeBridgeStatus, "dispatcher", ep.ID, map[string]interface{}{
			"orderId": quote.OrderID,
			"status":  status.Status,
			"txHash":  hash,
		})
	})
}

// confirmationSummary renders the human confirmation card for a quote.
func confirmationSummary(q *bridge.Quote) string {
	src := q.Estimation.SrcChainTokenIn
	dst := q.Estimation.DstChainTokenOut

	srcAmount := formatSmallest(src.Amount, src.Decimals)
	dstAmount := formatSmallest(dst.RecommendedAmount, dst.Decimals)
	if dstAmount == "0" {
		dstAmount = formatSmallest(dst.Amount, dst.Decimals)
	}
	fee := formatSmallest(q.FixFee, 18)

	approval := "native token, no approval needed"
	if !q.SourceIsNative() {
		approval = "requires token approval"
	}
	return fmt.Sprintf("Bridge %s %s → %s %s (fee %s, ~%ds, %s). Confirm to execute.",
		srcAmount, src.Symbol, dstAmount, dst.Symbol, fee,
		q.Order.ApproximateFulfillmentDelay, approval)
}

func formatSmallest(amount string, decimals int) string {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	return wallet.FormatUnits(v, decimals)
}

// record appends a history row; failures are logged, never surfaced.
func (d *Dispatcher) record(ctx context.Context, result string) {
	if d.history == nil {
		return
	}
	addr := d.operatorAddress(ctx)
	err := d.history.Record(ctx, addr, core.TransactionRecord{
		Result:      result,
		Timestamp:   time.Now(),
		UserAddress: addr,
	})
	if err != nil {
		slog.Warn("[Dispatcher] History record failed", "error", err)
	}
}

// truncate shortens s to max runes, never splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
