// ABOUTME: Conversation orchestrates the transport, reconciler, and event bus.
// ABOUTME: Implements the session lifecycle state machine with resumable ends.

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/component"
	"github.com/2389/agentforce-go/telemetry"
	"github.com/2389/agentforce-go/transport"
	"github.com/2389/agentforce-go/wire"
)

const (
	defaultCredentialTimeout = 10 * time.Second

	// archiveTimeout bounds local persistence so a slow disk cannot stall
	// the stream consumer.
	archiveTimeout = 5 * time.Second
)

// State is the conversation lifecycle state. Transitions are monotonic with
// one exception: an Ended conversation becomes Active again on resumption.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateEnded
	StateClosed
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Options wires a conversation's capabilities. Identity, Channel, and Source
// are required; everything else has a safe default.
type Options struct {
	Identity wire.Identity
	// SessionID resumes a prior session when non-empty.
	SessionID string
	// InitialUtterance is transmitted with the opening handshake when set.
	InitialUtterance *wire.Utterance

	Channel   transport.Channel
	Source    auth.Source
	Registry  *component.Registry
	Delegate  Delegate
	Navigator Navigator
	Archive   Archiver

	Logger     *slog.Logger
	Instrument telemetry.Instrument

	// CredentialTimeout bounds each credential retrieval; expiry is an auth
	// failure.
	CredentialTimeout time.Duration
	// TranscriptEnabled permits DownloadTranscript. Only service-agent mode
	// clients set this.
	TranscriptEnabled bool
}

// Conversation is one stateful multi-turn session with a remote agent. Create
// it through the client package, then Start it before sending.
type Conversation struct {
	identity   wire.Identity
	channel    transport.Channel
	source     auth.Source
	registry   *component.Registry
	reconciler *Reconciler
	bus        *Bus
	delegate   Delegate
	navigator  Navigator
	archive    Archiver
	logger     *slog.Logger
	inst       telemetry.Instrument

	credTimeout       time.Duration
	transcriptEnabled bool
	initialUtterance  *wire.Utterance

	// sendSlot serializes sends per conversation; queued senders block here
	// in arrival order.
	sendSlot chan struct{}

	// lifeCtx bounds the stream and background work for the conversation's
	// whole life, independent of any one caller's context.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu        sync.Mutex
	state     State
	sessionID string
	stream    transport.Stream
	cancelled chan struct{} // closed on Close or fault; unblocks queued sends
}

// New creates a conversation in the Initializing state.
func New(opts Options) (*Conversation, error) {
	if err := opts.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("transport channel is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("credential source is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation", "agent", opts.Identity.Key())

	registry := opts.Registry
	if registry == nil {
		registry = component.NewRegistry(logger)
	}
	delegate := opts.Delegate
	if delegate == nil {
		delegate = NoopDelegate{}
	}
	inst := opts.Instrument
	if inst == nil {
		inst = telemetry.Noop()
	}
	credTimeout := opts.CredentialTimeout
	if credTimeout <= 0 {
		credTimeout = defaultCredentialTimeout
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	c := &Conversation{
		identity:          opts.Identity,
		channel:           opts.Channel,
		source:            opts.Source,
		registry:          registry,
		reconciler:        NewReconciler(registry),
		bus:               NewBus(logger),
		delegate:          delegate,
		navigator:         opts.Navigator,
		archive:           opts.Archive,
		logger:            logger,
		inst:              inst,
		credTimeout:       credTimeout,
		transcriptEnabled: opts.TranscriptEnabled,
		initialUtterance:  opts.InitialUtterance,
		sendSlot:          make(chan struct{}, 1),
		lifeCtx:           lifeCtx,
		lifeCancel:        lifeCancel,
		state:             StateInitializing,
		sessionID:         opts.SessionID,
		cancelled:         make(chan struct{}),
	}
	c.sendSlot <- struct{}{}
	return c, nil
}

// Identity returns the immutable agent identity.
func (c *Conversation) Identity() wire.Identity { return c.identity }

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the resumption token, empty until the handshake confirms
// a session.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe registers an event consumer. Late subscribers get no replay; call
// Snapshot to reconcile current history and state without racing.
func (c *Conversation) Subscribe(ctx context.Context) (<-chan Event, string) {
	return c.bus.Subscribe(ctx)
}

// Unsubscribe removes a subscription by ID.
func (c *Conversation) Unsubscribe(subID string) {
	c.bus.Unsubscribe(subID)
}

// Snapshot is a point-in-time view of conversation state and history.
type Snapshot struct {
	State     State
	SessionID string
	Messages  []*Message // finalized, delivery order
	Partials  []*Message // still streaming, first-frame order
}

// Snapshot returns a deep-copied view of the current state, finalized
// history, and in-progress partial messages.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.state
	sessionID := c.sessionID
	c.mu.Unlock()

	return Snapshot{
		State:     state,
		SessionID: sessionID,
		Messages:  c.reconciler.History(),
		Partials:  c.reconciler.Partials(),
	}
}

// Start opens the stream and moves the conversation to Active. Credential
// timeout is an auth failure and no stream is opened; any handshake failure
// is state-defining and moves the conversation to Error.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitializing {
		reason := fmt.Sprintf("cannot start a %s conversation", c.state)
		c.mu.Unlock()
		return c.usage("start", reason)
	}
	resumeID := c.sessionID
	c.mu.Unlock()

	creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
	if err != nil {
		c.fault(err)
		return err
	}

	stream, err := c.channel.OpenStream(c.lifeCtx, creds, c.identity, transport.StreamOptions{
		SessionID:        resumeID,
		InitialUtterance: c.initialUtterance,
	})
	if err != nil {
		c.fault(err)
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.sessionID = stream.SessionID()
	c.setStateLocked(StateActive)
	c.mu.Unlock()

	go c.consume(stream)

	c.logger.Info("conversation started", "session_id", stream.SessionID(), "resumed", resumeID != "")
	c.inst.Record(ctx, telemetry.Event{
		Name: "conversation.start",
		Time: time.Now(),
		Attrs: map[string]any{
			"session_id": stream.SessionID(),
			"resumed":    resumeID != "",
		},
	})
	return nil
}

// Send transmits one utterance. Concurrent sends are serialized in arrival
// order; queued sends fail with a cancellation error if the conversation
// closes first. Sending on an Ended conversation resumes it. Hook order is
// guaranteed: modify, transmit, didSend.
func (c *Conversation) Send(ctx context.Context, utt wire.Utterance) error {
	select {
	case <-c.sendSlot:
	default:
		// Slot busy: this send is queued behind an in-flight one.
		select {
		case <-c.sendSlot:
		case <-ctx.Done():
			return &CancellationError{Op: "send"}
		case <-c.cancelled:
			return &CancellationError{Op: "send"}
		}
		// The slot and the cancellation signal can become ready at once
		// and the select picks arbitrarily. A queued send overtaken by a
		// close must surface as a cancellation, not a state error.
		select {
		case <-c.cancelled:
			c.sendSlot <- struct{}{}
			return &CancellationError{Op: "send"}
		default:
		}
	}
	defer func() { c.sendSlot <- struct{}{} }()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateInitializing:
		return c.usage("send", "conversation not started")
	case StateClosed:
		return c.usage("send", "conversation is closed")
	case StateError:
		return c.usage("send", "conversation is in error state")
	case StateEnded:
		if err := c.resume(ctx); err != nil {
			return err
		}
	}

	if err := c.delegate.ModifyUtteranceBeforeSending(ctx, &utt); err != nil {
		err = fmt.Errorf("pre-send hook rejected utterance: %w", err)
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}
	if utt.ClientTimestamp.IsZero() {
		utt.ClientTimestamp = time.Now()
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	body, err := json.Marshal(wire.SendRequest{SessionID: sessionID, Utterance: utt})
	if err != nil {
		err = fmt.Errorf("encoding utterance: %w", err)
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}
	if _, err := c.channel.Request(ctx, creds, transport.MethodSendMessage, body); err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	c.archiveUtterance(sessionID, utt)
	c.delegate.DidSendUtterance(utt)

	c.logger.Debug("utterance sent", "session_id", sessionID, "chars", len(utt.Text))
	c.inst.Record(ctx, telemetry.Event{
		Name:  "conversation.send",
		Time:  time.Now(),
		Attrs: map[string]any{"session_id": sessionID},
	})
	return nil
}

// resume reopens the stream for an Ended conversation using the retained
// session ID. On failure the conversation stays Ended and the error is
// surfaced; resumption can be retried.
func (c *Conversation) resume(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	stream, err := c.channel.OpenStream(c.lifeCtx, creds, c.identity, transport.StreamOptions{
		SessionID: sessionID,
	})
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	c.mu.Lock()
	if c.state != StateEnded {
		// Closed or faulted while we were reopening.
		state := c.state
		c.mu.Unlock()
		stream.Close()
		return c.usage("send", fmt.Sprintf("conversation became %s during resume", state))
	}
	c.stream = stream
	c.sessionID = stream.SessionID()
	c.setStateLocked(StateActive)
	c.mu.Unlock()

	go c.consume(stream)

	c.logger.Info("conversation resumed", "session_id", stream.SessionID())
	return nil
}

// End closes the session at the transport level while retaining history and
// the session ID for resumption. On transport failure the conversation stays
// Active; the end is not assumed to have occurred.
func (c *Conversation) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		reason := fmt.Sprintf("cannot end a %s conversation", c.state)
		c.mu.Unlock()
		return c.usage("end", reason)
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	body, err := json.Marshal(wire.SessionRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encoding end request: %w", err)
	}
	if _, err := c.channel.Request(ctx, creds, transport.MethodEndSession, body); err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return err
	}

	c.mu.Lock()
	var stream transport.Stream
	if c.state == StateActive {
		stream = c.stream
		c.stream = nil
		c.setStateLocked(StateEnded)
	}
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	c.logger.Info("conversation ended", "session_id", sessionID)
	return nil
}

// Close is terminal: it cancels the stream and any queued sends, best-effort
// notifies the service, and rejects every later mutating call. The state is
// Closed regardless of whether the notify succeeded.
func (c *Conversation) Close(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return c.usage("close", "conversation already closed")
	case StateError:
		c.mu.Unlock()
		return c.usage("close", "conversation is in error state; dispose of it")
	}
	sessionID := c.sessionID
	stream := c.stream
	c.stream = nil
	c.setStateLocked(StateClosed)
	c.closeCancelledLocked()
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	var notifyErr error
	if sessionID != "" {
		creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
		if err != nil {
			notifyErr = err
		} else {
			body, _ := json.Marshal(wire.SessionRequest{SessionID: sessionID})
			if _, err := c.channel.Request(ctx, creds, transport.MethodCloseSession, body); err != nil {
				notifyErr = err
			}
		}
	}
	if notifyErr != nil {
		c.logger.Warn("close notification failed", "session_id", sessionID, "error", notifyErr)
		c.bus.Publish(Event{Type: EventError, Err: notifyErr})
	}

	c.bus.Close()
	c.lifeCancel()

	c.logger.Info("conversation closed", "session_id", sessionID)
	return notifyErr
}

// DownloadTranscript fetches the service-side transcript. Valid only for
// service-agent mode clients and only while the conversation is not Closed;
// it never changes state.
func (c *Conversation) DownloadTranscript(ctx context.Context) ([]byte, error) {
	if !c.transcriptEnabled {
		return nil, c.usage("transcript", "transcript download requires service-agent mode")
	}

	c.mu.Lock()
	state := c.state
	sessionID := c.sessionID
	c.mu.Unlock()

	if state == StateClosed {
		return nil, c.usage("transcript", "conversation is closed")
	}
	if sessionID == "" {
		return nil, c.usage("transcript", "no session established")
	}

	creds, err := auth.Fetch(ctx, c.source, c.credTimeout)
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return nil, err
	}

	body, err := json.Marshal(wire.SessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("encoding transcript request: %w", err)
	}
	transcript, err := c.channel.Request(ctx, creds, transport.MethodTranscript, body)
	if err != nil {
		c.bus.Publish(Event{Type: EventError, Err: err})
		return nil, err
	}
	return transcript, nil
}

// consume folds frames from one stream into history until the stream ends.
// Runs as the conversation's dedicated stream task so frame delivery is never
// blocked by host-side event handling.
func (c *Conversation) consume(stream transport.Stream) {
	for frame := range stream.Frames() {
		msg, final, err := c.reconciler.Apply(frame)
		if err != nil {
			c.detach(stream)
			stream.Close()
			c.fault(err)
			return
		}

		evType := EventMessageUpdated
		if final {
			evType = EventMessageFinalized
		}
		c.bus.Publish(Event{Type: evType, Message: msg})

		if last := msg.Components[len(msg.Components)-1]; last.IsNavigation() {
			c.bus.Publish(Event{Type: EventNavigation, Target: last.Target})
			if c.navigator != nil {
				if err := c.navigator.Navigate(c.lifeCtx, last.Target); err != nil {
					c.logger.Warn("navigation failed", "target", last.Target, "error", err)
					c.bus.Publish(Event{Type: EventError, Err: fmt.Errorf("navigation to %s: %w", last.Target, err)})
				}
			}
		}

		if final {
			c.archiveMessage(msg)
			c.inst.Record(c.lifeCtx, telemetry.Event{
				Name:  "conversation.finalize",
				Time:  time.Now(),
				Attrs: map[string]any{"message_id": msg.ID, "components": len(msg.Components)},
			})
		}

		c.inst.Record(c.lifeCtx, telemetry.Event{
			Name: "conversation.frame",
			Time: time.Now(),
			Attrs: map[string]any{
				"message_id": frame.MessageID,
				"seq":        frame.SequenceNumber,
				"final":      frame.IsFinal,
			},
		})
	}

	if !c.detach(stream) {
		// Superseded by resume, or already detached by End/Close.
		return
	}

	if err := stream.Err(); err != nil {
		c.fault(err)
		return
	}

	// Clean remote close: the service ended the session. History and the
	// session ID are retained, so the conversation is resumable.
	c.mu.Lock()
	if c.state == StateActive {
		c.setStateLocked(StateEnded)
		c.logger.Info("stream closed by service, conversation resumable", "session_id", c.sessionID)
	}
	c.mu.Unlock()
}

// detach clears c.stream if it still refers to the given stream. Returns
// false when the stream was already detached or replaced.
func (c *Conversation) detach(stream transport.Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != stream {
		return false
	}
	c.stream = nil
	return true
}

// fault moves the conversation to the Error state. The only valid next action
// for the host is disposal. From a terminal state this only reports the error.
func (c *Conversation) fault(err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError {
		c.mu.Unlock()
		c.logger.Error("error after terminal state", "error", err)
		return
	}
	stream := c.stream
	c.stream = nil
	c.state = StateError
	c.closeCancelledLocked()
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	c.logger.Error("conversation faulted", "error", err)
	c.bus.Publish(Event{Type: EventError, Err: err})
	c.bus.Publish(Event{Type: EventStateChanged, State: StateError})
	c.inst.Record(c.lifeCtx, telemetry.Event{
		Name:  "conversation.error",
		Time:  time.Now(),
		Attrs: map[string]any{"error": err.Error()},
	})
	c.lifeCancel()
}

// usage builds, publishes, and returns a UsageError so background observers
// see local rejections too.
func (c *Conversation) usage(op, reason string) error {
	err := &UsageError{Op: op, Reason: reason}
	c.bus.Publish(Event{Type: EventError, Err: err})
	return err
}

// setStateLocked transitions state and publishes the change. Caller holds mu.
func (c *Conversation) setStateLocked(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.logger.Debug("state changed", "from", prev.String(), "to", next.String())
	c.bus.Publish(Event{Type: EventStateChanged, State: next})
}

// closeCancelledLocked unblocks queued sends exactly once. Caller holds mu.
func (c *Conversation) closeCancelledLocked() {
	select {
	case <-c.cancelled:
	default:
		close(c.cancelled)
	}
}

// archiveUtterance persists an outbound utterance with its own timeout so
// persistence survives caller-context cancellation. Failures are logged only.
func (c *Conversation) archiveUtterance(sessionID string, utt wire.Utterance) {
	if c.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.archive.SaveUtterance(ctx, sessionID, utt); err != nil {
		c.logger.Error("failed to archive utterance", "session_id", sessionID, "error", err)
	}
}

// archiveMessage persists a finalized message. Failures are logged only.
func (c *Conversation) archiveMessage(msg *Message) {
	if c.archive == nil {
		return
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.archive.SaveMessage(ctx, sessionID, msg); err != nil {
		c.logger.Error("failed to archive message", "session_id", sessionID, "message_id", msg.ID, "error", err)
	}
}
