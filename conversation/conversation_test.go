// ABOUTME: Tests for the conversation lifecycle state machine and orchestration.
// ABOUTME: Uses an in-memory fake transport to drive frames, faults, and remote closes.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/transport"
	"github.com/2389/agentforce-go/wire"
)

var testIdentity = wire.AgentIdentity("0XxSB000000IPCr0AO", "00Dxx0000001gPF")

// fakeStream is a scriptable transport.Stream.
type fakeStream struct {
	sessionID string
	frames    chan wire.MessageFrame

	mu     sync.Mutex
	err    error
	closed bool
}

func newFakeStream(sessionID string) *fakeStream {
	return &fakeStream{
		sessionID: sessionID,
		frames:    make(chan wire.MessageFrame, 64),
	}
}

func (s *fakeStream) SessionID() string                { return s.sessionID }
func (s *fakeStream) Frames() <-chan wire.MessageFrame { return s.frames }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit pushes a frame to the consumer.
func (s *fakeStream) emit(frame wire.MessageFrame) { s.frames <- frame }

// endClean simulates the server closing the stream normally.
func (s *fakeStream) endClean() { close(s.frames) }

// fail simulates an abnormal stream termination.
func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.frames)
}

// requestRecord captures one one-shot call.
type requestRecord struct {
	Method transport.Method
	Body   []byte
}

// fakeChannel is a scriptable transport.Channel.
type fakeChannel struct {
	mu          sync.Mutex
	streams     []*fakeStream
	streamOpts  []transport.StreamOptions
	requests    []requestRecord
	openErr     error
	requestErr  error
	requestResp []byte
	sendHold    chan struct{} // blocks send-message requests until closed
	sessionSeq  int
}

func (c *fakeChannel) Request(ctx context.Context, creds auth.Credentials, method transport.Method, body []byte) ([]byte, error) {
	c.mu.Lock()
	hold := c.sendHold
	c.requests = append(c.requests, requestRecord{Method: method, Body: body})
	err := c.requestErr
	resp := c.requestResp
	c.mu.Unlock()

	if hold != nil && method == transport.MethodSendMessage {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *fakeChannel) OpenStream(ctx context.Context, creds auth.Credentials, identity wire.Identity, opts transport.StreamOptions) (transport.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		c.sessionSeq++
		sessionID = "sess-" + string(rune('0'+c.sessionSeq))
	}
	s := newFakeStream(sessionID)
	c.streams = append(c.streams, s)
	c.streamOpts = append(c.streamOpts, opts)
	return s, nil
}

func (c *fakeChannel) lastStream() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[len(c.streams)-1]
}

func (c *fakeChannel) methods() []transport.Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Method, len(c.requests))
	for i, r := range c.requests {
		out[i] = r.Method
	}
	return out
}

func staticSource() auth.Source {
	return auth.StaticSource{Creds: auth.OrgJWT{Token: "tok"}}
}

func newTestConversation(t *testing.T, ch *fakeChannel, mutate ...func(*Options)) *Conversation {
	t.Helper()
	opts := Options{
		Identity: testIdentity,
		Channel:  ch,
		Source:   staticSource(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	conv, err := New(opts)
	require.NoError(t, err)
	return conv
}

func startedConversation(t *testing.T, ch *fakeChannel, mutate ...func(*Options)) *Conversation {
	t.Helper()
	conv := newTestConversation(t, ch, mutate...)
	require.NoError(t, conv.Start(context.Background()))
	return conv
}

// collect drains events until the predicate is satisfied or a timeout fires.
func collect(t *testing.T, ch <-chan Event, done func([]Event) bool) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(2 * time.Second)
	for {
		if done(events) {
			return events
		}
		select {
		case ev, open := <-ch:
			if !open {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d", len(events))
		}
	}
}

func waitForState(t *testing.T, conv *Conversation, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conv.State() == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

func TestConversation_StartMovesToActive(t *testing.T) {
	ch := &fakeChannel{}
	conv := newTestConversation(t, ch)

	assert.Equal(t, StateInitializing, conv.State())
	require.NoError(t, conv.Start(context.Background()))
	assert.Equal(t, StateActive, conv.State())
	assert.NotEmpty(t, conv.SessionID())
}

func TestConversation_StartTwiceIsUsageError(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)

	err := conv.Start(context.Background())
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, "start", usage.Op)
}

func TestConversation_CredentialTimeoutFailsStartWithoutStream(t *testing.T) {
	ch := &fakeChannel{}
	blocked := auth.SourceFunc(func(ctx context.Context) (auth.Credentials, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	conv := newTestConversation(t, ch, func(o *Options) {
		o.Source = blocked
		o.CredentialTimeout = 20 * time.Millisecond
	})

	err := conv.Start(context.Background())

	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.Timeout)
	assert.Equal(t, StateError, conv.State())
	assert.Empty(t, ch.streams, "no stream attempt after credential failure")
}

func TestConversation_HandshakeFailureIsStateDefining(t *testing.T) {
	ch := &fakeChannel{openErr: &transport.Error{Op: "stream", Err: errors.New("connection refused")}}
	conv := newTestConversation(t, ch)

	err := conv.Start(context.Background())

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateError, conv.State())
}

func TestConversation_SendBeforeStartIsUsageError(t *testing.T) {
	conv := newTestConversation(t, &fakeChannel{})

	err := conv.Send(context.Background(), wire.Utterance{Text: "hi"})
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
}

func TestConversation_SendTransmitsUtterance(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)

	require.NoError(t, conv.Send(context.Background(), wire.Utterance{Text: "hello"}))

	require.Len(t, ch.requests, 1)
	assert.Equal(t, transport.MethodSendMessage, ch.requests[0].Method)

	var sent wire.SendRequest
	require.NoError(t, json.Unmarshal(ch.requests[0].Body, &sent))
	assert.Equal(t, conv.SessionID(), sent.SessionID)
	assert.Equal(t, "hello", sent.Utterance.Text)
	assert.False(t, sent.Utterance.ClientTimestamp.IsZero())
}

// hookRecorder records delegate callbacks in invocation order.
type hookRecorder struct {
	NoopDelegate
	mu    sync.Mutex
	calls []string
	fail  error
}

func (h *hookRecorder) ModifyUtteranceBeforeSending(ctx context.Context, utt *wire.Utterance) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "modify")
	if h.fail != nil {
		return h.fail
	}
	utt.Text = utt.Text + " [annotated]"
	return nil
}

func (h *hookRecorder) DidSendUtterance(utt wire.Utterance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "didSend:"+utt.Text)
}

func TestConversation_HookOrderModifyTransmitDidSend(t *testing.T) {
	ch := &fakeChannel{}
	hooks := &hookRecorder{}
	conv := startedConversation(t, ch, func(o *Options) { o.Delegate = hooks })

	require.NoError(t, conv.Send(context.Background(), wire.Utterance{Text: "hi"}))

	// The modified utterance is what was transmitted and what didSend saw.
	var sent wire.SendRequest
	require.NoError(t, json.Unmarshal(ch.requests[0].Body, &sent))
	assert.Equal(t, "hi [annotated]", sent.Utterance.Text)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []string{"modify", "didSend:hi [annotated]"}, hooks.calls)
}

func TestConversation_ModifyHookErrorAbortsSend(t *testing.T) {
	ch := &fakeChannel{}
	hooks := &hookRecorder{fail: errors.New("content policy")}
	conv := startedConversation(t, ch, func(o *Options) { o.Delegate = hooks })

	err := conv.Send(context.Background(), wire.Utterance{Text: "hi"})

	require.Error(t, err)
	assert.Empty(t, ch.requests, "nothing transmitted after hook rejection")
}

func TestConversation_ThreeFrameStreamProducesUpdatesAndFinal(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	events, _ := conv.Subscribe(context.Background())

	stream := ch.lastStream()
	stream.emit(textFrame("msg-1", 0, false, "Hel"))
	stream.emit(textFrame("msg-1", 1, false, "Hello, wo"))
	stream.emit(textFrame("msg-1", 2, true, "Hello, world"))

	got := collect(t, events, func(evs []Event) bool {
		return len(evs) > 0 && evs[len(evs)-1].Type == EventMessageFinalized
	})

	var updates, finals int
	for _, ev := range got {
		switch ev.Type {
		case EventMessageUpdated:
			updates++
		case EventMessageFinalized:
			finals++
		}
	}
	assert.Equal(t, 2, updates)
	assert.Equal(t, 1, finals)

	last := got[len(got)-1].Message
	assert.Equal(t, CompletionComplete, last.Completion)
	assert.Len(t, last.Components, 3)

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Empty(t, snap.Partials)
}

func TestConversation_SnapshotShowsPartials(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	events, _ := conv.Subscribe(context.Background())

	ch.lastStream().emit(textFrame("msg-1", 0, false, "streaming..."))
	collect(t, events, func(evs []Event) bool { return len(evs) >= 1 })

	snap := conv.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Messages)
	require.Len(t, snap.Partials, 1)
	assert.Equal(t, CompletionStreaming, snap.Partials[0].Completion)
}

func TestConversation_SequenceGapFaultsConversation(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	events, _ := conv.Subscribe(context.Background())

	stream := ch.lastStream()
	stream.emit(textFrame("msg-1", 0, false, "first"))
	stream.emit(textFrame("msg-1", 2, false, "gap"))

	got := collect(t, events, func(evs []Event) bool {
		for _, ev := range evs {
			if ev.Type == EventError {
				return true
			}
		}
		return false
	})

	var protoErr error
	for _, ev := range got {
		if ev.Type == EventError {
			protoErr = ev.Err
		}
	}
	var pv *ProtocolViolationError
	require.ErrorAs(t, protoErr, &pv)

	waitForState(t, conv, StateError)
	assert.True(t, stream.wasClosed())

	// Every later mutating call is rejected.
	err := conv.Send(context.Background(), wire.Utterance{Text: "too late"})
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
}

func TestConversation_CleanRemoteCloseEndsConversation(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)

	ch.lastStream().endClean()

	waitForState(t, conv, StateEnded)
	assert.NotEmpty(t, conv.SessionID(), "session id retained for resumption")
}

func TestConversation_StreamFaultMovesToError(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)

	ch.lastStream().fail(&transport.Error{Op: "stream", Err: errors.New("stream dropped")})

	waitForState(t, conv, StateError)
}

func TestConversation_EndRetainsSessionAndHistory(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	events, _ := conv.Subscribe(context.Background())

	ch.lastStream().emit(textFrame("msg-1", 0, true, "hello"))
	collect(t, events, func(evs []Event) bool {
		return len(evs) > 0 && evs[len(evs)-1].Type == EventMessageFinalized
	})

	sessionID := conv.SessionID()
	require.NoError(t, conv.End(context.Background()))

	assert.Equal(t, StateEnded, conv.State())
	assert.Equal(t, sessionID, conv.SessionID())
	assert.Contains(t, ch.methods(), transport.MethodEndSession)

	snap := conv.Snapshot()
	assert.Len(t, snap.Messages, 1, "history survives end")
}

func TestConversation_SendAfterEndResumes(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	sessionID := conv.SessionID()

	require.NoError(t, conv.End(context.Background()))
	require.NoError(t, conv.Send(context.Background(), wire.Utterance{Text: "resume me"}))

	assert.Equal(t, StateActive, conv.State())
	require.Len(t, ch.streams, 2)
	assert.Equal(t, sessionID, ch.streamOpts[1].SessionID, "resume reuses the session id")
}

func TestConversation_ResumeFailureStaysEnded(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	require.NoError(t, conv.End(context.Background()))

	ch.mu.Lock()
	ch.openErr = &transport.Error{Op: "stream", Err: errors.New("service unavailable")}
	ch.mu.Unlock()

	err := conv.Send(context.Background(), wire.Utterance{Text: "resume me"})

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateEnded, conv.State(), "resume failure is not state-defining")

	// The resume can be retried once the service recovers.
	ch.mu.Lock()
	ch.openErr = nil
	ch.mu.Unlock()
	require.NoError(t, conv.Send(context.Background(), wire.Utterance{Text: "retry"}))
	assert.Equal(t, StateActive, conv.State())
}

func TestConversation_CloseIsTerminal(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)
	stream := ch.lastStream()

	require.NoError(t, conv.Close(context.Background()))

	assert.Equal(t, StateClosed, conv.State())
	assert.True(t, stream.wasClosed())
	assert.Contains(t, ch.methods(), transport.MethodCloseSession)

	err := conv.Send(context.Background(), wire.Utterance{Text: "post-close"})
	var usage *UsageError
	require.ErrorAs(t, err, &usage)

	err = conv.Close(context.Background())
	require.ErrorAs(t, err, &usage)
}

func TestConversation_CloseSucceedsLocallyWhenNotifyFails(t *testing.T) {
	ch := &fakeChannel{requestErr: &transport.Error{Op: "close", Err: errors.New("gone")}}
	conv := startedConversation(t, ch)

	err := conv.Close(context.Background())

	require.Error(t, err, "notify failure is reported")
	assert.Equal(t, StateClosed, conv.State(), "state is closed regardless")
}

func TestConversation_CloseCancelsQueuedSend(t *testing.T) {
	hold := make(chan struct{})
	ch := &fakeChannel{sendHold: hold}
	conv := startedConversation(t, ch)

	// The first send blocks in flight, holding the send slot.
	firstSent := make(chan error, 1)
	go func() {
		firstSent <- conv.Send(context.Background(), wire.Utterance{Text: "first"})
	}()
	require.Eventually(t, func() bool {
		return len(ch.methods()) == 1
	}, time.Second, 5*time.Millisecond)

	// The second send queues behind it.
	queued := make(chan error, 1)
	go func() {
		queued <- conv.Send(context.Background(), wire.Utterance{Text: "second"})
	}()

	require.NoError(t, conv.Close(context.Background()))

	// The queued send fails with a cancellation error without transmitting.
	select {
	case err := <-queued:
		var cancelled *CancellationError
		require.ErrorAs(t, err, &cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("queued send never returned after close")
	}

	close(hold)
	<-firstSent
}

func TestConversation_QueuedSendPrefersCancellationOverFreedSlot(t *testing.T) {
	// When the in-flight send returns its slot right as the conversation
	// closes, the queued send can wake on either signal. It must report a
	// cancellation either way, never a closed-state usage error.
	for i := 0; i < 10; i++ {
		hold := make(chan struct{})
		ch := &fakeChannel{sendHold: hold}
		conv := startedConversation(t, ch)

		firstSent := make(chan error, 1)
		go func() {
			firstSent <- conv.Send(context.Background(), wire.Utterance{Text: "first"})
		}()
		require.Eventually(t, func() bool {
			return len(ch.methods()) == 1
		}, time.Second, time.Millisecond)

		queued := make(chan error, 1)
		go func() {
			queued <- conv.Send(context.Background(), wire.Utterance{Text: "second"})
		}()
		time.Sleep(20 * time.Millisecond) // let the second send park on the slot

		require.NoError(t, conv.Close(context.Background()))
		close(hold) // the in-flight send finishes and frees the slot

		select {
		case err := <-queued:
			var cancelled *CancellationError
			require.ErrorAs(t, err, &cancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("queued send never returned after close")
		}
		<-firstSent
	}
}

func TestConversation_NavigationEventAndNavigator(t *testing.T) {
	ch := &fakeChannel{}
	var navigated []string
	var navMu sync.Mutex
	nav := navigatorFunc(func(ctx context.Context, target string) error {
		navMu.Lock()
		defer navMu.Unlock()
		navigated = append(navigated, target)
		return nil
	})
	conv := startedConversation(t, ch, func(o *Options) { o.Navigator = nav })
	events, _ := conv.Subscribe(context.Background())

	ch.lastStream().emit(wire.MessageFrame{
		MessageID:      "msg-1",
		SequenceNumber: 0,
		IsFinal:        true,
		ComponentType:  wire.ComponentPageReference,
		Payload:        map[string]any{"target": "/pages/account"},
	})

	got := collect(t, events, func(evs []Event) bool {
		for _, ev := range evs {
			if ev.Type == EventNavigation {
				return true
			}
		}
		return false
	})

	var target string
	for _, ev := range got {
		if ev.Type == EventNavigation {
			target = ev.Target
		}
	}
	assert.Equal(t, "/pages/account", target)

	require.Eventually(t, func() bool {
		navMu.Lock()
		defer navMu.Unlock()
		return len(navigated) == 1 && navigated[0] == "/pages/account"
	}, time.Second, 5*time.Millisecond)
}

type navigatorFunc func(ctx context.Context, target string) error

func (f navigatorFunc) Navigate(ctx context.Context, target string) error { return f(ctx, target) }

func TestConversation_TranscriptRequiresServiceAgentMode(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch)

	_, err := conv.DownloadTranscript(context.Background())
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Contains(t, usage.Reason, "service-agent")
}

func TestConversation_TranscriptDownload(t *testing.T) {
	ch := &fakeChannel{requestResp: []byte("full transcript")}
	conv := startedConversation(t, ch, func(o *Options) { o.TranscriptEnabled = true })

	data, err := conv.DownloadTranscript(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "full transcript", string(data))
	assert.Equal(t, StateActive, conv.State(), "transcript download never changes state")
}

func TestConversation_TranscriptRejectedAfterClose(t *testing.T) {
	ch := &fakeChannel{}
	conv := startedConversation(t, ch, func(o *Options) { o.TranscriptEnabled = true })
	require.NoError(t, conv.Close(context.Background()))

	_, err := conv.DownloadTranscript(context.Background())
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
}

// archiveRecorder records archived traffic.
type archiveRecorder struct {
	mu         sync.Mutex
	utterances []wire.Utterance
	messages   []*Message
}

func (a *archiveRecorder) SaveUtterance(ctx context.Context, sessionID string, utt wire.Utterance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utterances = append(a.utterances, utt)
	return nil
}

func (a *archiveRecorder) SaveMessage(ctx context.Context, sessionID string, msg *Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
	return nil
}

func TestConversation_ArchivesTraffic(t *testing.T) {
	ch := &fakeChannel{}
	archive := &archiveRecorder{}
	conv := startedConversation(t, ch, func(o *Options) { o.Archive = archive })
	events, _ := conv.Subscribe(context.Background())

	require.NoError(t, conv.Send(context.Background(), wire.Utterance{Text: "hi"}))
	ch.lastStream().emit(textFrame("msg-1", 0, true, "reply"))
	collect(t, events, func(evs []Event) bool {
		return len(evs) > 0 && evs[len(evs)-1].Type == EventMessageFinalized
	})

	require.Eventually(t, func() bool {
		archive.mu.Lock()
		defer archive.mu.Unlock()
		return len(archive.utterances) == 1 && len(archive.messages) == 1
	}, time.Second, 5*time.Millisecond)
}
