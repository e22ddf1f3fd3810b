// ABOUTME: Default Channel implementation speaking REST + Server-Sent Events.
// ABOUTME: One-shot calls are JSON POSTs; the stream is a long-lived SSE response.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/internal/sse"
	"github.com/2389/agentforce-go/wire"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultIdleTimeout    = 2 * time.Minute

	// frameBufferSize is the stream's frame channel buffer.
	frameBufferSize = 16
)

// SSE event names used by the stream protocol.
const (
	eventSession = "session"
	eventFrame   = "frame"
	eventEnd     = "end"
	eventError   = "error"
)

// HTTPChannel is the default transport: JSON one-shot calls under /v1 and an
// SSE frame stream. Hosts needing a different stack supply their own Channel.
type HTTPChannel struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	idleTimeout    time.Duration
	logger         *slog.Logger
}

// HTTPOption customizes an HTTPChannel.
type HTTPOption func(*HTTPChannel)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPChannel) { h.client = c }
}

// WithRequestTimeout bounds each one-shot call.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPChannel) { h.requestTimeout = d }
}

// WithIdleTimeout bounds how long the stream may go without frames while a
// message is still mid-stream before the stream is treated as dropped.
func WithIdleTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPChannel) { h.idleTimeout = d }
}

// WithLogger sets the channel's logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTPChannel) { h.logger = logger }
}

// NewHTTPChannel creates a channel for the given service base URL.
func NewHTTPChannel(baseURL string, opts ...HTTPOption) *HTTPChannel {
	h := &HTTPChannel{
		baseURL:        baseURL,
		client:         http.DefaultClient,
		requestTimeout: defaultRequestTimeout,
		idleTimeout:    defaultIdleTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "transport")
	return h
}

// applyCredentials sets auth headers for either credential variant.
func applyCredentials(req *http.Request, creds auth.Credentials) {
	switch c := creds.(type) {
	case auth.OAuth:
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("X-Org-Id", c.OrgID)
		req.Header.Set("X-User-Id", c.UserID)
	case auth.OrgJWT:
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Request implements Channel. The method maps to POST {base}/v1/{method}.
func (h *HTTPChannel) Request(ctx context.Context, creds auth.Credentials, method Method, body []byte) ([]byte, error) {
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/v1/%s", h.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: string(method), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	applyCredentials(req, creds)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Op: string(method), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: string(method), Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Op:     string(method),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server rejected request: %s", serverErrorMessage(resp, respBody)),
		}
	}

	return respBody, nil
}

// serverErrorMessage extracts {"error": "..."} bodies when present.
func serverErrorMessage(resp *http.Response, body []byte) string {
	if resp.Header.Get("Content-Type") == "application/json" {
		var errResp map[string]string
		if err := json.Unmarshal(body, &errResp); err == nil {
			if msg, ok := errResp["error"]; ok && msg != "" {
				return msg
			}
		}
	}
	return http.StatusText(resp.StatusCode)
}

// streamRequest is the handshake body for POST /v1/stream.
type streamRequest struct {
	Identity  wire.Identity   `json:"identity"`
	SessionID string          `json:"sessionId,omitempty"`
	Utterance *wire.Utterance `json:"utterance,omitempty"`
}

// OpenStream implements Channel. It performs the SSE handshake and does not
// return until the server has confirmed a session or the handshake failed.
func (h *HTTPChannel) OpenStream(ctx context.Context, creds auth.Credentials, identity wire.Identity, opts StreamOptions) (Stream, error) {
	body, err := json.Marshal(streamRequest{
		Identity:  identity,
		SessionID: opts.SessionID,
		Utterance: opts.InitialUtterance,
	})
	if err != nil {
		return nil, &Error{Op: "stream", Err: err}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, h.baseURL+"/v1/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &Error{Op: "stream", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	applyCredentials(req, creds)

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, &Error{Op: "stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &Error{
			Op:     "stream",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("handshake rejected: %s", serverErrorMessage(resp, respBody)),
		}
	}

	dec := sse.NewDecoder(resp.Body)

	// The first event must confirm the session. The response body is bound
	// to streamCtx, so a cancelled context unblocks the read.
	sessionID, err := readHandshake(dec)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &httpStream{
		sessionID: sessionID,
		frames:    make(chan wire.MessageFrame, frameBufferSize),
		cancel:    cancel,
		logger:    h.logger,
	}
	go s.consume(streamCtx, resp.Body, dec, h.idleTimeout)

	return s, nil
}

// readHandshake waits for the initial session event.
func readHandshake(dec *sse.Decoder) (string, error) {
	ev, err := dec.Next()
	if err != nil {
		return "", &Error{Op: "stream", Err: fmt.Errorf("handshake read: %w", err)}
	}
	switch ev.Name {
	case eventSession:
		var sess wire.SessionResponse
		if err := json.Unmarshal(ev.Data, &sess); err != nil {
			return "", &Error{Op: "stream", Err: fmt.Errorf("decoding session event: %w", err)}
		}
		if sess.SessionID == "" {
			return "", &Error{Op: "stream", Err: errors.New("session event missing session id")}
		}
		return sess.SessionID, nil
	case eventError:
		return "", &Error{Op: "stream", Err: fmt.Errorf("server error during handshake: %s", ev.Data)}
	default:
		return "", &Error{Op: "stream", Err: fmt.Errorf("unexpected handshake event %q", ev.Name)}
	}
}

// httpStream carries decoded frames from the SSE response to the consumer.
type httpStream struct {
	sessionID string
	frames    chan wire.MessageFrame
	cancel    context.CancelFunc
	logger    *slog.Logger

	mu  sync.Mutex
	err error
}

// SessionID implements Stream.
func (s *httpStream) SessionID() string { return s.sessionID }

// Frames implements Stream.
func (s *httpStream) Frames() <-chan wire.MessageFrame { return s.frames }

// Err implements Stream. Valid after Frames has closed.
func (s *httpStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Stream. A local close is clean: it never sets Err.
func (s *httpStream) Close() error {
	s.cancel()
	return nil
}

func (s *httpStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// consume decodes SSE events into frames until end of stream, error, or idle
// timeout. The idle timer is armed only while some message is mid-stream,
// since an idle-but-quiescent conversation is not a fault.
func (s *httpStream) consume(ctx context.Context, body io.ReadCloser, dec *sse.Decoder, idleTimeout time.Duration) {
	defer close(s.frames)
	defer body.Close()
	defer s.cancel()

	events := make(chan sse.Event)
	decodeErr := make(chan error, 1)
	go func() {
		for {
			ev, err := dec.Next()
			if err != nil {
				decodeErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	open := make(map[string]struct{}) // message ids awaiting their final frame
	idle := time.NewTimer(idleTimeout)
	if !idle.Stop() {
		<-idle.C
	}
	armed := false

	rearm := func() {
		if armed && !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		armed = len(open) > 0
		if armed {
			idle.Reset(idleTimeout)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-idle.C:
			s.fail(&Error{Op: "stream", Err: fmt.Errorf("no frames for %s while message in progress", idleTimeout)})
			return

		case err := <-decodeErr:
			if ctx.Err() != nil {
				return
			}
			// The server signals a clean close with an end event; a bare EOF
			// means the stream was dropped.
			s.fail(&Error{Op: "stream", Err: fmt.Errorf("stream dropped: %w", err)})
			return

		case ev := <-events:
			switch ev.Name {
			case eventFrame:
				var frame wire.MessageFrame
				if err := json.Unmarshal(ev.Data, &frame); err != nil {
					s.fail(&Error{Op: "stream", Err: fmt.Errorf("decoding frame: %w", err)})
					return
				}
				if err := frame.Validate(); err != nil {
					s.fail(&Error{Op: "stream", Err: err})
					return
				}

				if frame.IsFinal {
					delete(open, frame.MessageID)
				} else {
					open[frame.MessageID] = struct{}{}
				}
				rearm()

				select {
				case s.frames <- frame:
				case <-ctx.Done():
					return
				}

			case eventEnd:
				return

			case eventError:
				s.fail(&Error{Op: "stream", Err: fmt.Errorf("server error: %s", ev.Data)})
				return

			default:
				s.logger.Debug("ignoring unknown stream event", "event", ev.Name)
			}
		}
	}
}
