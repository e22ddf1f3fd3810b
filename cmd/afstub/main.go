// ABOUTME: Minimal stub agent service for local testing — serves the HTTP+SSE wire surface.
// ABOUTME: Usage: afstub [-addr localhost:8181] [-secret <jwt-secret>]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/internal/sse"
	"github.com/2389/agentforce-go/wire"
)

func main() {
	addr := flag.String("addr", "localhost:8181", "Listen address")
	secret := flag.String("secret", "", "JWT secret for verifying bearer tokens (empty disables auth)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := newStubServer(*secret, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/stream", srv.handleStream)
	mux.HandleFunc("POST /v1/message", srv.handleMessage)
	mux.HandleFunc("POST /v1/end", srv.handleEnd)
	mux.HandleFunc("POST /v1/close", srv.handleClose)
	mux.HandleFunc("POST /v1/transcript", srv.handleTranscript)

	httpSrv := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("afstub listening", "addr", *addr, "auth", *secret != "")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session holds the server-side state for one streaming conversation.
type session struct {
	id      string
	frames  chan wire.MessageFrame
	done    chan struct{}
	doneOne sync.Once

	mu    sync.Mutex
	ended bool
	log   []string
}

func (s *session) close() {
	s.doneOne.Do(func() { close(s.done) })
}

// stubServer implements the agent service wire surface with canned replies.
type stubServer struct {
	secret string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func newStubServer(secret string, logger *slog.Logger) *stubServer {
	return &stubServer{
		secret:   secret,
		logger:   logger.With("component", "stub"),
		sessions: make(map[string]*session),
	}
}

// authorize checks the bearer token when a secret is configured.
func (s *stubServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	src := auth.NewJWTSource([]byte(s.secret), "", 0)
	if _, err := src.Verify(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (s *stubServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	var req struct {
		Identity  wire.Identity   `json:"identity"`
		SessionID string          `json:"sessionId,omitempty"`
		Utterance *wire.Utterance `json:"utterance,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Identity.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := &session{
		id:     req.SessionID,
		frames: make(chan wire.MessageFrame, 64),
		done:   make(chan struct{}),
	}
	if sess.id == "" {
		sess.id = uuid.New().String()
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.sessions[sess.id] == sess {
			delete(s.sessions, sess.id)
		}
		s.mu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	handshake, _ := json.Marshal(wire.SessionResponse{SessionID: sess.id})
	if err := sse.Write(w, "session", handshake); err != nil {
		return
	}
	flusher.Flush()

	s.logger.Info("stream opened", "session_id", sess.id, "identity", req.Identity.Key())

	if req.Utterance != nil {
		go s.reply(sess, *req.Utterance)
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream dropped by client", "session_id", sess.id)
			return
		case <-sess.done:
			endData, _ := json.Marshal(map[string]string{"sessionId": sess.id})
			_ = sse.Write(w, "end", endData)
			flusher.Flush()
			s.logger.Info("stream ended", "session_id", sess.id)
			return
		case frame := <-sess.frames:
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := sse.Write(w, "frame", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *stubServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	var req wire.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := s.lookup(req.SessionID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	sess.mu.Lock()
	sess.log = append(sess.log, "user: "+req.Utterance.Text)
	sess.mu.Unlock()

	go s.reply(sess, req.Utterance)
	w.WriteHeader(http.StatusOK)
}

func (s *stubServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	sess := s.lookupFromBody(w, r)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	sess.ended = true
	sess.mu.Unlock()
	sess.close()
	w.WriteHeader(http.StatusOK)
}

func (s *stubServer) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	sess := s.lookupFromBody(w, r)
	if sess == nil {
		return
	}
	sess.close()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *stubServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	sess := s.lookupFromBody(w, r)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	transcript := strings.Join(sess.log, "\n")
	sess.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, transcript)
}

func (s *stubServer) lookup(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *stubServer) lookupFromBody(w http.ResponseWriter, r *http.Request) *session {
	var req wire.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil
	}
	sess := s.lookup(req.SessionID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session")
	}
	return sess
}

// reply streams a canned response for the utterance onto the session.
func (s *stubServer) reply(sess *session, utt wire.Utterance) {
	messageID := uuid.New().String()
	frames := cannedFrames(messageID, utt.Text)

	sess.mu.Lock()
	if last := frames[len(frames)-1]; last.ComponentType == wire.ComponentRichText {
		if text, ok := last.Payload["text"].(string); ok {
			sess.log = append(sess.log, "agent: "+text)
		}
	}
	sess.mu.Unlock()

	for _, frame := range frames {
		select {
		case sess.frames <- frame:
		case <-sess.done:
			return
		}
		// Small delay to simulate streaming
		time.Sleep(30 * time.Millisecond)
	}
}

// cannedFrames builds the frame sequence for a reply. Keyword triggers exercise
// the non-text component types.
func cannedFrames(messageID, input string) []wire.MessageFrame {
	now := time.Now().UTC()
	lower := strings.ToLower(input)

	frame := func(seq int64, final bool, component string, payload map[string]any) wire.MessageFrame {
		return wire.MessageFrame{
			MessageID:         messageID,
			SequenceNumber:    seq,
			IsFinal:           final,
			ComponentType:     component,
			Payload:           payload,
			ConversationState: "active",
			Timestamp:         now,
		}
	}

	switch {
	case strings.Contains(lower, "choose") || strings.Contains(lower, "option"):
		return []wire.MessageFrame{
			frame(0, false, wire.ComponentRichText, map[string]any{"text": "Pick one:"}),
			frame(1, true, wire.ComponentChoices, map[string]any{
				"title":   "Options",
				"choices": []any{"Alpha", "Beta", "Gamma"},
			}),
		}
	case strings.Contains(lower, "navigate") || strings.Contains(lower, "page"):
		return []wire.MessageFrame{
			frame(0, true, wire.ComponentPageReference, map[string]any{
				"title":  "Account",
				"target": "/pages/account-overview",
			}),
		}
	case strings.Contains(lower, "escalate") || strings.Contains(lower, "human"):
		return []wire.MessageFrame{
			frame(0, true, wire.ComponentEscalation, map[string]any{
				"text": "Transferring you to a human representative.",
			}),
		}
	default:
		reply := fmt.Sprintf("Echo: %s", input)
		return []wire.MessageFrame{
			frame(0, false, wire.ComponentRichText, map[string]any{"text": "Echo: "}),
			frame(1, false, wire.ComponentRichText, map[string]any{"text": reply[:len(reply)/2+3]}),
			frame(2, true, wire.ComponentRichText, map[string]any{"text": reply}),
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
