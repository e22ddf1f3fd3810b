// ABOUTME: AgentClient creates and tracks conversations, one live instance per agent identity.
// ABOUTME: The identity-keyed arena is the only cross-conversation shared state, guarded by one mutex.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/component"
	"github.com/2389/agentforce-go/conversation"
	"github.com/2389/agentforce-go/telemetry"
	"github.com/2389/agentforce-go/transport"
	"github.com/2389/agentforce-go/wire"
)

// employeeAgentDeveloperName is the well-known developer name the service
// resolves to the org's employee agent for the authenticated user.
const employeeAgentDeveloperName = "EmployeeCopilot"

// ErrNoIdentity is returned when no identity was given and the configuration
// mode does not imply one.
var ErrNoIdentity = errors.New("no agent identity given and none implied by configuration")

// AgentClient is the top-level factory: it holds the selected configuration
// mode, the capability implementations, and the live conversation arena.
// Configuration and capabilities are read-only after construction.
type AgentClient struct {
	channel    transport.Channel
	source     auth.Source
	registry   *component.Registry
	delegate   conversation.Delegate
	navigator  conversation.Navigator
	archive    conversation.Archiver
	logger     *slog.Logger
	inst       telemetry.Instrument
	credTO     time.Duration
	transcript bool
	implied    *wire.Identity

	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
}

// New builds a client for exactly one configuration mode.
func New(cfg Config) (*AgentClient, error) {
	c := &AgentClient{
		conversations: make(map[string]*conversation.Conversation),
	}

	switch cfg := cfg.(type) {
	case FullConfig:
		if cfg.Channel == nil {
			return nil, fmt.Errorf("full configuration requires a transport channel")
		}
		if cfg.Source == nil {
			return nil, fmt.Errorf("full configuration requires a credential source")
		}
		c.channel = cfg.Channel
		c.source = cfg.Source
		c.registry = cfg.Registry
		c.delegate = cfg.Delegate
		c.navigator = cfg.Navigator
		c.archive = cfg.Archive
		c.logger = cfg.Logger
		c.inst = cfg.Instrument
		c.credTO = cfg.CredentialTimeout

	case ServiceAgentConfig:
		if cfg.ESDeveloperName == "" || cfg.OrganizationID == "" {
			return nil, fmt.Errorf("service-agent configuration requires developer name and organization id")
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("service-agent configuration requires a base URL")
		}
		if cfg.Source == nil {
			return nil, fmt.Errorf("service-agent configuration requires a credential source")
		}
		c.channel = newDefaultChannel(cfg.BaseURL, cfg.Logger)
		c.source = cfg.Source
		c.logger = cfg.Logger
		c.transcript = true
		id := wire.DeveloperIdentity(cfg.ESDeveloperName, cfg.OrganizationID)
		c.implied = &id

	case EmployeeAgentConfig:
		if cfg.OrgID == "" {
			return nil, fmt.Errorf("employee-agent configuration requires an org id")
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("employee-agent configuration requires a base URL")
		}
		if cfg.Source == nil {
			return nil, fmt.Errorf("employee-agent configuration requires a credential source")
		}
		c.channel = newDefaultChannel(cfg.BaseURL, cfg.Logger)
		c.source = cfg.Source
		c.logger = cfg.Logger
		id := wire.DeveloperIdentity(employeeAgentDeveloperName, cfg.OrgID)
		c.implied = &id

	default:
		return nil, fmt.Errorf("unsupported configuration mode %T", cfg)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "client")
	if c.delegate == nil {
		c.delegate = conversation.NoopDelegate{}
	}
	if c.inst == nil {
		c.inst = telemetry.Noop()
	}

	return c, nil
}

// newDefaultChannel builds the HTTP transport for the simplified modes.
func newDefaultChannel(baseURL string, logger *slog.Logger) transport.Channel {
	opts := []transport.HTTPOption{}
	if logger != nil {
		opts = append(opts, transport.WithLogger(logger))
	}
	return transport.NewHTTPChannel(baseURL, opts...)
}

// StartOptions carries optional parameters for StartConversation.
type StartOptions struct {
	// SessionID resumes a prior session.
	SessionID string
	// InitialUtterance is transmitted with the opening handshake.
	InitialUtterance *wire.Utterance
}

// StartConversation returns the live conversation for the identity, creating
// and starting one if none exists. A second call with the same identity and
// no explicit new session returns the same instance, never a parallel
// session; asking for a different session while one is live is a UsageError.
// A zero identity is allowed in the simplified modes, which imply the target
// agent.
func (c *AgentClient) StartConversation(ctx context.Context, identity wire.Identity, opts StartOptions) (*conversation.Conversation, error) {
	resolved, err := c.resolveIdentity(identity)
	if err != nil {
		return nil, err
	}
	key := resolved.Key()

	// Lookup-or-create under one mutual-exclusion region so concurrent starts
	// for the same identity converge on a single instance.
	c.mu.Lock()
	if existing, ok := c.conversations[key]; ok && live(existing) {
		if opts.SessionID == "" || opts.SessionID == existing.SessionID() {
			c.mu.Unlock()
			c.logger.Debug("returning existing conversation", "agent", key)
			return existing, nil
		}
		// Replacing the tracked conversation would leave the live one and its
		// stream running untracked. The host must end or close it first.
		c.mu.Unlock()
		return nil, &conversation.UsageError{
			Op:     "start conversation",
			Reason: fmt.Sprintf("a live conversation for %s already exists with session %s; end or close it before starting session %s", key, existing.SessionID(), opts.SessionID),
		}
	}

	conv, err := conversation.New(conversation.Options{
		Identity:          resolved,
		SessionID:         opts.SessionID,
		InitialUtterance:  opts.InitialUtterance,
		Channel:           c.channel,
		Source:            c.source,
		Registry:          c.registry,
		Delegate:          c.delegate,
		Navigator:         c.navigator,
		Archive:           c.archive,
		Logger:            c.logger,
		Instrument:        c.inst,
		CredentialTimeout: c.credTO,
		TranscriptEnabled: c.transcript,
	})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.conversations[key] = conv
	c.mu.Unlock()

	if err := conv.Start(ctx); err != nil {
		c.evict(key, conv)
		return nil, err
	}

	c.inst.Record(ctx, telemetry.Event{
		Name:  "client.conversation_started",
		Time:  time.Now(),
		Attrs: map[string]any{"agent": key, "session_id": conv.SessionID()},
	})
	return conv, nil
}

// SwitchAgent notifies the host delegate the user moved between agents and
// starts (or returns) the target conversation.
func (c *AgentClient) SwitchAgent(ctx context.Context, from, to wire.Identity, opts StartOptions) (*conversation.Conversation, error) {
	c.delegate.UserDidSwitchAgents(from, to)
	return c.StartConversation(ctx, to, opts)
}

// Conversation returns the tracked conversation for the identity, if any.
func (c *AgentClient) Conversation(identity wire.Identity) (*conversation.Conversation, bool) {
	resolved, err := c.resolveIdentity(identity)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[resolved.Key()]
	return conv, ok
}

// CloseAll closes every tracked conversation. Errors are aggregated.
func (c *AgentClient) CloseAll(ctx context.Context) error {
	c.mu.Lock()
	convs := make([]*conversation.Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		convs = append(convs, conv)
	}
	c.conversations = make(map[string]*conversation.Conversation)
	c.mu.Unlock()

	var errs []error
	for _, conv := range convs {
		switch conv.State() {
		case conversation.StateClosed, conversation.StateError:
			continue
		}
		if err := conv.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolveIdentity validates the given identity or falls back to the one the
// configuration mode implies.
func (c *AgentClient) resolveIdentity(identity wire.Identity) (wire.Identity, error) {
	if err := identity.Validate(); err == nil {
		return identity, nil
	} else if !errors.Is(err, wire.ErrEmptyIdentity) {
		return wire.Identity{}, err
	}
	if c.implied != nil {
		return *c.implied, nil
	}
	return wire.Identity{}, ErrNoIdentity
}

// live reports whether a conversation can still carry traffic.
func live(conv *conversation.Conversation) bool {
	switch conv.State() {
	case conversation.StateClosed, conversation.StateError:
		return false
	}
	return true
}

// evict removes a conversation from the arena if it is still the tracked one.
func (c *AgentClient) evict(key string, conv *conversation.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversations[key] == conv {
		delete(c.conversations, key)
	}
}
