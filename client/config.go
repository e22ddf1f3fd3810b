// ABOUTME: Client configuration modes: full capability wiring or simplified agent targeting.
// ABOUTME: Closed sum type; exactly one mode per client, fixed for the client's lifetime.

package client

import (
	"log/slog"
	"time"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/component"
	"github.com/2389/agentforce-go/conversation"
	"github.com/2389/agentforce-go/telemetry"
	"github.com/2389/agentforce-go/transport"
)

// Config selects how a client is wired. The three modes — FullConfig,
// ServiceAgentConfig, EmployeeAgentConfig — are mutually exclusive and fixed
// for the client's lifetime.
type Config interface {
	// mode seals the type set to this package.
	mode()
}

// FullConfig wires every capability explicitly. Channel and Source are
// required; the rest default to safe no-ops.
type FullConfig struct {
	Channel   transport.Channel
	Source    auth.Source
	Registry  *component.Registry
	Delegate  conversation.Delegate
	Navigator conversation.Navigator
	Archive   conversation.Archiver

	Logger     *slog.Logger
	Instrument telemetry.Instrument

	CredentialTimeout time.Duration
}

func (FullConfig) mode() {}

// ServiceAgentConfig targets a service agent by its developer name. The
// client builds the default HTTP transport against BaseURL. This is the only
// mode in which transcript download is permitted.
type ServiceAgentConfig struct {
	ESDeveloperName string
	OrganizationID  string
	BaseURL         string
	Source          auth.Source

	Logger *slog.Logger
}

func (ServiceAgentConfig) mode() {}

// EmployeeAgentConfig targets the org's employee agent, resolved server-side
// from the authenticated user. The client builds the default HTTP transport
// against BaseURL.
type EmployeeAgentConfig struct {
	OrgID   string
	UserID  string
	BaseURL string
	Source  auth.Source

	Logger *slog.Logger
}

func (EmployeeAgentConfig) mode() {}
