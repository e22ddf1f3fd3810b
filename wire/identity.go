// ABOUTME: Agent identity addressing for conversation routing.
// ABOUTME: Supports direct agent-id routing and developer-name routing, never both.

package wire

import "errors"

// Identity errors
var (
	ErrEmptyIdentity     = errors.New("agent identity is empty")
	ErrAmbiguousIdentity = errors.New("agent identity sets both agent id and developer name")
)

// Identity addresses a remote agent. Exactly one of the two forms must be
// populated: {AgentID, OrgID} for direct routing, or {ESDeveloperName,
// OrganizationID} for developer-name routing. Immutable once a conversation
// is created.
type Identity struct {
	AgentID string `json:"agentId,omitempty"`
	OrgID   string `json:"orgId,omitempty"`

	ESDeveloperName string `json:"esDeveloperName,omitempty"`
	OrganizationID  string `json:"organizationId,omitempty"`
}

// AgentIdentity builds a direct-routed identity.
func AgentIdentity(agentID, orgID string) Identity {
	return Identity{AgentID: agentID, OrgID: orgID}
}

// DeveloperIdentity builds a developer-name-routed identity.
func DeveloperIdentity(esDeveloperName, organizationID string) Identity {
	return Identity{ESDeveloperName: esDeveloperName, OrganizationID: organizationID}
}

// Validate checks that exactly one addressing form is populated.
func (id Identity) Validate() error {
	direct := id.AgentID != ""
	developer := id.ESDeveloperName != ""
	switch {
	case direct && developer:
		return ErrAmbiguousIdentity
	case !direct && !developer:
		return ErrEmptyIdentity
	}
	return nil
}

// Key returns a stable string key for identity-indexed lookup tables.
func (id Identity) Key() string {
	if id.AgentID != "" {
		return "agent:" + id.OrgID + "/" + id.AgentID
	}
	return "developer:" + id.OrganizationID + "/" + id.ESDeveloperName
}
