// ABOUTME: Credential variants accepted by the remote service.
// ABOUTME: Closed sum type so every consumer switch is exhaustive by construction.

package auth

// Credentials is the closed set of credential variants: OAuth or OrgJWT.
// Credentials are supplied fresh on every request and must never be cached
// beyond a single call, because tokens expire.
type Credentials interface {
	// credentials seals the type set to this package.
	credentials()
}

// OAuth carries a user-scoped access token.
type OAuth struct {
	Token  string
	OrgID  string
	UserID string
}

func (OAuth) credentials() {}

// OrgJWT carries an org-scoped signed JWT.
type OrgJWT struct {
	Token string
}

func (OrgJWT) credentials() {}

// BearerToken returns the value to place in an Authorization bearer header
// for either credential variant.
func BearerToken(c Credentials) string {
	switch c := c.(type) {
	case OAuth:
		return c.Token
	case OrgJWT:
		return c.Token
	default:
		return ""
	}
}
