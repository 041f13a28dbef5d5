package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// AdminSubject is the subject of every admin session token.
const AdminSubject = "admin"

// DefaultAdminCookieName carries the admin token for browser clients.
const DefaultAdminCookieName = "forum_admin_auth"

var (
	ErrMissingAdminPassword = errors.New("admin gate: password must be configured")
	ErrMissingTokenIssuer   = errors.New("admin gate: token issuer required")
	ErrInvalidPassword      = errors.New("admin gate: invalid password")
	ErrMissingAdminToken    = errors.New("admin gate: token required")
	ErrNotAdmin             = errors.New("admin gate: token does not grant admin access")
)

// AdminGateConfig describes the static password gate.
type AdminGateConfig struct {
	Password   string
	Issuer     *TokenIssuer
	CookieName string
}

// AdminGate exchanges the configured admin password for a signed session token.
// The password is a single shared secret, not an account system.
type AdminGate struct {
	password   []byte
	issuer     *TokenIssuer
	cookieName string
}

// AdminSession is a freshly minted admin token.
type AdminSession struct {
	Token     string
	ExpiresIn int64
}

// NewAdminGate validates the configuration.
func NewAdminGate(cfg AdminGateConfig) (*AdminGate, error) {
	if cfg.Password == "" {
		return nil, ErrMissingAdminPassword
	}
	if cfg.Issuer == nil {
		return nil, ErrMissingTokenIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultAdminCookieName
	}
	return &AdminGate{
		password:   []byte(cfg.Password),
		issuer:     cfg.Issuer,
		cookieName: cookieName,
	}, nil
}

// CookieName returns the cookie name used for admin tokens.
func (g *AdminGate) CookieName() string {
	return g.cookieName
}

// TokenTTLSeconds reports the lifetime of minted tokens.
func (g *AdminGate) TokenTTLSeconds() int {
	return int(g.issuer.TTL().Seconds())
}

// Login compares the password in constant time and mints an admin token on match.
func (g *AdminGate) Login(password string) (AdminSession, error) {
	if subtle.ConstantTimeCompare([]byte(password), g.password) != 1 {
		return AdminSession{}, ErrInvalidPassword
	}
	token, expiresIn, err := g.issuer.IssueToken(AdminSubject)
	if err != nil {
		return AdminSession{}, err
	}
	return AdminSession{Token: token, ExpiresIn: expiresIn}, nil
}

// Authorize validates an admin token.
func (g *AdminGate) Authorize(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingAdminToken
	}
	subject, err := g.issuer.ValidateToken(token)
	if err != nil {
		return err
	}
	if subject != AdminSubject {
		return ErrNotAdmin
	}
	return nil
}

// AuthorizeRequest reads the token from the Authorization bearer header, falling
// back to the admin cookie, and validates it.
func (g *AdminGate) AuthorizeRequest(r *http.Request) error {
	return g.Authorize(g.TokenFromRequest(r))
}

// TokenFromRequest extracts the admin token without validating it.
func (g *AdminGate) TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}
