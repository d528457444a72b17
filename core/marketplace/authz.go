package marketplace

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Action names a privileged operation.
type Action string

const (
	ActionResolveDispute  Action = "resolve_dispute"
	ActionSlashReputation Action = "slash_reputation"
	ActionDeposit         Action = "deposit"
)

// Authorizer checks a capability token presented by the host for a
// privileged action and returns the principal it belongs to.
type Authorizer interface {
	Authorize(token string, action Action) (string, error)
}

// Grant is proof that a capability was checked for one action. Its fields are
// unexported so a Grant can only come from Authorize.
type Grant struct {
	principal string
	action    Action
}

// Principal is the identity the capability was issued to.
func (g Grant) Principal() string { return g.principal }

func (g Grant) require(action Action) error {
	if g.principal == "" || g.action != action {
		return fmt.Errorf("%w: capability does not grant %s", ErrUnauthorized, action)
	}
	return nil
}

// Authorize runs token through a for action and returns the resulting grant.
func Authorize(a Authorizer, token string, action Action) (Grant, error) {
	if a == nil {
		return Grant{}, fmt.Errorf("%w: no authorizer configured for %s", ErrUnauthorized, action)
	}
	if strings.TrimSpace(token) == "" {
		return Grant{}, fmt.Errorf("%w: capability required for %s", ErrUnauthorized, action)
	}
	principal, err := a.Authorize(token, action)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Grant{}, err
		}
		return Grant{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if principal == "" {
		return Grant{}, fmt.Errorf("%w: empty principal for %s", ErrUnauthorized, action)
	}
	return Grant{principal: principal, action: action}, nil
}

// StaticAuthorizer holds a fixed set of capability tokens.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	tokens map[string]staticCapability
}

type staticCapability struct {
	principal string
	actions   []Action
}

// NewStaticAuthorizer constructs an empty authorizer.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{tokens: make(map[string]staticCapability)}
}

// Grant registers token for principal with the listed actions.
func (s *StaticAuthorizer) Grant(token, principal string, actions ...Action) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(principal) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = staticCapability{principal: principal, actions: actions}
}

// Revoke removes a token.
func (s *StaticAuthorizer) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func (s *StaticAuthorizer) Authorize(token string, action Action) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for known, c := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) != 1 {
			continue
		}
		if !slices.Contains(c.actions, action) {
			return "", fmt.Errorf("%w: %s may not %s", ErrUnauthorized, c.principal, action)
		}
		return c.principal, nil
	}
	return "", fmt.Errorf("%w: unknown capability", ErrUnauthorized)
}

// CapabilityClaims is the JWT body of a signed capability.
type CapabilityClaims struct {
	Scope []Action `json:"scope"`
	jwt.RegisteredClaims
}

// JWTAuthorizer accepts HS256 capability tokens whose scope lists the action.
type JWTAuthorizer struct {
	secret []byte
	issuer string
}

// NewJWTAuthorizer builds an authorizer for tokens signed with secret.
// When issuer is non-empty, tokens must carry it.
func NewJWTAuthorizer(secret, issuer string) *JWTAuthorizer {
	return &JWTAuthorizer{secret: []byte(secret), issuer: issuer}
}

func (j *JWTAuthorizer) Authorize(token string, action Action) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	claims := &CapabilityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !slices.Contains(claims.Scope, action) {
		return "", fmt.Errorf("%w: scope does not include %s", ErrUnauthorized, action)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: capability has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Issue signs a capability for subject. ttl of zero means no expiry.
func (j *JWTAuthorizer) Issue(subject string, ttl time.Duration, scope ...Action) (string, error) {
	now := time.Now()
	claims := CapabilityClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   j.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// MultiAuthorizer tries each authorizer in order and accepts the first grant.
type MultiAuthorizer []Authorizer

func (m MultiAuthorizer) Authorize(token string, action Action) (string, error) {
	lastErr := fmt.Errorf("%w: no authorizers", ErrUnauthorized)
	for _, a := range m {
		principal, err := a.Authorize(token, action)
		if err == nil {
			return principal, nil
		}
		lastErr = err
	}
	return "", lastErr
}
