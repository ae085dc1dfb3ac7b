// Package auth implements the coordination core's reference
// AgentAuthenticator: an HMAC-signed JWT carrying the agent's claimed
// identity, checked against the registry at registration time.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/coorderr"
)

// Claims is the JWT payload an agent presents as its registration
// credential.
type Claims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// Issuer mints agent tokens signed with a shared HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer builds an Issuer. secret must be non-empty; ttl defaults to one
// hour when zero.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Token mints a signed token asserting agentID's identity.
func (i *Issuer) Token(agentID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    i.issuer,
			Subject:   agentID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Authenticator implements registry.AgentAuthenticator by verifying the
// credential is a token minted by the matching Issuer and asserting the
// registering agent's own id.
type Authenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthenticator builds an Authenticator checking tokens signed with
// secret and carrying the expected issuer.
func NewAuthenticator(secret []byte, issuer string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: secret, issuer: issuer, logger: logger.With(zap.String("component", "auth"))}
}

// Authenticate parses credential as a JWT, verifies its signature, issuer,
// expiry, and that its agent_id claim matches agentID.
func (a *Authenticator) Authenticate(_ context.Context, agentID string, credential []byte) error {
	if len(credential) == 0 {
		return coorderr.New(coorderr.CodeAccessDenied, "missing credential")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(string(credential), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil || !token.Valid {
		a.logger.Warn("token rejected", zap.String("agent_id", agentID), zap.Error(err))
		return coorderr.New(coorderr.CodeAccessDenied, "invalid or expired token").WithCause(err).WithTarget(agentID)
	}

	if claims.AgentID != agentID {
		return coorderr.New(coorderr.CodeAccessDenied, "token agent_id does not match registering agent").WithTarget(agentID)
	}
	return nil
}
