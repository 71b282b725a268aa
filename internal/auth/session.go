// Package auth mints and verifies the session tokens that bind a client to
// a live business object handle.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidSession is returned for tokens that fail verification.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims holds the claims of a session token. The subject is the
// handle id.
type SessionClaims struct {
	DataSource string `json:"ds"`
	jwt.RegisteredClaims
}

// Session is a verified session token.
type Session struct {
	HandleID   string
	DataSource string
	ExpiresAt  time.Time
}

// Minter signs and verifies session tokens with an HMAC secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter creates a Minter. Tokens expire ttl after issue.
func NewMinter(secret string, ttl time.Duration) *Minter {
	return &Minter{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the token lifetime.
func (m *Minter) TTL() time.Duration { return m.ttl }

// Mint issues a token for a new handle bound to dataSource.
func (m *Minter) Mint(dataSource string) (string, Session, error) {
	return m.MintFor(uuid.NewString(), dataSource)
}

// MintFor issues a token for an existing handle.
func (m *Minter) MintFor(handleID, dataSource string) (string, Session, error) {
	now := m.now()
	claims := SessionClaims{
		DataSource: dataSource,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   handleID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session token: %w", err)
	}
	return tokenStr, Session{HandleID: handleID, DataSource: dataSource, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse verifies tokenStr and returns its session.
func (m *Minter) Parse(tokenStr string) (Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Session{}, ErrInvalidSession
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return Session{HandleID: claims.Subject, DataSource: claims.DataSource, ExpiresAt: exp}, nil
}
