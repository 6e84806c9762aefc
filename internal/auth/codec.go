package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature, malformed
// payload, or expiry. A token is binary valid or invalid; callers never learn
// which check failed.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the decoded payload of an access or refresh token.
type Claims struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies self-contained HS256 tokens. It is stateless: no
// issued token is tracked server-side, validity is signature plus expiry.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured. With no secret the
// whole authentication subsystem is disabled.
func (c *Codec) Enabled() bool {
	return len(c.secret) > 0
}

func (c *Codec) Issue(subjectID string, ttl time.Duration) (string, error) {
	if !c.Enabled() {
		return "", errors.New("signing secret is not configured")
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (c *Codec) Verify(raw string) (Claims, error) {
	if !c.Enabled() || raw == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return Claims{}, ErrInvalidToken
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return Claims{}, ErrInvalidToken
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	// Expiry is strict: a token presented at exactly its expiry instant is
	// already invalid.
	if !time.Now().UTC().Before(expiresAt.Time) {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		SubjectID: subject,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}
