package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 30 * 24 * time.Hour

var (
	ErrMissingSigningSecret = errors.New("session codec: signing secret required")
	ErrMissingIssuer        = errors.New("session codec: issuer required")
	ErrMissingToken         = errors.New("session codec: token required")
	ErrInvalidToken         = errors.New("session codec: invalid token")
	ErrExpiredToken         = errors.New("session codec: token expired")
	ErrMissingSubject       = errors.New("session codec: subject required")
)

// Claims is the JWT payload carrying a session token.
type Claims struct {
	Session Token `json:"session"`
	jwt.RegisteredClaims
}

// CodecConfig describes how session tokens are signed.
type CodecConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	CookieName    string
	TTL           time.Duration
	Clock         func() time.Time
}

// Codec signs tokens into HS256 JWTs and validates them back.
type Codec struct {
	signingSecret []byte
	issuer        string
	audience      string
	cookieName    string
	ttl           time.Duration
	clock         func() time.Time
}

// NewCodec constructs a codec with the provided configuration.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Codec{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      strings.TrimSpace(cfg.Audience),
		cookieName:    strings.TrimSpace(cfg.CookieName),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie carrying the signed token.
func (c *Codec) CookieName() string {
	return c.cookieName
}

// TTL returns the lifetime of newly signed tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode signs token and returns the JWT with its expiry.
func (c *Codec) Encode(token Token) (string, time.Time, error) {
	if strings.TrimSpace(token.UserID) == "" {
		return "", time.Time{}, ErrMissingSubject
	}

	now := c.clock().UTC()
	expiresAt := now.Add(c.ttl)
	registered := jwt.RegisteredClaims{
		Subject:   token.UserID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if c.audience != "" {
		registered.Audience = jwt.ClaimStrings{c.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Session:          token,
		RegisteredClaims: registered,
	}).SignedString(c.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Decode validates the JWT string and returns the embedded token.
func (c *Codec) Decode(raw string) (Token, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Token{}, ErrMissingToken
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(c.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	}
	if c.audience != "" {
		options = append(options, jwt.WithAudience(c.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
		}
		return c.signingSecret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Token{}, ErrExpiredToken
		}
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Token{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Subject != claims.Session.UserID {
		return Token{}, ErrMissingSubject
	}
	return claims.Session, nil
}

// DecodeRequest reads the token from the session cookie, falling back to a
// bearer Authorization header.
func (c *Codec) DecodeRequest(r *http.Request) (Token, error) {
	if r == nil {
		return Token{}, ErrMissingToken
	}
	if c.cookieName != "" {
		if cookie, err := r.Cookie(c.cookieName); err == nil && cookie.Value != "" {
			return c.Decode(cookie.Value)
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return c.Decode(header[len("Bearer "):])
	}
	return Token{}, ErrMissingToken
}
