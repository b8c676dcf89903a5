// Package web exposes the passkey ceremony HTTP surface.
package web

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the canonical session cookie name.
const CookieName = "keyless_session"

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Secret string `env:"KEYLESS_SPACE_SESSION_SECRET"`
}

// SessionCodec signs and verifies the session cookie payload.
//
// The cookie carries an HS256 JWT whose subject is the opaque session id;
// ceremony and login state never leave the server-side tracker.
type SessionCodec struct {
	secret []byte
	now    func() time.Time
}

// NewSessionCodec builds a codec around the given signing secret.
func NewSessionCodec(secret []byte, now func() time.Time) *SessionCodec {
	if now == nil {
		now = time.Now
	}
	return &SessionCodec{secret: secret, now: now}
}

// LoadSessionCodecFromEnv builds a codec from KEYLESS_SPACE_SESSION_SECRET.
// Without a configured secret a random one is generated, which invalidates
// outstanding cookies across restarts.
func LoadSessionCodecFromEnv() (*SessionCodec, error) {
	var raw sessionEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse session env: %w", err)
	}
	secret := []byte(strings.TrimSpace(raw.Secret))
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	return NewSessionCodec(secret, nil), nil
}

// Encode signs a session id into a cookie value.
func (c *SessionCodec) Encode(sessionID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  sessionID,
		IssuedAt: jwt.NewNumericDate(c.now().UTC()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the session id.
func (c *SessionCodec) Decode(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("session token has no subject")
	}
	return claims.Subject, nil
}

// readSessionCookie returns the trimmed session cookie value when present.
func readSessionCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

// writeSessionCookie sets the session cookie for the current request.
func writeSessionCookie(w http.ResponseWriter, r *http.Request, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
