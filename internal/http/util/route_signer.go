package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sifan077/TempLink/internal/app/model"
)

// RouteHeader carries a signed routing context set by the edge layer.
const RouteHeader = "X-Templink-Route"

var (
	ErrInvalidToken  = errors.New("invalid route token")
	ErrExpiredToken  = errors.New("route token expired")
	ErrMissingSecret = errors.New("route secret is not configured")
)

// RouteSigner issues and checks HMAC-signed routing contexts so forwarded
// requests never trust unsigned headers.
type RouteSigner struct {
	secret []byte
	now    func() time.Time
}

// NewRouteSigner returns a signer keyed with secret.
func NewRouteSigner(secret []byte) *RouteSigner {
	return &RouteSigner{secret: secret, now: time.Now}
}

// Issue mints a token carrying route. It stays valid until route.ExpiresAt.
func (s *RouteSigner) Issue(route model.Route) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload, err := json.Marshal(route)
	if err != nil {
		return "", err
	}

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(s.sign(payload))
	return payloadEnc + "." + sigEnc, nil
}

// Verify checks signature integrity and returns the carried route.
// ErrExpiredToken is returned with the decoded route so callers can answer 410.
func (s *RouteSigner) Verify(token string) (model.Route, error) {
	if len(s.secret) == 0 {
		return model.Route{}, ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return model.Route{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil {
		return model.Route{}, ErrInvalidToken
	}
	sigProvided, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil {
		return model.Route{}, ErrInvalidToken
	}
	if !hmac.Equal(sigProvided, s.sign(payload)) {
		return model.Route{}, ErrInvalidToken
	}

	var route model.Route
	if err := json.Unmarshal(payload, &route); err != nil {
		return model.Route{}, ErrInvalidToken
	}
	if route.Identifier == "" || route.Address == "" || route.Domain == "" {
		return model.Route{}, ErrInvalidToken
	}
	if !s.now().Before(route.ExpiresAt) {
		return route, ErrExpiredToken
	}
	return route, nil
}

func (s *RouteSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("templink-route|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
