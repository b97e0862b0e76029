// Package voice issues access tokens for the LiveKit voice room.
package voice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMissingRoom     = errors.New("room is required")
	ErrMissingIdentity = errors.New("identity is required")
	ErrNotConfigured   = errors.New("voice credentials are not configured")
)

// VideoGrant is the LiveKit permission block.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// Claims is the LiveKit access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

// Issuer signs room tokens with the API secret.
type Issuer struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	clock     clockwork.Clock
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration, clock clockwork.Clock) *Issuer {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Issuer{apiKey: apiKey, apiSecret: []byte(apiSecret), ttl: ttl, clock: clock}
}

// Configured reports whether both key and secret are set.
func (i *Issuer) Configured() bool {
	return i.apiKey != "" && len(i.apiSecret) > 0
}

// Issue returns an HS256 token letting identity join room.
func (i *Issuer) Issue(room, identity, name string) (string, error) {
	room, identity = strings.TrimSpace(room), strings.TrimSpace(identity)
	if room == "" {
		return "", ErrMissingRoom
	}
	if identity == "" {
		return "", ErrMissingIdentity
	}
	if !i.Configured() {
		return "", ErrNotConfigured
	}

	now := i.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: strings.TrimSpace(name),
		Video: VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign voice token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token issued by i. Used by tests and diagnostics.
func (i *Issuer) Parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.apiSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithIssuer(i.apiKey),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("parse voice token: %w", err)
	}
	return claims, nil
}
