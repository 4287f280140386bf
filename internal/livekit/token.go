// Package livekit mints room-join access tokens.
package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 6 * time.Hour

var ErrMissingCredentials = errors.New("LiveKit credentials not configured")

// VideoGrant is the room permission block LiveKit reads from the "video" claim.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

type Minter struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewMinter(apiKey, apiSecret string) *Minter {
	return &Minter{apiKey: apiKey, apiSecret: apiSecret, ttl: DefaultTTL, now: time.Now}
}

// Configured reports whether both key and secret are present.
func (m *Minter) Configured() bool {
	return m.apiKey != "" && m.apiSecret != ""
}

// Token returns a signed credential letting identity join, publish and subscribe in room.
func (m *Minter) Token(room, identity string) (string, error) {
	if !m.Configured() {
		return "", ErrMissingCredentials
	}
	if room == "" || identity == "" {
		return "", fmt.Errorf("livekit token: room and identity are required")
	}
	now := m.now().UTC()
	yes := true
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Video: &VideoGrant{Room: room, RoomJoin: true, CanPublish: &yes, CanSubscribe: &yes},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign livekit token: %w", err)
	}
	return signed, nil
}

// Parse validates a token minted with the same secret.
func (m *Minter) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(m.apiSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.apiKey))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
