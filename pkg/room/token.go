package room

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the default validity window for join tokens.
const DefaultTokenTTL = 6 * time.Hour

// Grant describes what a join token permits.
type Grant struct {
	// Room is the room name the token grants access to.
	Room string

	// Identity uniquely identifies the participant within the room.
	Identity string

	// Name is the participant's display name.
	Name string

	// CanPublish allows sending audio and data into the room.
	CanPublish bool

	// CanSubscribe allows receiving audio and data from the room.
	CanSubscribe bool

	// TTL bounds the token's validity; DefaultTokenTTL when zero.
	TTL time.Duration
}

// TokenMinter issues HS256-signed room join tokens.
type TokenMinter struct {
	apiKey string
	secret []byte
}

// NewTokenMinter constructs a minter from the transport's API key pair.
func NewTokenMinter(apiKey, apiSecret string) (*TokenMinter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("room: token api key must not be empty")
	}
	if apiSecret == "" {
		return nil, fmt.Errorf("room: token api secret must not be empty")
	}
	return &TokenMinter{apiKey: apiKey, secret: []byte(apiSecret)}, nil
}

// Mint signs a join token for the given grant.
func (m *TokenMinter) Mint(g Grant) (string, error) {
	if g.Room == "" {
		return "", fmt.Errorf("room: grant room must not be empty")
	}
	if g.Identity == "" {
		return "", fmt.Errorf("room: grant identity must not be empty")
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": m.apiKey,
		"sub": g.Identity,
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"video": map[string]any{
			"room":         g.Room,
			"roomJoin":     true,
			"canPublish":   g.CanPublish,
			"canSubscribe": g.CanSubscribe,
		},
		"name": g.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("room: sign join token: %w", err)
	}
	return signed, nil
}
