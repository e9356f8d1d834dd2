package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/collab-realtime/domain/collab"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// TokenConfig holds token signing configuration.
type TokenConfig struct {
	SecretKey string
	Duration  time.Duration
	Issuer    string
}

// Claims are the JWT claims carrying a collaboration identity.
type Claims struct {
	UserName        string `json:"user_name"`
	UserRole        string `json:"user_role"`
	EstablishmentID string `json:"establishment_id"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims. The user id is the
// token subject.
func (c *Claims) Identity() collab.Identity {
	return collab.Identity{
		UserID:          c.Subject,
		UserName:        c.UserName,
		UserRole:        c.UserRole,
		EstablishmentID: c.EstablishmentID,
	}
}

// TokenManager issues and verifies identity tokens.
type TokenManager struct {
	config TokenConfig
}

// NewTokenManager creates a new TokenManager with the given configuration.
func NewTokenManager(config TokenConfig) *TokenManager {
	if config.Duration == 0 {
		config.Duration = 12 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "collab-realtime"
	}
	return &TokenManager{config: config}
}

// Issue signs a token for id. It is used by the identity provider that sits
// in front of this service and by tests.
func (m *TokenManager) Issue(id collab.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserName:        id.UserName,
		UserRole:        id.UserRole,
		EstablishmentID: id.EstablishmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.Duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// Verify validates the token and returns its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.SecretKey), nil
	}, jwt.WithIssuer(m.config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
