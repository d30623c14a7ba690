package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	Issuer   string        `env:"JWT_ISSUER" envDefault:"roomrelay"`
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// DefaultJWTConfig returns a development configuration.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:   "change-me-in-production",
		Issuer:   "roomrelay",
		TokenTTL: 24 * time.Hour,
	}
}

// Claims are the custom claims carried by relay tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens.
type JWTVerifier struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for the given configuration.
func NewJWTVerifier(config JWTConfig) *JWTVerifier {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultJWTConfig().TokenTTL
	}
	return &JWTVerifier{config: config, now: time.Now}
}

// Issue mints a token for identity.
func (v *JWTVerifier) Issue(identity relay.Identity) (string, error) {
	if identity.ID == "" {
		return "", newError(ErrInvalidToken, "identity id is required")
	}
	now := v.now()
	claims := Claims{
		UserID: identity.ID,
		Name:   identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.config.Secret))
}

// Verify validates credential and returns the identity it names.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (relay.Identity, error) {
	if credential == "" {
		return relay.Identity{}, newError(ErrMissingCredential, "")
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(v.now)}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return relay.Identity{}, newError(ErrExpiredToken, "")
		}
		return relay.Identity{}, newError(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return relay.Identity{}, newError(ErrInvalidToken, "missing user id")
	}

	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	return relay.Identity{ID: claims.UserID, DisplayName: name}, nil
}
