package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Claims are the token claims of an editor user. The subject is the uid.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningMethod string   // RS256 or HS256
	PublicKey     string   // PEM, for RS256 verification
	PrivateKey    string   // PEM, for RS256 signing
	SecretKey     string   // For HS256
	Issuer        string   // Expected issuer
	Audience      []string // Expected audience, any one must match
}

// IdentityVerifier turns bearer tokens into identities
type IdentityVerifier struct {
	signingMethod jwt.SigningMethod
	verifyKey     interface{}
	issuer        string
	audience      []string
}

// NewIdentityVerifier creates a verifier for the configured signing method
func NewIdentityVerifier(config JWTConfig) (*IdentityVerifier, error) {
	v := &IdentityVerifier{issuer: config.Issuer, audience: config.Audience}

	switch config.SigningMethod {
	case "RS256":
		if config.PublicKey == "" {
			return nil, errors.New("public key required for RS256")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		v.signingMethod = jwt.SigningMethodRS256
		v.verifyKey = key
	case "HS256", "":
		if config.SecretKey == "" {
			return nil, errors.New("secret key required for HS256")
		}
		v.signingMethod = jwt.SigningMethodHS256
		v.verifyKey = []byte(config.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", config.SigningMethod)
	}
	return v, nil
}

// Verify validates the token and returns the identity it names
func (v *IdentityVerifier) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.signingMethod.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.verifyKey, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Identity{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return Identity{}, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidClaims
	}

	if len(v.audience) > 0 && !anyAudience(claims.Audience, v.audience) {
		return Identity{}, fmt.Errorf("%w: invalid audience", ErrInvalidClaims)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}

	return Identity{UID: claims.Subject, DisplayName: claims.Name}, nil
}

func anyAudience(have jwt.ClaimStrings, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// TokenIssuer signs tokens for an identity. The editor host uses it for
// development tokens and tests; production tokens come from the identity provider.
type TokenIssuer struct {
	signingMethod jwt.SigningMethod
	signKey       interface{}
	issuer        string
	audience      []string
	ttl           time.Duration
}

// NewTokenIssuer creates an issuer for the configured signing method
func NewTokenIssuer(config JWTConfig, ttl time.Duration) (*TokenIssuer, error) {
	t := &TokenIssuer{issuer: config.Issuer, audience: config.Audience, ttl: ttl}

	switch config.SigningMethod {
	case "RS256":
		if config.PrivateKey == "" {
			return nil, errors.New("private key required for RS256")
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		t.signingMethod = jwt.SigningMethodRS256
		t.signKey = key
	case "HS256", "":
		if config.SecretKey == "" {
			return nil, errors.New("secret key required for HS256")
		}
		t.signingMethod = jwt.SigningMethodHS256
		t.signKey = []byte(config.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", config.SigningMethod)
	}
	return t, nil
}

// Issue signs a token for id
func (t *TokenIssuer) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.UID,
			Audience:  t.audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(t.signingMethod, claims).SignedString(t.signKey)
}
