package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ScopeLogsWrite allows a runtime to push log batches for its deployment.
const ScopeLogsWrite = "logs:write"

// Claims defines JWT payload.
type Claims struct {
	DeploymentID string `json:"deployment_id"`
	Scope        string `json:"scope,omitempty"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed deployment token with provided secret and ttl.
func GenerateToken(deploymentID, scope, secret string, ttl time.Duration) (string, error) {
	if deploymentID == "" {
		return "", errors.New("jwt: deployment id required")
	}
	now := time.Now()
	claims := Claims{
		DeploymentID: deploymentID,
		Scope:        scope,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "peep",
			Subject:   deploymentID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
