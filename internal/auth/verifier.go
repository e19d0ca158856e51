// Package auth verifies join credentials and resolves them to durable user ids.
package auth

import (
	"context"
	"errors"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is wrapped by every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves an opaque credential to a durable user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (string, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) { return f(ctx, token) }

// JWTVerifier accepts HMAC-signed JWTs. The user id is read from the userId
// claim, falling back to sub.
type JWTVerifier struct {
	secret []byte
	parser *jwtlib.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret. A non-empty
// issuer is required to match the iss claim.
//
// Precondition: secret must be non-empty.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(issuer))
	}
	return &JWTVerifier{secret: []byte(secret), parser: jwtlib.NewParser(opts...)}
}

// Verify parses and validates token.
//
// Postcondition: Returns a non-empty user id, or an error wrapping ErrInvalidToken.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	claims := jwtlib.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if id, ok := claims["userId"].(string); ok && id != "" {
		return id, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return sub, nil
}
