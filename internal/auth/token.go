// Package auth verifies bearer tokens at the HTTP boundary. Token
// issuance belongs to the identity provider; this package only checks
// the signature and extracts the subject.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Sub   string
	Name  string
	Email string
}

type tokenClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 token and returns its claims. Tokens
// without a subject are rejected.
func ParseToken(secret []byte, token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Sub: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// IssueToken signs an HS256 token for the given claims. The server
// itself never issues tokens; tests and migration tooling do.
func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Name:  claims.Name,
		Email: claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: claims.Sub,
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// DecodeUnverified extracts claims without checking the signature. The
// migration clients use it to learn their own subject from the token
// they will present to the server, which verifies it properly.
func DecodeUnverified(token string) (Claims, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Sub: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}
