// Package auth turns bearer tokens into forum identities.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campusforum/api/internal/rbac"
)

// Identity is the caller a request acts for.
type Identity struct {
	ID   string
	Role rbac.Role
	Name string
}

// Claims are the fields IssueToken writes. Tokens minted by the account
// service carry "id" instead of "sub"; ParseToken accepts both.
type Claims struct {
	Sub  string
	Name string
	Role string
	Exp  time.Time
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs claims with HS256. The forum never issues tokens to
// users; this serves local tooling and tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	mapClaims := jwt.MapClaims{
		"sub":  claims.Sub,
		"role": claims.Role,
	}
	if claims.Name != "" {
		mapClaims["name"] = claims.Name
	}
	if !claims.Exp.IsZero() {
		mapClaims["exp"] = claims.Exp.Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and extracts the identity. The user id is
// read from the first of sub, _id, id or userId that is present. Unknown or
// missing roles fall back to student.
func ParseToken(secret []byte, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Identity{}, ErrExpiredToken
	}
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	id := ""
	for _, key := range []string{"sub", "_id", "id", "userId"} {
		if id = claimString(claims[key]); id != "" {
			break
		}
	}
	if id == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		ID:   id,
		Role: rbac.Normalize(claimString(claims["role"])),
		Name: claimString(claims["name"]),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
