// Package auth provides password hashing, bearer-token issuance/verification,
// and the thread-ownership proof used by every thread-scoped endpoint.
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken is returned for missing, malformed, or expired tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials is returned on a username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// threadIDPattern matches "{userId}-{uuid}" with the uuid part anchored to
// exactly 36 hex-and-dash characters.
var threadIDPattern = regexp.MustCompile(`^(.+)-([0-9a-f-]{36})$`)

// HashPassword hashes a plaintext password with bcrypt at default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against a stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims are the JWT claims carried in a bearer token.
type Claims struct {
	IsAdmin bool `json:"admin"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and TTL.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the given user.
func (t *TokenIssuer) Issue(userID string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning (userID, isAdmin).
func (t *TokenIssuer) Verify(tokenString string) (string, bool, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", tok.Method.Alg())
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", false, ErrInvalidToken
	}
	return claims.Subject, claims.IsAdmin, nil
}

// OwnsThread reports whether threadID belongs to userID. The "{userId}-" prefix
// is the only access-control proof on chat/resume/status/history endpoints.
func OwnsThread(userID, threadID string) bool {
	if userID == "" || !ValidThreadID(threadID) {
		return false
	}
	return strings.HasPrefix(threadID, userID+"-") &&
		len(threadID) == len(userID)+1+36
}

// ValidThreadID reports whether the id has the "{userId}-{uuid}" shape.
func ValidThreadID(threadID string) bool {
	return threadIDPattern.MatchString(threadID)
}

// UserIDFromThread extracts the owner userId prefix from a thread id.
func UserIDFromThread(threadID string) (string, error) {
	if len(threadID) <= 37 {
		return "", fmt.Errorf("malformed thread id %q", threadID)
	}
	// The uuid suffix is fixed-width: strip "-{36 chars}" from the end.
	prefix := threadID[:len(threadID)-37]
	if !OwnsThread(prefix, threadID) {
		return "", fmt.Errorf("malformed thread id %q", threadID)
	}
	return prefix, nil
}
