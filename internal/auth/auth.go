package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhoulihan/workdesk/backend/internal/model/user"
)

// ErrUnauthorized covers every token problem: missing, malformed, expired or
// signed with the wrong key. Callers get no finer detail.
var ErrUnauthorized = errors.New("invalid or missing access token")

// Service signs and verifies the platform's HS256 access tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// New builds a token service. A zero ttl defaults to 24 hours.
func New(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

type tokenClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// Sign issues a token carrying the given claims.
func (s *Service) Sign(claims user.Claims) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID:   claims.UserID,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
		Tier:     claims.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

// Verify parses and validates a raw token, returning its claims.
func (s *Service) Verify(raw string) (user.Claims, error) {
	if raw == "" {
		return user.Claims{}, ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return user.Claims{}, ErrUnauthorized
	}

	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return user.Claims{}, ErrUnauthorized
	}
	return user.Claims{
		UserID:   tc.UserID,
		Username: tc.Username,
		IsAdmin:  tc.IsAdmin,
		Tier:     tc.Tier,
	}, nil
}
