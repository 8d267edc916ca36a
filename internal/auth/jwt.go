package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTokenTTL is used when SignAccessToken is given a zero ttl.
const DefaultAccessTokenTTL = 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail signature, expiry or subject checks.
var ErrInvalidToken = errors.New("invalid token")

// JWTClaims represents the access token claims
type JWTClaims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token operations. Tokens are issued by the account
// service; this process only needs to verify them, but signing is kept for
// tooling and tests.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// SignAccessToken creates an HS256 access token for userID.
func (s *JWTService) SignAccessToken(userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := s.now()
	claims := &JWTClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken verifies and parses a JWT token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
