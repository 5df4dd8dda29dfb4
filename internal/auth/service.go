package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims is the payload of the bearer tokens issued by the upstream auth service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Service validates HS256 bearer tokens signed with a shared secret.
type Service struct {
	secret     []byte
	tokenTTL   time.Duration
	headerName string
}

// NewService constructs an auth service. ttl only applies to tokens minted by IssueToken.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		secret:     []byte(secret),
		tokenTTL:   ttl,
		headerName: "Authorization",
	}
}

// IssueToken signs a token for the user. Used by tooling and tests; end-user tokens
// come from the upstream auth service.
func (s *Service) IssueToken(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature and expiry and returns the user id.
func (s *Service) ValidateToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrTokenRequired
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// TokenTTL reports the lifetime of minted tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
