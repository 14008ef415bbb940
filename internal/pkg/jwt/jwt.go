package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/domain/errs"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("signing secret is not configured")
)

// AccessClaims carry the public identity of an account.
type AccessClaims struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	jwt.StandardClaims
}

// RefreshClaims carry the account identifier only.
type RefreshClaims struct {
	ID uuid.UUID `json:"id"`
	jwt.StandardClaims
}

func NewAccessToken(account domain.Account, ttl time.Duration, secret []byte, now time.Time) (string, error) {
	claims := AccessClaims{
		ID:          account.ID,
		Email:       account.Email,
		Handle:      account.Handle,
		DisplayName: account.DisplayName,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return sign(claims, secret)
}

func NewRefreshToken(accountID uuid.UUID, ttl time.Duration, secret []byte, now time.Time) (string, error) {
	claims := RefreshClaims{
		ID: accountID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return sign(claims, secret)
}

func ParseAccessToken(tokenString string, secret []byte) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := parse(tokenString, claims, secret); err != nil {
		return nil, err
	}
	return claims, nil
}

func ParseRefreshToken(tokenString string, secret []byte) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := parse(tokenString, claims, secret); err != nil {
		return nil, err
	}
	return claims, nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt.sign: %w", err)
	}
	return signed, nil
}

func parse(tokenString string, claims jwt.Claims, secret []byte) error {
	if len(secret) == 0 {
		return ErrMissingSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidToken, err)
	}
	if !token.Valid {
		return errs.ErrInvalidToken
	}
	return nil
}
