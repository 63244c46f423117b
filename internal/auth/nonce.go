// Package auth issues and checks the anti-forgery token every client call carries.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	nonceAction = "alfaai_frontend_nonce"
	siteAction  = "alfaai_site_user"
)

var (
	ErrInvalidNonce     = errors.New("Nonce verification failed")
	ErrInvalidAssertion = errors.New("site user assertion is invalid")
)

type actionClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// IssueNonce signs a token bound to subject (a user id, or "" for anonymous
// visitors) valid for ttl.
func IssueNonce(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("nonce secret is not configured")
	}
	signed, err := sign(secret, nonceAction, subject, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign nonce: %w", err)
	}
	return signed, nil
}

// ValidateNonce checks the token and returns its subject. Every failure is
// reported as ErrInvalidNonce.
func ValidateNonce(secret, tokenString string) (string, error) {
	return parse(secret, nonceAction, tokenString, ErrInvalidNonce)
}

// IssueSiteAssertion signs the logged-in WordPress user id with the secret
// shared between the site and the gateway. The site sends it when asking for
// a nonce so the gateway can trust the identity.
func IssueSiteAssertion(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("site secret is not configured")
	}
	if userID == "" {
		return "", errors.New("site assertion needs a user id")
	}
	signed, err := sign(secret, siteAction, userID, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign site assertion: %w", err)
	}
	return signed, nil
}

// ValidateSiteAssertion returns the user id the site vouched for. Every
// failure, including an unconfigured secret, is ErrInvalidAssertion.
func ValidateSiteAssertion(secret, tokenString string) (string, error) {
	userID, err := parse(secret, siteAction, tokenString, ErrInvalidAssertion)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrInvalidAssertion
	}
	return userID, nil
}

func sign(secret, action, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actionClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parse(secret, action, tokenString string, invalid error) (string, error) {
	if secret == "" || tokenString == "" {
		return "", invalid
	}
	var claims actionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", invalid, err)
	}
	if !token.Valid || claims.Action != action {
		return "", invalid
	}
	return claims.Subject, nil
}
