package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"daringbooks/internal/domain"
)

// ErrTokenExpired distinguishes a structurally valid but stale download
// token from a forged or mangled one.
var ErrTokenExpired = errors.New("download token expired")

// DownloadClaims binds a download token to one purchase record and one book.
// Validation re-derives the pair from the signed payload; a client-supplied
// pair is never trusted.
type DownloadClaims struct {
	PurchaseID uint   `json:"purchase_id"`
	BookID     uint   `json:"book_id"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// GenerateDownloadToken mints a single-purpose signed token expiring after ttl.
func GenerateDownloadToken(secret string, ttl time.Duration, purchaseID, bookID uint) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := DownloadClaims{
		PurchaseID: purchaseID,
		BookID:     bookID,
		Type:       domain.TokenTypeDownload,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseDownloadToken verifies signature, shape, and claim type. Expired
// tokens return ErrTokenExpired; everything else invalid returns
// ErrInvalidToken.
func ParseDownloadToken(secret, tokenString string) (*DownloadClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DownloadClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*DownloadClaims)
	if !ok || !token.Valid || claims.Type != domain.TokenTypeDownload {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
