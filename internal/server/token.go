package server

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the guest-token payload: the identity the /ws endpoint
// trusts without any further lookup.
type Claims struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Room     string `json:"room"`
	jwt.RegisteredClaims
}

// IssueGuestToken mints a throwaway identity for one room join.
func IssueGuestToken(secret []byte, room domain.RoomName, ttl time.Duration) (string, *Claims, error) {
	uid := uuid.NewString()
	now := time.Now()
	claims := &Claims{
		UID:      uid,
		Username: "guest-" + uid[:6],
		Room:     string(room),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// ParseToken validates signature and expiry.
func ParseToken(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UID == "" || claims.Room == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
