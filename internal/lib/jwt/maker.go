package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidToken любой токен, который не прошёл проверку подписи, срока или формата.
var ErrInvalidToken = errors.New("invalid token")

const issuer = "access-gateway"

// Maker подписывает токены HS256 общим секретом.
type Maker struct {
	secretKey []byte
	tokenTTL  time.Duration
	clock     clockwork.Clock
}

// NewMaker создаёт Maker. Пустой clock означает реальное время.
func NewMaker(secretKey string, ttl time.Duration, clock clockwork.Clock) *Maker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Maker{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
		clock:     clock,
	}
}

// GenerateToken выпускает токен для пользователя.
func (m *Maker) GenerateToken(userUID, username string) (string, error) {
	const op = "jwt.GenerateToken"
	if userUID == "" {
		return "", fmt.Errorf("%s: empty user uid", op)
	}
	now := m.clock.Now()
	claims := Claims{
		UserUID:  userUID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия и возвращает claims.
func (m *Maker) ParseToken(tokenStr string) (*Claims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserUID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	return claims, nil
}
