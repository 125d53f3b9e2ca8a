// Package jwt выпускает и проверяет токены доступа шлюза.
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims данные пользователя внутри токена. Статус доступа в токен не
// попадает: он вычисляется при каждой проверке.
type Claims struct {
	UserUID  string `json:"user_uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}
