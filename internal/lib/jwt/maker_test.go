package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret_key_1234567890"

func TestMaker_GenerateAndParse(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	maker := NewMaker(testSecret, 15*time.Minute, clock)

	tests := []struct {
		name     string
		userUID  string
		username string
	}{
		{name: "regular user", userUID: "0b9f8a52-1d9e-4c39-9d1d-2f6f3c1c0a11", username: "ana"},
		{name: "email username", userUID: "5d1e0f1c-7e0c-4a44-8a6d-6b4d7a0bd0e2", username: "user@domain.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.userUID, tt.username)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.userUID, claims.UserUID)
			assert.Equal(t, tt.username, claims.Username)
			assert.Equal(t, tt.userUID, claims.Subject)
			assert.Equal(t, clock.Now().Add(15*time.Minute).Unix(), claims.ExpiresAt.Unix())
		})
	}
}

func TestMaker_GenerateRequiresUser(t *testing.T) {
	_, err := NewMaker(testSecret, time.Minute, nil).GenerateToken("", "ana")
	assert.Error(t, err)
}

func TestMaker_ParseInvalid(t *testing.T) {
	maker := NewMaker(testSecret, 15*time.Minute, nil)
	valid, err := maker.GenerateToken("uid-1", "ana")
	require.NoError(t, err)

	wrongSecret, err := NewMaker("wrong_secret_key", 15*time.Minute, nil).GenerateToken("uid-1", "ana")
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserUID:          "uid-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserUID:          "uid-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "wrong secret key", token: wrongSecret},
		{name: "tampered token", token: valid + "tampered"},
		{name: "alg none", token: noneAlg},
		{name: "missing expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestMaker_Expiration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	maker := NewMaker(testSecret, time.Minute, clock)

	token, err := maker.GenerateToken("uid-1", "ana")
	require.NoError(t, err)

	_, err = maker.ParseToken(token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = maker.ParseToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
