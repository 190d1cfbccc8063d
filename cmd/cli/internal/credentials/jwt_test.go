package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	token := signedToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "u1",
		Role:   "admin",
		Email:  "ada@example.com",
	})

	claims, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		token  string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "with exp",
			token:  signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}),
			want:   exp,
			wantOK: true,
		},
		{
			name:  "without exp",
			token: signedToken(t, jwt.RegisteredClaims{Subject: "u1"}),
		},
		{
			name:  "opaque token",
			token: "0123456789abcdef",
		},
		{
			name:  "empty",
			token: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TokenExpiry(tt.token)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestTokenExpiry_ExpiredTokenStillParses(t *testing.T) {
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(past)})

	got, ok := TokenExpiry(token)
	require.True(t, ok)
	assert.True(t, past.Equal(got))
}
