package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("s3cret")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestParseToken(t *testing.T) {
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	got, err := ParseToken(sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": userID.String(), "exp": exp}), secret)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	rejected := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user_id": userID.String(), "exp": exp}),
		"expired":      sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": userID.String(), "exp": time.Now().Add(-time.Minute).Unix()}),
		"no expiry":    sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": userID.String()}),
		"no user":      sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"exp": exp}),
		"bad user id":  sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": "42", "exp": exp}),
		"other alg":    sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"user_id": userID.String(), "exp": exp}),
	}
	for name, token := range rejected {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(token, secret)
			assert.ErrorIs(t, err, errInvalidToken)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(secret), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})

	userID := uuid.New()
	token := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": userID.String(), "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			}
		})
	}
}
