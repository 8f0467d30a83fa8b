package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"taskTracker/internal/middleware"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_Verify(t *testing.T) {
	verifier := middleware.NewTokenVerifier("secret", "taskTracker")

	valid, err := verifier.Issue("alice", time.Hour)
	require.NoError(t, err)

	expired, err := verifier.Issue("alice", -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := middleware.NewTokenVerifier("secret", "someone-else").Issue("alice", time.Hour)
	require.NoError(t, err)

	otherSecret, err := middleware.NewTokenVerifier("another-secret", "taskTracker").Issue("alice", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "taskTracker",
		Subject: "alice",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "taskTracker",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name          string
		token         string
		expectedOwner string
		expectedErr   error
	}{
		{name: "valid", token: valid, expectedOwner: "alice"},
		{name: "expired", token: expired, expectedErr: middleware.ErrExpiredToken},
		{name: "wrong issuer", token: otherIssuer, expectedErr: middleware.ErrInvalidToken},
		{name: "wrong secret", token: otherSecret, expectedErr: middleware.ErrInvalidToken},
		{name: "no expiry", token: noExpiry, expectedErr: middleware.ErrInvalidToken},
		{name: "no subject", token: noSubject, expectedErr: middleware.ErrInvalidToken},
		{name: "garbage", token: "not.a.token", expectedErr: middleware.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := verifier.Verify(tt.token)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, owner)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOwner, owner)
		})
	}
}

func TestAuth(t *testing.T) {
	verifier := middleware.NewTokenVerifier("secret", "taskTracker")
	token, err := verifier.Issue("alice", time.Hour)
	require.NoError(t, err)

	var seenOwner string
	handler := middleware.Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOwner = middleware.OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedOwner  string
	}{
		{name: "valid bearer", header: "Bearer " + token, expectedStatus: http.StatusOK, expectedOwner: "alice"},
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, expectedStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", expectedStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenOwner = ""
			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedOwner, seenOwner)
			if w.Code == http.StatusUnauthorized {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "UNAUTHORIZED", body["error"])
				assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
