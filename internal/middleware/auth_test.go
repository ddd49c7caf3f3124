package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// fakeVerifier implements TokenVerifier for tests
type fakeVerifier struct {
	verifyFunc func(ctx context.Context, idToken string) (*auth.Token, error)
}

func (f *fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	return f.verifyFunc(ctx, idToken)
}

func validVerifier(uid, email string) *fakeVerifier {
	return &fakeVerifier{
		verifyFunc: func(ctx context.Context, idToken string) (*auth.Token, error) {
			return &auth.Token{
				UID:    uid,
				Claims: map[string]interface{}{"email": email},
			}, nil
		},
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(validVerifier("user-123", "test@example.com"))

	var capturedUserID string
	var capturedAuthInfo AuthInfo
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		require.True(t, ok, "UserID should be in context")
		capturedUserID = userID

		authInfo, ok := GetAuth(r)
		require.True(t, ok, "AuthInfo should be in context")
		capturedAuthInfo = authInfo

		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer valid-token-123")
	w := httptest.NewRecorder()

	m.RequireAuth(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-123", capturedUserID)
	assert.Equal(t, "test@example.com", capturedAuthInfo.Email)
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	m := NewAuthMiddleware(validVerifier("user-123", ""))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	m.RequireAuth(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Missing authorization header")
}

func TestRequireAuth_MalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "valid-token-123"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"too many parts", "Bearer token extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(validVerifier("user-123", ""))

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be reached")
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()

			m.RequireAuth(handler).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	m := NewAuthMiddleware(&fakeVerifier{
		verifyFunc: func(ctx context.Context, idToken string) (*auth.Token, error) {
			return nil, errors.New("token expired")
		},
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	w := httptest.NewRecorder()

	m.RequireAuth(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid token")
}

func TestGetUserID_Empty(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)
}

func TestAssertPermission(t *testing.T) {
	account, err := domain.NewAccount("acc-1", "owner-1", "Everyday", "AUD", domain.ControllerManual)
	require.NoError(t, err)

	t.Run("owner allowed", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, "owner-1")
		assert.NoError(t, AssertPermission(ctx, account))
	})

	t.Run("other user denied", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, "intruder")
		err := AssertPermission(ctx, account)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("unauthenticated denied", func(t *testing.T) {
		err := AssertPermission(context.Background(), account)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})
}
