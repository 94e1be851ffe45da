package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signedPatientToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestPatientJWTMissingSecret(t *testing.T) {
	mw := PatientJWT("")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPatientJWTMissingHeader(t *testing.T) {
	mw := PatientJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPatientJWTWrongSecret(t *testing.T) {
	mw := PatientJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedPatientToken(t, "wrong", uuid.NewString()))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPatientJWTNonUUIDSubject(t *testing.T) {
	mw := PatientJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedPatientToken(t, "secret", "alice"))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPatientJWTValidToken(t *testing.T) {
	userID := uuid.New()
	mw := PatientJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedPatientToken(t, "secret", userID.String()))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if got := UserIDFromContext(r.Context()); got != userID {
			t.Fatalf("expected user id %s in context, got %s", userID, got)
		}
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestUserIDFromContextWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := UserIDFromContext(req.Context()); got != uuid.Nil {
		t.Fatalf("expected uuid.Nil, got %s", got)
	}
}
