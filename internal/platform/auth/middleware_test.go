package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func newJWTMiddleware(t *testing.T) echo.MiddlewareFunc {
	t.Helper()
	mw, err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	if err != nil {
		t.Fatalf("JWTMiddleware() error: %v", err)
	}
	return mw
}

func runJWT(t *testing.T, authHeader string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return newJWTMiddleware(t)(handler)(c)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestJWTMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			expectStatus(t, runJWT(t, header, okHandler), http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	expectStatus(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
	}, []byte("another-key"))

	expectStatus(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingSubject(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, testSigningKey)

	expectStatus(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_CallerExtraction(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "patient-user-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:  "city_hospital",
		Roles:     []string{"patient"},
		PatientID: "7f1c2d9e-7c0b-4c55-9f59-0f0b1c4b2a11",
	}, testSigningKey)

	var called bool
	err := runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		called = true
		caller := CallerFromContext(c.Request().Context())
		if caller.UserID != "patient-user-9" {
			t.Errorf("expected user id patient-user-9, got %s", caller.UserID)
		}
		if !caller.HasRole(RolePatient) || caller.IsStaff() {
			t.Errorf("expected patient-only caller, got roles %v", caller.Roles)
		}
		if caller.PatientID != "7f1c2d9e-7c0b-4c55-9f59-0f0b1c4b2a11" {
			t.Errorf("expected linked patient id, got %s", caller.PatientID)
		}
		if tid, _ := c.Get("jwt_tenant_id").(string); tid != "city_hospital" {
			t.Errorf("expected jwt_tenant_id city_hospital, got %s", tid)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_NoKeyMaterial(t *testing.T) {
	if _, err := JWTMiddleware(JWTConfig{}); err == nil {
		t.Fatal("expected error when neither signing key nor JWKS is configured")
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := DevAuthMiddleware("default")(func(c echo.Context) error {
		caller := CallerFromContext(c.Request().Context())
		if caller.UserID != "dev-user" {
			t.Errorf("expected dev-user, got %s", caller.UserID)
		}
		if !caller.HasRole(RoleAdmin) {
			t.Errorf("expected admin role, got %v", caller.Roles)
		}
		if tid, _ := c.Get("jwt_tenant_id").(string); tid != "default" {
			t.Errorf("expected default tenant, got %s", tid)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_Impersonation(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "doc-1")
	req.Header.Set(DevRolesHeader, "physician, nurse")
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware("default")(func(c echo.Context) error {
		caller := CallerFromContext(c.Request().Context())
		if caller.UserID != "doc-1" {
			t.Errorf("expected doc-1, got %s", caller.UserID)
		}
		if len(caller.Roles) != 2 || caller.Roles[1] != "nurse" {
			t.Errorf("expected [physician nurse], got %v", caller.Roles)
		}
		if caller.HasRole(RoleAdmin) {
			t.Error("impersonated caller must not be admin")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
