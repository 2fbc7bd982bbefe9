package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithCaller(caller *Caller) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if caller != nil {
		req = req.WithContext(WithCaller(req.Context(), *caller))
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		caller *Caller
		want   int
	}{
		{"matching role", &Caller{UserID: "u", Roles: []string{"physician"}}, http.StatusOK},
		{"admin always passes", &Caller{UserID: "u", Roles: []string{"admin"}}, http.StatusOK},
		{"case insensitive", &Caller{UserID: "u", Roles: []string{"Nurse"}}, http.StatusOK},
		{"wrong role", &Caller{UserID: "u", Roles: []string{"patient"}}, http.StatusForbidden},
		{"no roles", &Caller{UserID: "u"}, http.StatusForbidden},
		{"unauthenticated", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithCaller(tt.caller)
			err := RequireRole(RolePhysician, RoleNurse)(okHandler)(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	if err := RequireAuth()(okHandler)(contextWithCaller(&Caller{UserID: "u"})); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	expectStatus(t, RequireAuth()(okHandler)(contextWithCaller(nil)), http.StatusUnauthorized)
}

func TestCallerFromContext_Empty(t *testing.T) {
	caller := CallerFromContext(context.Background())
	if caller.Authenticated() {
		t.Error("expected unauthenticated zero caller")
	}
}

func TestCaller_IsStaff(t *testing.T) {
	if !(Caller{Roles: []string{"registrar"}}).IsStaff() {
		t.Error("registrar is staff")
	}
	if (Caller{Roles: []string{"patient"}}).IsStaff() {
		t.Error("patient is not staff")
	}
	if !(Caller{Roles: []string{"admin"}}).IsStaff() {
		t.Error("admin counts as staff")
	}
}
