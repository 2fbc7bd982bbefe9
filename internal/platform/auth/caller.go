package auth

import (
	"context"
	"strings"
)

// Roles known to the OPD routes. Admin passes every role check.
const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
	RoleRegistrar = "registrar"
	RolePatient   = "patient"
)

// Caller is the authenticated identity of a request. Services receive it
// explicitly instead of reading ambient session state.
type Caller struct {
	UserID   string
	Roles    []string
	TenantID string
	// PatientID is the patient record linked to a patient-portal login.
	PatientID string
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the caller holds one of roles or is an admin.
func (c Caller) HasAnyRole(roles ...string) bool {
	if c.HasRole(RoleAdmin) {
		return true
	}
	for _, r := range roles {
		if c.HasRole(r) {
			return true
		}
	}
	return false
}

// IsStaff is true for any clinical or front-desk role.
func (c Caller) IsStaff() bool {
	return c.HasAnyRole(RolePhysician, RoleNurse, RoleRegistrar)
}

func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by the auth middleware. The
// zero Caller is returned for unauthenticated contexts.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
