package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// Audit writes one structured "phi_access" line per /api/v1 call: who touched
// which resource, for which patient, and with what outcome.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}

			caller := auth.CallerFromContext(req.Context())
			logger.Info().
				Str("type", "audit").
				Str("request_id", RequestIDFrom(c)).
				Str("user_id", caller.UserID).
				Strs("user_roles", caller.Roles).
				Str("tenant_id", caller.TenantID).
				Str("resource_type", resourceType(path)).
				Str("patient_id", patientRef(c, caller)).
				Str("action", methodToAction(req.Method)).
				Str("method", req.Method).
				Str("path", path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("phi_access")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceType keeps the first two segments after /api/v1/, e.g.
// "opd/queue" or "patient/opd".
func resourceType(path string) string {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown"
	}
	if len(segments) > 1 {
		return segments[0] + "/" + segments[1]
	}
	return segments[0]
}

func patientRef(c echo.Context, caller auth.Caller) string {
	if pid := c.QueryParam("patient_id"); pid != "" {
		return pid
	}
	return caller.PatientID
}
