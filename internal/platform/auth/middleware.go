package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims are the bearer token claims issued by the hospital identity provider.
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string   `json:"tenant_id"`
	Roles     []string `json:"roles"`
	PatientID string   `json:"patient_id,omitempty"`
}

func (c *Claims) Caller() Caller {
	return Caller{
		UserID:    c.Subject,
		Roles:     c.Roles,
		TenantID:  c.TenantID,
		PatientID: c.PatientID,
	}
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification with a shared secret.
	SigningKey []byte
}

func (cfg JWTConfig) keyFunc() (jwt.Keyfunc, []string, error) {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }, []string{"HS256"}, nil
	}
	url := cfg.JWKSURL
	if url == "" && cfg.Issuer != "" {
		discovered, err := discoverJWKSURL(cfg.Issuer)
		if err != nil {
			return nil, nil, err
		}
		url = discovered
	}
	if url == "" {
		return nil, nil, fmt.Errorf("no signing key or JWKS URL configured")
	}
	return jwksKeyFunc(url), []string{"RS256"}, nil
}

// JWTMiddleware validates the bearer token and stores the resulting Caller in
// the request context. The tenant claim is also exposed to the tenant
// middleware via c.Get("jwt_tenant_id").
func JWTMiddleware(cfg JWTConfig) (echo.MiddlewareFunc, error) {
	keyFunc, methods, err := cfg.keyFunc()
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed authorization header")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setCaller(c, claims.Caller())
			return next(c)
		}
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func setCaller(c echo.Context, caller Caller) {
	c.Set("jwt_tenant_id", caller.TenantID)
	c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
}

// Headers honoured by DevAuthMiddleware to impersonate a user locally.
const (
	DevUserHeader    = "X-Dev-User-ID"
	DevRolesHeader   = "X-Dev-Roles"
	DevPatientHeader = "X-Dev-Patient-ID"
)

// DevAuthMiddleware trusts the caller for local development. Without any dev
// headers the request runs as an admin "dev-user" in the default tenant.
func DevAuthMiddleware(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			caller := Caller{
				UserID:    "dev-user",
				Roles:     []string{RoleAdmin},
				TenantID:  defaultTenant,
				PatientID: h.Get(DevPatientHeader),
			}
			if uid := h.Get(DevUserHeader); uid != "" {
				caller.UserID = uid
			}
			if roles := h.Get(DevRolesHeader); roles != "" {
				caller.Roles = nil
				for _, r := range strings.Split(roles, ",") {
					if r = strings.TrimSpace(r); r != "" {
						caller.Roles = append(caller.Roles, r)
					}
				}
			}
			setCaller(c, caller)
			return next(c)
		}
	}
}
