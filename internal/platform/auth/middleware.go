package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleLabStaff = "labstaff"
	RoleAdmin    = "admin"
)

// DevUserID is the identity given to unauthenticated requests in development.
const DevUserID = "00000000-0000-0000-0000-000000000000"

// Claims carries the user id in sub and the user's roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browser websocket clients use.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if tok := c.QueryParam("access_token"); tok != "" {
			return tok, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return token, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" && len(cfg.SigningKey) == 0 {
		if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
			jwksURL = discovered
		}
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyFunc = jwksKeyFunc(jwksURL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware accepts requests without a token in development. The
// identity comes from the X-User-ID and X-User-Role headers and defaults to
// an admin. Requests that do carry a token are passed to verify when set.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			req := c.Request()
			if req.Header.Get("Authorization") != "" {
				return verified(c)
			}

			uid := req.Header.Get("X-User-ID")
			if uid == "" {
				uid = DevUserID
			}
			role := req.Header.Get("X-User-Role")
			if role == "" {
				role = RoleAdmin
			}
			c.SetRequest(req.WithContext(WithIdentity(req.Context(), uid, []string{role})))
			return next(c)
		}
	}
}

// WithIdentity stores the caller's user id and roles on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// CallerID parses the authenticated user id of the request.
func CallerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return id, nil
}
