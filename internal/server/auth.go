package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/medconsole/rbac/types"
)

const principalKey = "principal"

// Claims carried by rbacd bearer tokens
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a HS256 token for role, valid for ttl
func IssueToken(secret []byte, subject string, role types.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

var errInvalidToken = errors.New("invalid token")

func parseToken(secret []byte, tokenStr string) (types.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	role, err := types.ParseRole(claims.Role)
	if err != nil {
		return nil, errInvalidToken
	}
	return types.RolePrincipal(role), nil
}

// authenticate puts the principal of a valid bearer token into the echo context
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}

		p, err := parseToken(s.secret, parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}

		c.Set(principalKey, p)
		return next(c)
	}
}

// requireAdmin lets through callers whose role holds the admin permission
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.authz.Allowed(principal(c), s.adminPermission) {
			return echo.NewHTTPError(http.StatusForbidden, "permission "+s.adminPermission+" is required")
		}
		return next(c)
	}
}

func principal(c echo.Context) types.Principal {
	p, _ := c.Get(principalKey).(types.Principal)
	return p
}
