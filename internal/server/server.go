// Package server exposes an Authorizer over http, for the admin dashboard to manage role permissions
package server

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/medconsole/rbac/types"
)

// Server serves the role permission api
type Server struct {
	echo            *echo.Echo
	authz           types.Authorizer
	secret          []byte
	adminPermission string
	log             logr.Logger
}

type serverOption func(*Server)

// WithLogger sets logger for the server
func WithLogger(l logr.Logger) serverOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithAdminPermission sets the permission required to manage role permissions
func WithAdminPermission(id string) serverOption {
	return func(s *Server) {
		s.adminPermission = id
	}
}

// New creates a Server, tokens are verified with secret
func New(authz types.Authorizer, secret []byte, opts ...serverOption) *Server {
	s := &Server{
		echo:            echo.New(),
		authz:           authz,
		secret:          secret,
		adminPermission: "permissions.edit",
		log:             logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(s.logRequest)
	s.routes()

	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.healthz)

	v1 := s.echo.Group("/v1", s.authenticate)
	v1.GET("/permissions", s.listPermissions)
	v1.GET("/me/permissions/:permission", s.checkOwn)

	roles := v1.Group("/roles")
	roles.GET("", s.listRoles, s.requireAdmin)
	roles.GET("/:role/permissions", s.getPermissions, s.requireSelfOrAdmin)
	roles.GET("/:role/permissions/:permission", s.hasPermission, s.requireSelfOrAdmin)
	roles.PUT("/:role/permissions", s.replaceAll, s.requireAdmin)
	roles.PUT("/:role/permissions/:permission", s.grant, s.requireAdmin)
	roles.DELETE("/:role/permissions/:permission", s.revoke, s.requireAdmin)
	roles.POST("/:role/permissions/:permission/toggle", s.toggle, s.requireAdmin)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr, it returns http.ErrServerClosed after Shutdown
func (s *Server) Start(addr string) error {
	s.log.Info("starting server", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and waits for the running ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) logRequest(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)

		req := c.Request()
		kv := []interface{}{
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", req.Method,
			"path", req.URL.Path,
			"status", c.Response().Status,
		}
		if p := principal(c); p != nil {
			kv = append(kv, "role", p.Role())
		}
		if err != nil {
			s.log.Error(err, "request", kv...)
		} else {
			s.log.V(1).Info("request", kv...)
		}
		return err
	}
}
