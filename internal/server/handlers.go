package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medconsole/rbac/types"
)

type rolePermissions struct {
	Role        types.Role `json:"role"`
	Permissions []string   `json:"permissions"`
}

type replaceRequest struct {
	Permissions []string `json:"permissions"`
}

type grantedResponse struct {
	Role       types.Role `json:"role"`
	Permission string     `json:"permission"`
	Granted    bool       `json:"granted"`
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listPermissions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.authz.ListPermissions())
}

func (s *Server) listRoles(c echo.Context) error {
	out := make([]rolePermissions, 0, len(types.AllRoles()))
	for _, role := range types.AllRoles() {
		rp, err := s.rolePermissions(role)
		if err != nil {
			return httpError(err)
		}
		out = append(out, rp)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getPermissions(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}
	rp, err := s.rolePermissions(role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (s *Server) hasPermission(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}
	id := c.Param("permission")
	granted, err := s.authz.HasPermission(role, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, grantedResponse{Role: role, Permission: id, Granted: granted})
}

func (s *Server) grant(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}
	if err := s.authz.Grant(role, c.Param("permission")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) revoke(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}
	if err := s.authz.Revoke(role, c.Param("permission")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) toggle(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}
	id := c.Param("permission")
	granted, err := s.authz.Toggle(role, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, grantedResponse{Role: role, Permission: id, Granted: granted})
}

func (s *Server) replaceAll(c echo.Context) error {
	role, err := types.ParseRole(c.Param("role"))
	if err != nil {
		return httpError(err)
	}

	var req replaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if req.Permissions == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "permissions is required")
	}

	if err := s.authz.ReplaceAll(role, req.Permissions); err != nil {
		return httpError(err)
	}
	rp, err := s.rolePermissions(role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (s *Server) checkOwn(c echo.Context) error {
	p := principal(c)
	id := c.Param("permission")
	return c.JSON(http.StatusOK, grantedResponse{
		Role:       p.Role(),
		Permission: id,
		Granted:    s.authz.Allowed(p, id),
	})
}

// requireSelfOrAdmin lets a caller read its own role, other roles need the admin permission
func (s *Server) requireSelfOrAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	admin := s.requireAdmin(next)
	return func(c echo.Context) error {
		if role, err := types.ParseRole(c.Param("role")); err == nil && role == principal(c).Role() {
			return next(c)
		}
		return admin(c)
	}
}

// rolePermissions lists permissions granted to role, in registry order
func (s *Server) rolePermissions(role types.Role) (rolePermissions, error) {
	set, err := s.authz.GetPermissions(role)
	if err != nil {
		return rolePermissions{}, err
	}

	return rolePermissions{Role: role, Permissions: s.authz.Sorted(set)}, nil
}
