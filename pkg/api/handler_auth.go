package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/atelier-ai/atelier/pkg/services"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// registerHandler handles POST /api/auth/register.
func (s *Server) registerHandler(c *echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := s.deps.Users.Register(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusBadRequest, "username already taken")
	}
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "user registered",
		"user_id": user.UserID,
	})
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// loginHandler handles POST /api/auth/login.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := s.deps.Users.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := s.deps.Issuer.Issue(user.UserID, user.IsAdmin)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &LoginResponse{AccessToken: token, TokenType: "bearer"})
}
