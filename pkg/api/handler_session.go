package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// createSessionHandler handles POST /api/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	threadID, err := s.deps.Sessions.Create(c.Request().Context(), currentUserID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"thread_id": threadID})
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	threads, total, err := s.deps.Sessions.List(c.Request().Context(), currentUserID(c), page, pageSize)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threads": threads,
		"total":   total,
	})
}

// destroySessionHandler handles DELETE /api/sessions/:thread_id.
func (s *Server) destroySessionHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.Destroy(c.Request().Context(), threadID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "destroyed"})
}

// statusHandler handles GET /api/status/:thread_id.
func (s *Server) statusHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}
	info, err := s.deps.Sessions.Status(c.Request().Context(), threadID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// sandboxStatusHandler handles GET /api/sandbox/:thread_id/status.
func (s *Server) sandboxStatusHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}
	info, err := s.deps.Sessions.SandboxStatus(c.Request().Context(), threadID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// historyHandler handles GET /api/history/:thread_id.
func (s *Server) historyHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}
	messages, err := s.deps.Sessions.History(c.Request().Context(), threadID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

func queryInt(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
