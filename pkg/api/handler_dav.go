package api

import (
	echo "github.com/labstack/echo/v5"
)

// davHandler bridges the WebDAV gateway into the router. The wildcard param
// is empty for the collection root itself.
func (s *Server) davHandler(c *echo.Context) error {
	relPath := "/" + c.Param("*")
	s.deps.DAV.Handle(c.Response(), c.Request(), currentUserID(c), relPath)
	return nil
}
