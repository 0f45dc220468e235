// Package api exposes the HTTP surface: auth, sessions, chat streaming,
// uploads, WebDAV, and the admin skill endpoints.
package api

import (
	"context"
	"net/http"
	"sync"

	echo "github.com/labstack/echo/v5"

	"github.com/atelier-ai/atelier/pkg/agent"
	"github.com/atelier-ai/atelier/pkg/auth"
	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/services"
	"github.com/atelier-ai/atelier/pkg/session"
	"github.com/atelier-ai/atelier/pkg/upload"
	"github.com/atelier-ai/atelier/pkg/validation"
	"github.com/atelier-ai/atelier/pkg/webdav"
)

// Deps carries everything the server needs. All fields are required unless
// noted.
type Deps struct {
	Issuer   *auth.TokenIssuer
	Users    *services.UserService
	Threads  *services.ThreadService
	Sessions *session.Manager
	Runner   *agent.Runner
	LLM      llm.Client

	Skills       *services.SkillService
	Images       *services.ImageVersionService
	Orchestrator *validation.Orchestrator
	Reports      *validation.ReportGenerator

	Uploads *upload.Manager
	DAV     *webdav.Handler

	ChunkSize     int64
	RegressionCap int64
}

// Server is the HTTP API server.
type Server struct {
	deps       Deps
	echo       *echo.Echo
	httpServer *http.Server
	turns      *turnGate
}

// NewServer creates the server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:  deps,
		echo:  echo.New(),
		turns: newTurnGate(),
	}
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/", s.rootHandler)

	api := e.Group("/api")
	api.POST("/auth/register", s.registerHandler)
	api.POST("/auth/login", s.loginHandler)

	authed := api.Group("", bearerAuth(s.deps.Issuer))
	authed.POST("/sessions", s.createSessionHandler)
	authed.GET("/sessions", s.listSessionsHandler)
	authed.DELETE("/sessions/:thread_id", s.destroySessionHandler)

	authed.POST("/chat/:thread_id", s.chatHandler)
	authed.POST("/resume/:thread_id", s.resumeHandler)
	authed.GET("/status/:thread_id", s.statusHandler)
	authed.GET("/sandbox/:thread_id/status", s.sandboxStatusHandler)
	authed.GET("/history/:thread_id", s.historyHandler)

	authed.POST("/files/init-upload", s.initUploadHandler)
	authed.POST("/files/upload-chunk", s.uploadChunkHandler)
	authed.POST("/files/complete-upload", s.completeUploadHandler)
	authed.DELETE("/files/upload/:upload_id", s.cancelUploadHandler)
	authed.GET("/files/upload/:upload_id/progress", s.uploadProgressHandler)
	authed.POST("/files/upload-simple", s.uploadSimpleHandler)

	admin := authed.Group("/admin", requireAdmin())
	admin.POST("/skills/upload", s.uploadSkillHandler)
	admin.GET("/skills", s.listSkillsHandler)
	admin.POST("/skills/full-test", s.fullTestHandler)
	admin.GET("/skills/:id", s.getSkillHandler)
	admin.POST("/skills/:id/validate", s.validateSkillHandler)
	admin.POST("/skills/:id/revalidate", s.revalidateSkillHandler)
	admin.POST("/skills/:id/approve", s.approveSkillHandler)
	admin.POST("/skills/:id/reject", s.rejectSkillHandler)
	admin.DELETE("/skills/:id", s.deleteSkillHandler)
	admin.GET("/skills/:id/report", s.skillReportHandler)
	admin.GET("/images", s.listImagesHandler)

	// WebDAV verbs, including the ones net/http has no registration sugar for.
	davMethods := []string{
		webdav.MethodPropfind, webdav.MethodMkcol, webdav.MethodMove,
		http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete,
	}
	for _, method := range davMethods {
		e.Add(method, "/dav", s.davHandler, bearerAuth(s.deps.Issuer))
		e.Add(method, "/dav/*", s.davHandler, bearerAuth(s.deps.Issuer))
	}
}

func (s *Server) rootHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "atelier",
		"status":  "ok",
	})
}

// turnGate enforces one in-flight agent turn per thread. Concurrent turns on
// one thread would interleave checkpoint writes.
type turnGate struct {
	mu     sync.Mutex
	active map[string]bool
}

func newTurnGate() *turnGate {
	return &turnGate{active: map[string]bool{}}
}

func (g *turnGate) begin(threadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[threadID] {
		return false
	}
	g.active[threadID] = true
	return true
}

func (g *turnGate) end(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, threadID)
}
