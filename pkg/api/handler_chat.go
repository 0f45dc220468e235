package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/atelier-ai/atelier/pkg/agent"
	"github.com/atelier-ai/atelier/pkg/services"
	"github.com/atelier-ai/atelier/pkg/stream"
)

// ChatRequest is the body of POST /api/chat/:thread_id.
type ChatRequest struct {
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
	Mode    string   `json:"mode,omitempty"`
}

// chatHandler handles POST /api/chat/:thread_id. The response is an SSE
// stream; the final frame is always `end`.
func (s *Server) chatHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	mode := agent.ModeBuild
	switch req.Mode {
	case "", "build":
	case "plan":
		mode = agent.ModePlan
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be build or plan")
	}

	if !s.turns.begin(threadID) {
		return echo.NewHTTPError(http.StatusConflict, "a turn is already running for this thread")
	}
	defer s.turns.end(threadID)

	ctx := c.Request().Context()
	events := s.deps.Runner.RunTurn(ctx, threadID, req.Message, req.Files, mode)
	frames := stream.Multiplex(ctx, events, s.titleTaskFor(c, threadID, req.Message))
	return writeSSE(c, frames)
}

// ResumeRequest is the body of POST /api/resume/:thread_id.
type ResumeRequest struct {
	Action  string   `json:"action"`
	Answers []string `json:"answers,omitempty"`
}

// resumeHandler handles POST /api/resume/:thread_id. Invalid action/tool
// combinations still stream: an error frame followed by end, with the
// interrupt left pending.
func (s *Server) resumeHandler(c *echo.Context) error {
	threadID, err := requireThreadAccess(c)
	if err != nil {
		return err
	}

	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action is required")
	}

	if !s.turns.begin(threadID) {
		return echo.NewHTTPError(http.StatusConflict, "a turn is already running for this thread")
	}
	defer s.turns.end(threadID)

	ctx := c.Request().Context()
	events := s.deps.Runner.Resume(ctx, threadID, req.Action, req.Answers)
	frames := stream.Multiplex(ctx, events, nil)
	return writeSSE(c, frames)
}

// titleTaskFor builds the concurrent title task for a thread's first message.
// Threads that already have a title get no task.
func (s *Server) titleTaskFor(c *echo.Context, threadID, message string) stream.TitleTask {
	thread, err := s.deps.Threads.Get(c.Request().Context(), threadID)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return nil
		}
		// No row yet; the title task's conditional write still applies.
	} else if thread.Title != nil {
		return nil
	}
	return stream.NewTitleTask(s.deps.LLM, s.deps.Threads, threadID, message)
}

// writeSSE streams frames until the channel closes or the client goes away.
func writeSSE(c *echo.Context, frames <-chan stream.Frame) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for frame := range frames {
		if err := frame.Write(c.Response()); err != nil {
			// Client disconnected; the multiplexer drains the producers.
			return nil
		}
	}
	return nil
}
