package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/skills"
)

// fullTestTimeout bounds one background full-test sweep.
const fullTestTimeout = 2 * time.Hour

// uploadSkillHandler handles POST /api/admin/skills/upload. The zip is
// extracted into the pending directory even when the format check fails; the
// errors are recorded on the row for the operator.
func (s *Server) uploadSkillHandler(c *echo.Context) error {
	data, err := readMultipartFile(c, "file")
	if err != nil {
		return err
	}
	fileHeader, _ := c.FormFile("file")
	fallback := ""
	if fileHeader != nil {
		fallback = strings.TrimSuffix(fileHeader.Filename, ".zip")
	}

	dest, format, err := skills.Ingest(bytes.NewReader(data), int64(len(data)), s.deps.Skills.PendingDir(), fallback)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	skill := &models.Skill{
		SkillID:     uuid.NewString(),
		Name:        format.Name,
		Status:      models.SkillStatusPending,
		SkillPath:   dest,
		FormatValid: format.Valid,
		CreatedBy:   currentUserID(c),
	}
	if skill.Name == "" {
		skill.Name = fallback
	}
	if format.DisplayName != "" {
		skill.DisplayName = &format.DisplayName
	}
	if format.Description != "" {
		skill.Description = &format.Description
	}
	skill.FormatErrors.Val = format.Errors
	skill.FormatWarnings.Val = format.Warnings

	created, err := s.deps.Skills.Create(c.Request().Context(), skill)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, created)
}

// listSkillsHandler handles GET /api/admin/skills.
func (s *Server) listSkillsHandler(c *echo.Context) error {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)

	list, total, err := s.deps.Skills.List(c.Request().Context(), c.QueryParam("status"), page, size)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"skills": list,
		"total":  total,
		"page":   page,
		"size":   size,
	})
}

// getSkillHandler handles GET /api/admin/skills/:id.
func (s *Server) getSkillHandler(c *echo.Context) error {
	skill, err := s.deps.Skills.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, skill)
}

// validateSkillHandler handles POST /api/admin/skills/:id/validate. The
// pipeline runs synchronously; the response carries the updated skill.
func (s *Server) validateSkillHandler(c *echo.Context) error {
	skillID := c.Param("id")
	if err := s.deps.Orchestrator.Validate(c.Request().Context(), skillID); err != nil {
		return mapServiceError(err)
	}
	skill, err := s.deps.Skills.Get(c.Request().Context(), skillID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, skill)
}

// revalidateSkillHandler handles POST /api/admin/skills/:id/revalidate. The
// run happens in the background.
func (s *Server) revalidateSkillHandler(c *echo.Context) error {
	skillID := c.Param("id")
	if _, err := s.deps.Skills.Get(c.Request().Context(), skillID); err != nil {
		return mapServiceError(err)
	}
	if err := s.deps.Skills.ResetForRevalidation(c.Request().Context(), skillID); err != nil {
		return mapServiceError(err)
	}
	s.deps.Orchestrator.Schedule(skillID)
	return c.JSON(http.StatusOK, map[string]string{"status": "scheduled"})
}

// approveSkillHandler handles POST /api/admin/skills/:id/approve. On success
// a new image version is recorded with the skill's dependency manifest.
func (s *Server) approveSkillHandler(c *echo.Context) error {
	skill, err := s.deps.Skills.Approve(c.Request().Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		return mapServiceError(err)
	}

	if _, err := s.deps.Images.Record(c.Request().Context(), skill.SkillID, skill.InstalledDependencies.Val); err != nil {
		slog.Error("Failed to record image version", "skill_id", skill.SkillID, "error", err)
	}
	return c.JSON(http.StatusOK, skill)
}

// RejectSkillRequest is the body of POST /api/admin/skills/:id/reject.
type RejectSkillRequest struct {
	Reason string `json:"reason"`
}

// rejectSkillHandler handles POST /api/admin/skills/:id/reject.
func (s *Server) rejectSkillHandler(c *echo.Context) error {
	var req RejectSkillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	skill, err := s.deps.Skills.Reject(c.Request().Context(), c.Param("id"), currentUserID(c), req.Reason)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, skill)
}

// deleteSkillHandler handles DELETE /api/admin/skills/:id.
func (s *Server) deleteSkillHandler(c *echo.Context) error {
	if err := s.deps.Skills.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// fullTestHandler handles POST /api/admin/skills/full-test. The sweep runs in
// the background; progress lands on each skill row.
func (s *Server) fullTestHandler(c *echo.Context) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fullTestTimeout)
		defer cancel()
		if _, err := s.deps.Orchestrator.RunFullTest(ctx, s.deps.RegressionCap); err != nil {
			slog.Error("Full test sweep failed", "error", err)
		}
	}()
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

// skillReportHandler handles GET /api/admin/skills/:id/report.
func (s *Server) skillReportHandler(c *echo.Context) error {
	skill, err := s.deps.Skills.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	content, err := s.deps.Reports.Generate(c.Request().Context(), skill)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"content":      content,
		"content_type": "text/markdown",
	})
}

// listImagesHandler handles GET /api/admin/images.
func (s *Server) listImagesHandler(c *echo.Context) error {
	versions, err := s.deps.Images.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": versions})
}
