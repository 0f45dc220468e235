package api

import (
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// InitUploadRequest is the body of POST /api/files/init-upload.
type InitUploadRequest struct {
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
	TotalSize   int64  `json:"total_size"`
	TargetPath  string `json:"target_path,omitempty"`
}

// initUploadHandler handles POST /api/files/init-upload.
func (s *Server) initUploadHandler(c *echo.Context) error {
	var req InitUploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	uploadID, err := s.deps.Uploads.Init(currentUserID(c), req.Filename, req.TotalChunks, req.TotalSize, req.TargetPath)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"upload_id":  uploadID,
		"chunk_size": s.deps.ChunkSize,
	})
}

// uploadChunkHandler handles POST /api/files/upload-chunk (multipart).
func (s *Server) uploadChunkHandler(c *echo.Context) error {
	uploadID := c.FormValue("upload_id")
	if uploadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "upload_id is required")
	}
	index := queryFormInt(c, "chunk_index", -1)
	if index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chunk_index is required")
	}

	data, err := readMultipartFile(c, "chunk")
	if err != nil {
		return err
	}
	if err := s.deps.Uploads.SaveChunk(uploadID, index, data); err != nil {
		return mapServiceError(err)
	}

	progress, err := s.deps.Uploads.Progress(uploadID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"chunk_index":    index,
		"received_count": len(progress.Received),
	})
}

// CompleteUploadRequest is the body of POST /api/files/complete-upload.
type CompleteUploadRequest struct {
	UploadID   string `json:"upload_id"`
	TargetPath string `json:"target_path,omitempty"`
}

// completeUploadHandler handles POST /api/files/complete-upload.
func (s *Server) completeUploadHandler(c *echo.Context) error {
	var req CompleteUploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UploadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "upload_id is required")
	}

	path, err := s.deps.Uploads.Complete(req.UploadID, currentUserID(c), req.TargetPath)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "path": path})
}

// cancelUploadHandler handles DELETE /api/files/upload/:upload_id.
func (s *Server) cancelUploadHandler(c *echo.Context) error {
	if err := s.deps.Uploads.Cancel(c.Param("upload_id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// uploadProgressHandler handles GET /api/files/upload/:upload_id/progress.
func (s *Server) uploadProgressHandler(c *echo.Context) error {
	progress, err := s.deps.Uploads.Progress(c.Param("upload_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, progress)
}

// uploadSimpleHandler handles POST /api/files/upload-simple (multipart).
// Large files get a 413 pointing at the chunked flow.
func (s *Server) uploadSimpleHandler(c *echo.Context) error {
	data, err := readMultipartFile(c, "file")
	if err != nil {
		return err
	}
	fileHeader, _ := c.FormFile("file")

	targetPath := c.FormValue("target_path")
	if targetPath == "" && fileHeader != nil {
		targetPath = fileHeader.Filename
	}

	path, err := s.deps.Uploads.SaveSimple(currentUserID(c), targetPath, data)
	if err != nil {
		return mapServiceError(err)
	}

	filename := targetPath
	if fileHeader != nil {
		filename = fileHeader.Filename
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"path":     path,
		"filename": filename,
		"size":     len(data),
	})
}

func readMultipartFile(c *echo.Context, field string) ([]byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, field+" file is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	return data, nil
}

func queryFormInt(c *echo.Context, name string, fallback int) int {
	raw := c.FormValue(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
