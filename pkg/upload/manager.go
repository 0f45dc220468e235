// Package upload implements chunked and simple file uploads into per-user
// workspace directories.
package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-ai/atelier/pkg/services"
)

// scratchDirName is the directory under the workspace base holding in-flight
// upload sessions.
const scratchDirName = ".uploads"

// metaFileName is the session metadata record inside each scratch directory.
const metaFileName = "meta.json"

// Manager owns upload sessions. Session state lives on disk so a restart
// loses nothing; the mutex only guards the read-modify-write of meta.json.
type Manager struct {
	baseDir   string
	chunkSize int64
	maxSimple int64
	ttl       time.Duration

	mu sync.Mutex
}

// NewManager creates a Manager rooted at the workspace base directory.
func NewManager(baseDir string, chunkSize, maxSimple int64, ttl time.Duration) *Manager {
	return &Manager{baseDir: baseDir, chunkSize: chunkSize, maxSimple: maxSimple, ttl: ttl}
}

// meta is the persisted session record.
type meta struct {
	UploadID    string    `json:"upload_id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	TotalChunks int       `json:"total_chunks"`
	TotalSize   int64     `json:"total_size"`
	TargetPath  string    `json:"target_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Received    []int     `json:"received"`
}

// Progress is the state of one session as reported to clients.
type Progress struct {
	UploadID    string `json:"upload_id"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
	TotalSize   int64  `json:"total_size"`
	Received    []int  `json:"received"`
}

// Init starts a chunked upload session and returns its id.
func (m *Manager) Init(userID, filename string, totalChunks int, totalSize int64, targetPath string) (string, error) {
	if userID == "" {
		return "", services.NewValidationError("user_id", "required")
	}
	if filename == "" {
		return "", services.NewValidationError("filename", "required")
	}
	if totalChunks < 1 {
		return "", services.NewValidationError("total_chunks", "must be at least 1")
	}

	uploadID := uuid.NewString()
	dir := m.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload scratch dir: %w", err)
	}

	record := &meta{
		UploadID:    uploadID,
		UserID:      userID,
		Filename:    filename,
		TotalChunks: totalChunks,
		TotalSize:   totalSize,
		TargetPath:  targetPath,
		CreatedAt:   time.Now(),
		Received:    []int{},
	}
	if err := m.writeMeta(record); err != nil {
		return "", err
	}
	slog.Info("Upload session started",
		"upload_id", uploadID, "user_id", userID, "filename", filename, "total_chunks", totalChunks)
	return uploadID, nil
}

// SaveChunk stores one chunk. Re-sending an already received chunk overwrites
// it and is not an error.
func (m *Manager) SaveChunk(uploadID string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.readMeta(uploadID)
	if err != nil {
		return err
	}
	if index < 0 || index >= record.TotalChunks {
		return services.NewValidationError("chunk_index",
			fmt.Sprintf("index %d out of range [0,%d)", index, record.TotalChunks))
	}
	if int64(len(data)) > m.chunkSize {
		return services.NewValidationError("chunk",
			fmt.Sprintf("chunk exceeds the %d byte limit", m.chunkSize))
	}

	if err := os.WriteFile(m.chunkPath(uploadID, index), data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	for _, got := range record.Received {
		if got == index {
			return nil
		}
	}
	record.Received = append(record.Received, index)
	sort.Ints(record.Received)
	return m.writeMeta(record)
}

// Progress reports which chunks have arrived.
func (m *Manager) Progress(uploadID string) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.readMeta(uploadID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		UploadID:    record.UploadID,
		Filename:    record.Filename,
		TotalChunks: record.TotalChunks,
		TotalSize:   record.TotalSize,
		Received:    append([]int{}, record.Received...),
	}, nil
}

// Complete assembles the chunks in index order into the user's workspace and
// removes the scratch directory. The caller must own the session and every
// chunk must have arrived.
func (m *Manager) Complete(uploadID, userID, targetPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.readMeta(uploadID)
	if err != nil {
		return "", err
	}
	if record.UserID != userID {
		return "", fmt.Errorf("upload %s belongs to another user: %w", uploadID, services.ErrForbidden)
	}
	if len(record.Received) != record.TotalChunks {
		return "", services.NewValidationError("upload",
			fmt.Sprintf("upload incomplete: %d/%d chunks received", len(record.Received), record.TotalChunks))
	}

	if targetPath == "" {
		targetPath = record.TargetPath
	}
	if targetPath == "" {
		targetPath = record.Filename
	}
	finalPath, err := m.ResolveTarget(userID, targetPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create target dir: %w", err)
	}
	out, err := os.Create(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to create target file: %w", err)
	}
	defer out.Close()

	for i := 0; i < record.TotalChunks; i++ {
		chunk, err := os.Open(m.chunkPath(uploadID, i))
		if err != nil {
			return "", fmt.Errorf("failed to open chunk %d: %w", i, err)
		}
		_, err = io.Copy(out, chunk)
		chunk.Close()
		if err != nil {
			return "", fmt.Errorf("failed to append chunk %d: %w", i, err)
		}
	}

	if err := os.RemoveAll(m.sessionDir(uploadID)); err != nil {
		slog.Warn("Failed to remove upload scratch dir", "upload_id", uploadID, "error", err)
	}
	slog.Info("Upload completed", "upload_id", uploadID, "path", finalPath, "size", record.TotalSize)
	return finalPath, nil
}

// Cancel discards a session. Unknown ids are fine.
func (m *Manager) Cancel(uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.RemoveAll(m.sessionDir(uploadID)); err != nil {
		return fmt.Errorf("failed to remove upload scratch dir: %w", err)
	}
	return nil
}

// CleanupStale removes sessions older than the TTL. Run at startup.
func (m *Manager) CleanupStale() error {
	entries, err := os.ReadDir(m.scratchDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to scan upload scratch dir: %w", err)
	}

	cutoff := time.Now().Add(-m.ttl)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := m.readMeta(entry.Name())
		stale := err != nil || record.CreatedAt.Before(cutoff)
		if !stale {
			continue
		}
		if err := os.RemoveAll(m.sessionDir(entry.Name())); err != nil {
			slog.Warn("Failed to remove stale upload", "upload_id", entry.Name(), "error", err)
			continue
		}
		slog.Info("Removed stale upload session", "upload_id", entry.Name())
	}
	return nil
}

// SaveSimple writes a small file directly. Files over the simple cap must use
// the chunked flow.
func (m *Manager) SaveSimple(userID, targetPath string, data []byte) (string, error) {
	if int64(len(data)) > m.maxSimple {
		return "", fmt.Errorf("file exceeds the %d byte simple upload limit, use chunked upload: %w",
			m.maxSimple, services.ErrPayloadTooLarge)
	}

	finalPath, err := m.ResolveTarget(userID, targetPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create target dir: %w", err)
	}
	if err := os.WriteFile(finalPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return finalPath, nil
}

// ResolveTarget maps a client-supplied path into the user's workspace,
// rejecting anything that escapes it.
func (m *Manager) ResolveTarget(userID, targetPath string) (string, error) {
	userBase := filepath.Join(m.baseDir, userID)
	resolved := filepath.Join(userBase, targetPath)
	if resolved != userBase && !strings.HasPrefix(resolved, userBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the workspace: %w", targetPath, services.ErrForbidden)
	}
	return resolved, nil
}

func (m *Manager) scratchDir() string {
	return filepath.Join(m.baseDir, scratchDirName)
}

func (m *Manager) sessionDir(uploadID string) string {
	return filepath.Join(m.scratchDir(), uploadID)
}

func (m *Manager) chunkPath(uploadID string, index int) string {
	return filepath.Join(m.sessionDir(uploadID), fmt.Sprintf("chunk_%d", index))
}

func (m *Manager) readMeta(uploadID string) (*meta, error) {
	data, err := os.ReadFile(filepath.Join(m.sessionDir(uploadID), metaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("upload %s: %w", uploadID, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload metadata: %w", err)
	}
	var record meta
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse upload metadata: %w", err)
	}
	return &record, nil
}

func (m *Manager) writeMeta(record *meta) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal upload metadata: %w", err)
	}
	path := filepath.Join(m.sessionDir(record.UploadID), metaFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write upload metadata: %w", err)
	}
	return nil
}
