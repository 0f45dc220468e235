package upload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/services"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	return NewManager(base, 64, 128, 24*time.Hour), base
}

func TestChunkedUploadOutOfOrder(t *testing.T) {
	m, base := newTestManager(t)

	id, err := m.Init("alice", "model.bin", 3, 9, "")
	require.NoError(t, err)

	// Chunks arrive out of order; assembly is still by index.
	require.NoError(t, m.SaveChunk(id, 2, []byte("ccc")))
	require.NoError(t, m.SaveChunk(id, 0, []byte("aaa")))
	require.NoError(t, m.SaveChunk(id, 1, []byte("bbb")))

	path, err := m.Complete(id, "alice", "data/model.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "alice", "data", "model.bin"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(content))

	// Scratch is gone: progress on the finished session is a 404.
	_, err = m.Progress(id)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestSaveChunkIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 2, 6, "")
	require.NoError(t, err)

	require.NoError(t, m.SaveChunk(id, 0, []byte("old")))
	require.NoError(t, m.SaveChunk(id, 0, []byte("new")))

	progress, err := m.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, progress.Received)

	require.NoError(t, m.SaveChunk(id, 1, []byte("end")))
	path, err := m.Complete(id, "alice", "f.txt")
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "newend", string(content))
}

func TestSaveChunkIndexOutOfBounds(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 2, 6, "")
	require.NoError(t, err)

	assert.True(t, services.IsValidationError(m.SaveChunk(id, 2, []byte("x"))))
	assert.True(t, services.IsValidationError(m.SaveChunk(id, -1, []byte("x"))))
}

func TestSaveChunkTooLarge(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 1, 100, "")
	require.NoError(t, err)

	err = m.SaveChunk(id, 0, make([]byte, 65))
	assert.True(t, services.IsValidationError(err))
}

func TestCompleteIncomplete(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 3, 9, "")
	require.NoError(t, err)
	require.NoError(t, m.SaveChunk(id, 0, []byte("aaa")))

	_, err = m.Complete(id, "alice", "f.txt")
	assert.True(t, services.IsValidationError(err))
}

func TestCompleteWrongOwner(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 1, 3, "")
	require.NoError(t, err)
	require.NoError(t, m.SaveChunk(id, 0, []byte("abc")))

	_, err = m.Complete(id, "mallory", "f.txt")
	assert.ErrorIs(t, err, services.ErrForbidden)
}

func TestCompleteRejectsEscapingTarget(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 1, 3, "")
	require.NoError(t, err)
	require.NoError(t, m.SaveChunk(id, 0, []byte("abc")))

	_, err = m.Complete(id, "alice", "../../etc/passwd")
	assert.ErrorIs(t, err, services.ErrForbidden)
}

func TestCancelIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Init("alice", "f.txt", 1, 3, "")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	require.NoError(t, m.Cancel(id))
	require.NoError(t, m.Cancel("never-existed"))

	_, err = m.Progress(id)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestCleanupStale(t *testing.T) {
	m, base := newTestManager(t)

	oldID, err := m.Init("alice", "old.txt", 1, 3, "")
	require.NoError(t, err)
	freshID, err := m.Init("alice", "fresh.txt", 1, 3, "")
	require.NoError(t, err)

	// Age the first session past the TTL by rewriting its metadata.
	metaPath := filepath.Join(base, ".uploads", oldID, "meta.json")
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	record["created_at"] = time.Now().Add(-25 * time.Hour).Format(time.RFC3339Nano)
	aged, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, aged, 0o644))

	require.NoError(t, m.CleanupStale())

	_, err = m.Progress(oldID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = m.Progress(freshID)
	assert.NoError(t, err)
}

func TestSaveSimple(t *testing.T) {
	m, base := newTestManager(t)

	path, err := m.SaveSimple("alice", "notes/todo.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "alice", "notes", "todo.txt"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestSaveSimpleTooLarge(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.SaveSimple("alice", "big.bin", make([]byte, 129))
	assert.ErrorIs(t, err, services.ErrPayloadTooLarge)
}
