package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/auth"
	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/models"
	"github.com/atelier-ai/atelier/pkg/sandbox"
	"github.com/atelier-ai/atelier/pkg/services"
	"github.com/atelier-ai/atelier/pkg/session"
	"github.com/atelier-ai/atelier/pkg/upload"
	"github.com/atelier-ai/atelier/pkg/webdav"
)

type stubThreads struct{}

func (stubThreads) Create(_ context.Context, threadID, userID string) (*models.Thread, error) {
	return &models.Thread{ThreadID: threadID, UserID: userID}, nil
}

func (stubThreads) Get(context.Context, string) (*models.Thread, error) {
	return nil, services.ErrNotFound
}

func (stubThreads) List(context.Context, string, int, int) ([]models.Thread, int, error) {
	return nil, 0, nil
}

func (stubThreads) Delete(context.Context, string) error { return services.ErrNotFound }

type stubRegistry struct {
	live map[string]sandbox.Instance
}

func (s *stubRegistry) GetFilesSandbox(context.Context, string) (sandbox.Instance, error) {
	return nil, nil
}

func (s *stubRegistry) Live(ownerKey string) (sandbox.Instance, bool) {
	inst, ok := s.live[ownerKey]
	return inst, ok
}

func (s *stubRegistry) Destroy(context.Context, string) bool { return false }

const testUUID = "11111111-2222-3333-4444-555555555555"

type testServer struct {
	*Server
	issuer  *auth.TokenIssuer
	baseDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	baseDir := t.TempDir()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	srv := NewServer(Deps{
		Issuer:    issuer,
		Sessions:  session.NewManager(stubThreads{}, checkpoint.NewMemoryStore(), &stubRegistry{}),
		Uploads:   upload.NewManager(baseDir, 64, 128, time.Hour),
		DAV:       webdav.NewHandler(baseDir, "/dav"),
		ChunkSize: 64,
	})
	return &testServer{Server: srv, issuer: issuer, baseDir: baseDir}
}

func (ts *testServer) token(t *testing.T, userID string, isAdmin bool) string {
	t.Helper()
	token, err := ts.issuer.Issue(userID, isAdmin)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withToken(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func multipartRequest(t *testing.T, target, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRootHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"atelier"`)
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/sessions", nil), "not-a-jwt")
		rec := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong signing secret", func(t *testing.T) {
		other := auth.NewTokenIssuer("other-secret", time.Hour)
		token, err := other.Issue("alice", false)
		require.NoError(t, err)

		rec := ts.do(withToken(httptest.NewRequest(http.MethodGet, "/api/sessions", nil), token))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestThreadAccess(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	t.Run("malformed thread id", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/status/not-a-thread", nil), token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("someone else's thread", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/status/bob-"+testUUID, nil), token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("prefix trick does not grant access", func(t *testing.T) {
		// "alice" must not reach threads owned by "alicecorp".
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/status/alicecorp-"+testUUID, nil), token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestSandboxStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	t.Run("no sandbox yet", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/sandbox/alice-"+testUUID+"/status", nil), token)
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"running":false`)
	})

	t.Run("someone else's thread", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodGet, "/api/sandbox/bob-"+testUUID+"/status", nil), token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	req := withToken(httptest.NewRequest(http.MethodGet, "/api/admin/skills", nil), token)
	rec := ts.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChunkedUploadFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	req := withToken(jsonRequest(http.MethodPost, "/api/files/init-upload", InitUploadRequest{
		Filename:    "data.bin",
		TotalChunks: 2,
		TotalSize:   6,
		TargetPath:  "inbox/data.bin",
	}), token)
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var initResp struct {
		UploadID  string `json:"upload_id"`
		ChunkSize int64  `json:"chunk_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	require.NotEmpty(t, initResp.UploadID)
	assert.Equal(t, int64(64), initResp.ChunkSize)

	for i, chunk := range []string{"abc", "def"} {
		req := withToken(multipartRequest(t, "/api/files/upload-chunk", "chunk", "blob", []byte(chunk), map[string]string{
			"upload_id":   initResp.UploadID,
			"chunk_index": fmt.Sprint(i),
		}), token)
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	req = withToken(httptest.NewRequest(http.MethodGet, "/api/files/upload/"+initResp.UploadID+"/progress", nil), token)
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received"`)

	req = withToken(jsonRequest(http.MethodPost, "/api/files/complete-upload", CompleteUploadRequest{
		UploadID: initResp.UploadID,
	}), token)
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data, err := os.ReadFile(filepath.Join(ts.baseDir, "alice", "inbox", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestCompleteUploadWrongOwner(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice", false)
	bob := ts.token(t, "bob", false)

	req := withToken(jsonRequest(http.MethodPost, "/api/files/init-upload", InitUploadRequest{
		Filename:    "a.txt",
		TotalChunks: 1,
		TotalSize:   1,
	}), alice)
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var initResp struct {
		UploadID string `json:"upload_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))

	req = withToken(multipartRequest(t, "/api/files/upload-chunk", "chunk", "blob", []byte("x"), map[string]string{
		"upload_id":   initResp.UploadID,
		"chunk_index": "0",
	}), alice)
	require.Equal(t, http.StatusOK, ts.do(req).Code)

	req = withToken(jsonRequest(http.MethodPost, "/api/files/complete-upload", CompleteUploadRequest{
		UploadID: initResp.UploadID,
	}), bob)
	rec = ts.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadSimple(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	t.Run("small file lands in the workspace", func(t *testing.T) {
		req := withToken(multipartRequest(t, "/api/files/upload-simple", "file", "note.txt", []byte("hello"), nil), token)
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		data, err := os.ReadFile(filepath.Join(ts.baseDir, "alice", "note.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("oversized file gets 413", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 200)
		req := withToken(multipartRequest(t, "/api/files/upload-simple", "file", "big.bin", big, nil), token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "chunked")
	})
}

func TestWebDAVThroughRouter(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "alice", false)

	t.Run("requires auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/dav/a.txt", strings.NewReader("hi"))
		rec := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("put then get", func(t *testing.T) {
		req := withToken(httptest.NewRequest(http.MethodPut, "/dav/a.txt", strings.NewReader("hi")), token)
		rec := ts.do(req)
		require.Equal(t, http.StatusCreated, rec.Code)

		req = withToken(httptest.NewRequest(http.MethodGet, "/dav/a.txt", nil), token)
		rec = ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(body))
	})

	t.Run("propfind on the root collection", func(t *testing.T) {
		req := withToken(httptest.NewRequest(webdav.MethodPropfind, "/dav", nil), token)
		req.Header.Set("Depth", "1")
		rec := ts.do(req)
		require.Equal(t, http.StatusMultiStatus, rec.Code)
		assert.Contains(t, rec.Body.String(), "a.txt")
	})

	t.Run("users do not see each other's files", func(t *testing.T) {
		bob := ts.token(t, "bob", false)
		req := withToken(httptest.NewRequest(http.MethodGet, "/dav/a.txt", nil), bob)
		rec := ts.do(req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTurnGate(t *testing.T) {
	g := newTurnGate()

	assert.True(t, g.begin("t1"))
	assert.False(t, g.begin("t1"))
	assert.True(t, g.begin("t2"))

	g.end("t1")
	assert.True(t, g.begin("t1"))
}
