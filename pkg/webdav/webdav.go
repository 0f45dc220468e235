// Package webdav implements a small WebDAV gateway over per-user workspace
// directories: PROPFIND, GET, PUT, MKCOL, DELETE, and MOVE. It is not a full
// RFC 4918 server; it covers what desktop clients need to mount a workspace.
package webdav

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MethodPropfind and MethodMkcol are the WebDAV verbs net/http has no
// constants for.
const (
	MethodPropfind = "PROPFIND"
	MethodMkcol    = "MKCOL"
	MethodMove     = "MOVE"
)

// Handler serves WebDAV verbs against baseDir/{userId}. The route prefix is
// needed to interpret MOVE Destination headers.
type Handler struct {
	baseDir string
	prefix  string
}

// NewHandler creates a Handler. prefix is the URL path the handler is mounted
// under, e.g. "/dav".
func NewHandler(baseDir, prefix string) *Handler {
	return &Handler{baseDir: baseDir, prefix: strings.TrimSuffix(prefix, "/")}
}

// Handle dispatches one WebDAV request for an authenticated user. relPath is
// the path below the mount prefix.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, userID, relPath string) {
	target, err := h.resolve(userID, relPath)
	if err != nil {
		http.Error(w, "path escapes the workspace", http.StatusForbidden)
		return
	}

	switch r.Method {
	case MethodPropfind:
		h.propfind(w, r, userID, target, relPath)
	case http.MethodGet, http.MethodHead:
		h.get(w, r, target)
	case http.MethodPut:
		h.put(w, r, target)
	case MethodMkcol:
		h.mkcol(w, target)
	case http.MethodDelete:
		h.delete(w, target)
	case MethodMove:
		h.move(w, r, userID, target)
	default:
		w.Header().Set("Allow", "PROPFIND, GET, HEAD, PUT, MKCOL, DELETE, MOVE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// resolve maps a client path into the user's directory, rejecting escapes.
func (h *Handler) resolve(userID, relPath string) (string, error) {
	userBase := filepath.Join(h.baseDir, userID)
	resolved := filepath.Join(userBase, relPath)
	if resolved != userBase && !strings.HasPrefix(resolved, userBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the user base", relPath)
	}
	return resolved, nil
}

// etagFor builds the weak validator clients use for conditional PUTs.
func etagFor(info os.FileInfo) string {
	return fmt.Sprintf("\"%d-%d\"", info.ModTime().UnixNano(), info.Size())
}

func (h *Handler) propfind(w http.ResponseWriter, r *http.Request, userID, target, relPath string) {
	info, err := os.Stat(target)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	depth := r.Header.Get("Depth")
	if depth == "" || depth == "infinity" {
		depth = "1"
	}

	href := path.Join(h.prefix, relPath)
	ms := multistatus{Namespace: "DAV:"}
	ms.Responses = append(ms.Responses, responseFor(href, info))

	if depth == "1" && info.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			http.Error(w, "failed to list directory", http.StatusInternalServerError)
			return
		}
		for _, entry := range entries {
			childInfo, err := entry.Info()
			if err != nil {
				continue
			}
			ms.Responses = append(ms.Responses, responseFor(path.Join(href, entry.Name()), childInfo))
		}
	}

	writeMultistatus(w, &ms)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, target string) {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", etagFor(info))
	http.ServeFile(w, r, target)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request, target string) {
	info, statErr := os.Stat(target)
	existed := statErr == nil

	if match := r.Header.Get("If-Match"); match != "" {
		if !existed || etagFor(info) != match {
			http.Error(w, "etag mismatch", http.StatusConflict)
			return
		}
	}
	if existed && info.IsDir() {
		http.Error(w, "target is a directory", http.StatusConflict)
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		http.Error(w, "failed to create parent directory", http.StatusInternalServerError)
		return
	}
	out, err := os.Create(target)
	if err != nil {
		http.Error(w, "failed to create file", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, r.Body); err != nil {
		out.Close()
		http.Error(w, "failed to write file", http.StatusInternalServerError)
		return
	}
	out.Close()

	if info, err := os.Stat(target); err == nil {
		w.Header().Set("ETag", etagFor(info))
	}
	// 201 whether or not the file existed; If-Match is the overwrite signal.
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) mkcol(w http.ResponseWriter, target string) {
	if _, err := os.Stat(target); err == nil {
		http.Error(w, "already exists", http.StatusMethodNotAllowed)
		return
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "parent does not exist", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create directory", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) delete(w http.ResponseWriter, target string) {
	if _, err := os.Stat(target); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := os.RemoveAll(target); err != nil {
		http.Error(w, "failed to delete", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, userID, target string) {
	if _, err := os.Stat(target); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	destRel, err := h.destinationPath(r.Header.Get("Destination"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dest, err := h.resolve(userID, destRel)
	if err != nil {
		http.Error(w, "destination escapes the workspace", http.StatusForbidden)
		return
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		http.Error(w, "failed to create destination parents", http.StatusInternalServerError)
		return
	}
	if err := os.Rename(target, dest); err != nil {
		slog.Warn("WebDAV move failed", "src", target, "dst", dest, "error", err)
		http.Error(w, "move failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// destinationPath extracts the path below the mount prefix from a MOVE
// Destination header, which clients send as an absolute URL or absolute path.
func (h *Handler) destinationPath(destination string) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("missing Destination header")
	}
	parsed, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("invalid Destination header")
	}
	p := parsed.Path
	if !strings.HasPrefix(p, h.prefix+"/") && p != h.prefix {
		return "", fmt.Errorf("destination outside the WebDAV mount")
	}
	return strings.TrimPrefix(p, h.prefix), nil
}
