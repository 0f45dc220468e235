package skills

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Ingest extracts an uploaded skill zip, locates the package root (the
// directory holding SKILL.md, or the archive root when none is found),
// validates the format, and moves the package into pendingDir under its
// front-matter name (falling back to fallbackName).
//
// A format-invalid package is still ingested; the caller persists the errors
// on the skill row.
func Ingest(zipData io.ReaderAt, size int64, pendingDir, fallbackName string) (string, FormatResult, error) {
	tmpDir, err := os.MkdirTemp("", "skill-ingest-*")
	if err != nil {
		return "", FormatResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractZip(zipData, size, tmpDir); err != nil {
		return "", FormatResult{}, err
	}

	root := packageRoot(tmpDir)
	result := ValidatePackage(root)

	name := result.Name
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return "", result, fmt.Errorf("cannot determine skill name")
	}

	if err := os.MkdirAll(pendingDir, 0o755); err != nil {
		return "", result, fmt.Errorf("failed to create pending dir: %w", err)
	}
	dest := filepath.Join(pendingDir, name)
	if _, err := os.Stat(dest); err == nil {
		return "", result, fmt.Errorf("skill package %q already exists in pending dir", name)
	}
	if err := os.Rename(root, dest); err != nil {
		return "", result, fmt.Errorf("failed to move skill package: %w", err)
	}
	return dest, result, nil
}

// extractZip unpacks the archive, rejecting entries that would escape destDir.
func extractZip(data io.ReaderAt, size int64, destDir string) error {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return fmt.Errorf("not a valid zip archive: %w", err)
	}

	for _, file := range reader.File {
		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", file.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", file.Name, err)
		}
		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", file.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return nil
}

func safeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("zip entry %q has an absolute path", name)
	}
	target := filepath.Join(base, filepath.Clean(name))
	if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("zip entry %q escapes the archive root", name)
	}
	return target, nil
}

// packageRoot finds the directory holding SKILL.md. Archives commonly wrap
// the package in a single top-level directory.
func packageRoot(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, "SKILL.md")); err == nil {
		return dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	sub := filepath.Join(dir, entries[0].Name())
	if _, err := os.Stat(filepath.Join(sub, "SKILL.md")); err == nil {
		return sub
	}
	return dir
}
