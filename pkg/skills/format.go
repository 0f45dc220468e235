// Package skills handles skill package ingestion: zip extraction into the
// pending directory and SKILL.md front-matter validation.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML block at the top of SKILL.md.
type frontMatter struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// FormatResult is the outcome of validating one skill package directory.
// Format errors do not block ingestion; the skill is persisted format-invalid
// and can be fixed by re-upload.
type FormatResult struct {
	Valid       bool
	Name        string
	DisplayName string
	Description string
	Errors      []string
	Warnings    []string
}

// ValidatePackage checks a skill package directory: SKILL.md must exist and
// its front-matter must carry name and description. A missing scripts/
// directory is a warning only.
func ValidatePackage(dir string) FormatResult {
	res := FormatResult{}

	data, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		res.Errors = append(res.Errors, "Missing SKILL.md")
		return res
	}

	fm, err := parseFrontMatter(string(data))
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.Name = fm.Name
	res.DisplayName = fm.DisplayName
	res.Description = fm.Description
	if fm.Name == "" {
		res.Errors = append(res.Errors, "SKILL.md front-matter missing required field 'name'")
	}
	if fm.Description == "" {
		res.Errors = append(res.Errors, "SKILL.md front-matter missing required field 'description'")
	}

	if info, err := os.Stat(filepath.Join(dir, "scripts")); err != nil || !info.IsDir() {
		res.Warnings = append(res.Warnings, "no scripts/ directory")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// parseFrontMatter extracts the YAML block delimited by "---" lines at the
// top of SKILL.md.
func parseFrontMatter(content string) (*frontMatter, error) {
	trimmed := strings.TrimLeft(content, "﻿\n\r ")
	if !strings.HasPrefix(trimmed, "---") {
		return nil, fmt.Errorf("SKILL.md has no YAML front-matter")
	}

	rest := strings.TrimPrefix(trimmed, "---")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("SKILL.md front-matter is not terminated")
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("SKILL.md front-matter is not valid YAML: %v", err)
	}
	return &fm, nil
}
