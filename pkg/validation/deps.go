package validation

import (
	"strings"

	"github.com/atelier-ai/atelier/pkg/models"
)

// ExtractDependencies buckets the commands a validation run executed into a
// dependency manifest. The command log stands in for sandbox shell history:
// every command the driver ran during the online phase is inspected for
// package installs and downloads.
func ExtractDependencies(commands []string) *models.DependencyManifest {
	manifest := &models.DependencyManifest{}
	seen := map[string]bool{}

	add := func(bucket *[]string, item string) {
		key := item
		if item == "" || seen[key] {
			return
		}
		seen[key] = true
		*bucket = append(*bucket, item)
	}

	for _, cmd := range commands {
		for _, part := range splitCompound(cmd) {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			switch {
			case isPipInstall(fields):
				for _, pkg := range packagesAfterInstall(fields) {
					add(&manifest.Pip, pkg)
				}
			case isAptInstall(fields):
				for _, pkg := range packagesAfterInstall(fields) {
					add(&manifest.Apt, pkg)
				}
			case isNpmInstall(fields):
				for _, pkg := range packagesAfterInstall(fields) {
					add(&manifest.Npm, pkg)
				}
			case isDownload(fields):
				for _, url := range urlsIn(fields) {
					add(&manifest.Downloaded, url)
				}
			case strings.Contains(part, "install"):
				add(&manifest.Other, strings.TrimSpace(part))
			}
		}
	}
	return manifest
}

// CountNetworkCommands counts the commands that would reach the network.
// Against a network-blocked sandbox each of these is an attempted outbound
// call.
func CountNetworkCommands(commands []string) int {
	count := 0
	for _, cmd := range commands {
		for _, part := range splitCompound(cmd) {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			if isPipInstall(fields) || isAptInstall(fields) || isNpmInstall(fields) ||
				isDownload(fields) || isGitClone(fields) {
				count++
			}
		}
	}
	return count
}

// splitCompound breaks "a && b; c" into its individual commands.
func splitCompound(cmd string) []string {
	replaced := strings.NewReplacer("&&", "\n", "||", "\n", ";", "\n", "|", "\n").Replace(cmd)
	var out []string
	for _, part := range strings.Split(replaced, "\n") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isPipInstall(fields []string) bool {
	switch fields[0] {
	case "pip", "pip3":
		return hasWord(fields, "install")
	case "python", "python3":
		return hasWord(fields, "pip") && hasWord(fields, "install")
	}
	return false
}

func isAptInstall(fields []string) bool {
	switch fields[0] {
	case "apt", "apt-get":
		return hasWord(fields, "install")
	case "sudo":
		return len(fields) > 1 && isAptInstall(fields[1:])
	}
	return false
}

func isNpmInstall(fields []string) bool {
	return fields[0] == "npm" && (hasWord(fields, "install") || hasWord(fields, "i"))
}

func isDownload(fields []string) bool {
	return (fields[0] == "wget" || fields[0] == "curl") && len(urlsIn(fields)) > 0
}

func isGitClone(fields []string) bool {
	return fields[0] == "git" && hasWord(fields, "clone")
}

func hasWord(fields []string, word string) bool {
	for _, f := range fields {
		if f == word {
			return true
		}
	}
	return false
}

// packagesAfterInstall returns the non-flag tokens after the install verb.
func packagesAfterInstall(fields []string) []string {
	var out []string
	past := false
	for _, f := range fields {
		if !past {
			if f == "install" || f == "i" {
				past = true
			}
			continue
		}
		if strings.HasPrefix(f, "-") {
			continue
		}
		out = append(out, f)
	}
	return out
}

func urlsIn(fields []string) []string {
	var out []string
	for _, f := range fields {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			out = append(out, f)
		}
	}
	return out
}
