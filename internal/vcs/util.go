package vcs

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanRepoPath validates a slash-separated repository path as recorded on
// the ledger. It rejects absolute paths, paths escaping the repository and
// anything inside .git.
func CleanRepoPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty repository path")
	}
	if strings.Contains(p, "\\") || path.IsAbs(p) {
		return "", fmt.Errorf("invalid repository path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("repository path %q escapes the repository", p)
	}
	first := strings.SplitN(clean, "/", 2)[0]
	if first == ".git" {
		return "", fmt.Errorf("repository path %q is inside .git", p)
	}
	return clean, nil
}

// RepoPath converts an absolute filesystem path inside root to a
// slash-separated repository path.
func RepoPath(root, target string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("cannot determine relative path: %w", err)
	}
	return CleanRepoPath(filepath.ToSlash(rel))
}
