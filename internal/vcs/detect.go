package vcs

import (
	"os"
	"path/filepath"
)

// DetectionResult contains information about the detected repository
type DetectionResult struct {
	// Type is the detected store type
	Type Type

	// RepoRoot is the repository root directory path
	RepoRoot string

	// VCSDir is the metadata directory path (.git)
	VCSDir string
}

// Detect identifies the repository containing path, walking up parent
// directories until a .git directory is found or the filesystem root is
// reached.
//
// Returns ErrNotInVCS if no repository is found.
func Detect(path string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	current := absPath
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil && info.IsDir() {
			return &DetectionResult{
				Type:     TypeGit,
				RepoRoot: current,
				VCSDir:   gitPath,
			}, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

// Open detects the repository containing path and opens it with the
// registered backend for its type.
func Open(path string) (Store, error) {
	result, err := Detect(path)
	if err != nil {
		return nil, err
	}
	b, err := getBackend(result.Type)
	if err != nil {
		return nil, err
	}
	return b.Open(result.RepoRoot)
}

// Init creates a new store of the given type at root. root must not exist
// or be an empty directory.
func Init(t Type, root string, author Identity) (Store, error) {
	b, err := getBackend(t)
	if err != nil {
		return nil, err
	}
	if err := CheckEmpty(root); err != nil {
		return nil, err
	}
	return b.Init(root, author)
}

// Create creates a new store of the given type at root without any commit.
// root must not exist or be an empty directory.
func Create(t Type, root string) (Store, error) {
	b, err := getBackend(t)
	if err != nil {
		return nil, err
	}
	if err := CheckEmpty(root); err != nil {
		return nil, err
	}
	return b.Create(root)
}

// CheckEmpty returns ErrStoreInit if root exists and is not an empty
// directory.
func CheckEmpty(root string) error {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &PathError{Path: root, Err: ErrStoreInit, Reason: "path is a file"}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &PathError{Path: root, Err: ErrStoreInit, Reason: "directory is not empty"}
	}
	return nil
}

// PathError ties a store error to the path it concerns.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	return e.Err.Error() + ": " + e.Path + ": " + e.Reason
}

func (e *PathError) Unwrap() error {
	return e.Err
}
