package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LinkFile is the name of the file, inside the .git directory, that binds
// a working copy to its ledger repository.
const LinkFile = "ledgit.toml"

// ErrNoLink is returned when a working copy is not linked to a ledger
// repository.
var ErrNoLink = errors.New("working copy is not linked to a ledger repository")

// Link binds a working copy to a ledger repository.
type Link struct {
	Author string `toml:"author"`
	Name   string `toml:"name"`
}

func linkPath(root string) string {
	return filepath.Join(root, ".git", LinkFile)
}

// ReadLink reads the link of the working copy at root.
func ReadLink(root string) (Link, error) {
	var l Link
	meta, err := toml.DecodeFile(linkPath(root), &l)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Link{}, ErrNoLink
		}
		return Link{}, fmt.Errorf("load repository link: %w", err)
	}
	if !meta.IsDefined("author") || !meta.IsDefined("name") {
		return Link{}, fmt.Errorf("%w: %s is incomplete", ErrNoLink, linkPath(root))
	}
	l.Author = strings.TrimSpace(l.Author)
	l.Name = strings.TrimSpace(l.Name)
	if l.Author == "" || l.Name == "" {
		return Link{}, fmt.Errorf("%w: %s is incomplete", ErrNoLink, linkPath(root))
	}
	return l, nil
}

// WriteLink records the link of the working copy at root.
func WriteLink(root string, l Link) error {
	f, err := os.OpenFile(linkPath(root), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write repository link: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(l); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode repository link: %w", err)
	}
	return f.Close()
}
