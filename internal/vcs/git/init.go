// Package git provides a go-git implementation of the vcs.Store interface.
//
// All object and reference writes go through go-git's storage layer, bound to
// the repository path given at open time. Commits replayed from the ledger are
// encoded directly into the object database so that identical metadata
// always produces an identical hash. It automatically registers itself with
// the store registry on import.
//
// Usage:
//
//	import _ "github.com/mschirtzinger/ledgit/internal/vcs/git" // Auto-registers via init()
//
//	store, err := vcs.Open(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
package git

import "github.com/mschirtzinger/ledgit/internal/vcs"

// init registers the git store implementation with the registry.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.TypeGit, vcs.Backend{
		Open:   func(root string) (vcs.Store, error) { return Open(root) },
		Init:   func(root string, author vcs.Identity) (vcs.Store, error) { return Init(root, author) },
		Create: func(root string) (vcs.Store, error) { return Create(root) },
	})
}
