package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

var testAuthor = vcs.Identity{Name: "Test User", Email: "test@example.com"}

// setupTestRepo creates a repository with a root commit in a temp dir
func setupTestRepo(t *testing.T) *Git {
	t.Helper()

	g, err := Init(filepath.Join(t.TempDir(), "repo"), testAuthor)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return g
}

func writeFile(t *testing.T, g *Git, name, content string) {
	t.Helper()
	p := filepath.Join(g.Root(), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func commitAll(t *testing.T, g *Git, msg string, at time.Time) vcs.CommitInfo {
	t.Helper()
	info, committed, err := g.CommitAll(context.Background(), vcs.CommitOptions{
		Message:          msg,
		IncludeUntracked: true,
		Now:              func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("CommitAll(%q) failed: %v", msg, err)
	}
	if !committed {
		t.Fatalf("CommitAll(%q) committed nothing", msg)
	}
	return info
}

func TestInit(t *testing.T) {
	g := setupTestRepo(t)

	if g.Name() != vcs.TypeGit {
		t.Errorf("Name() = %v, want %v", g.Name(), vcs.TypeGit)
	}

	branch, err := g.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch() failed: %v", err)
	}
	if branch != vcs.MainBranch {
		t.Errorf("CurrentBranch() = %q, want %q", branch, vcs.MainBranch)
	}

	tip, err := g.BranchTip(vcs.MainBranch)
	if err != nil {
		t.Fatalf("BranchTip() failed: %v", err)
	}
	info, err := g.CommitInfo(tip)
	if err != nil {
		t.Fatalf("CommitInfo() failed: %v", err)
	}
	if info.Message != InitialMessage || len(info.Parents) != 0 {
		t.Errorf("root commit = %+v, want parentless %q", info, InitialMessage)
	}
	if info.Author != testAuthor.Name || info.AuthorEmail != testAuthor.Email {
		t.Errorf("root author = %s <%s>", info.Author, info.AuthorEmail)
	}

	reopened, err := Open(g.Root())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if reopened.Identity() != testAuthor {
		t.Errorf("Identity() = %+v, want %+v", reopened.Identity(), testAuthor)
	}
}

func TestInitRejectsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Init(dir, testAuthor)
	if !errors.Is(err, vcs.ErrStoreInit) {
		t.Errorf("Init() on non-empty dir error = %v, want ErrStoreInit", err)
	}
}

func TestOpenNotARepository(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, vcs.ErrNotInVCS) {
		t.Errorf("Open() error = %v, want ErrNotInVCS", err)
	}
}

func TestBranchOperations(t *testing.T) {
	g := setupTestRepo(t)

	if err := g.CreateBranch(vcs.MainBranch); !errors.Is(err, vcs.ErrProtectedRef) {
		t.Errorf("CreateBranch(main) error = %v, want ErrProtectedRef", err)
	}
	if err := g.CreateBranch("feature"); err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	if err := g.CreateBranch("feature"); !errors.Is(err, vcs.ErrRefExists) {
		t.Errorf("second CreateBranch() error = %v, want ErrRefExists", err)
	}
	if err := g.CreateBranch("bad name"); err == nil {
		t.Error("CreateBranch() accepted a name with a space")
	}

	current, _ := g.CurrentBranch()
	if current != "feature" {
		t.Errorf("CurrentBranch() = %q, want feature", current)
	}
	head, err := g.Head()
	if err != nil {
		t.Fatalf("Head() failed: %v", err)
	}
	if tip, _ := g.BranchTip(vcs.MainBranch); head != tip {
		t.Errorf("Head() = %s, want main tip %s", head, tip)
	}
	branches, err := g.Branches()
	if err != nil {
		t.Fatalf("Branches() failed: %v", err)
	}
	if len(branches) != 2 || branches[0] != "feature" || branches[1] != "main" {
		t.Errorf("Branches() = %v", branches)
	}

	if err := g.Checkout("missing"); !errors.Is(err, vcs.ErrRefNotFound) {
		t.Errorf("Checkout(missing) error = %v, want ErrRefNotFound", err)
	}
	if err := g.DeleteBranch(vcs.MainBranch, "feature"); !errors.Is(err, vcs.ErrProtectedRef) {
		t.Errorf("DeleteBranch(main) error = %v, want ErrProtectedRef", err)
	}
	if err := g.DeleteBranch("feature", vcs.MainBranch); err != nil {
		t.Fatalf("DeleteBranch() failed: %v", err)
	}
	if g.RefExists("feature") {
		t.Error("feature still exists after DeleteBranch()")
	}
	current, _ = g.CurrentBranch()
	if current != vcs.MainBranch {
		t.Errorf("CurrentBranch() after delete = %q, want main", current)
	}
}

func TestCommitAll(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	_, committed, err := g.CommitAll(ctx, vcs.CommitOptions{Message: "nothing", IncludeUntracked: true})
	if err != nil {
		t.Fatalf("CommitAll() on clean tree failed: %v", err)
	}
	if committed {
		t.Error("CommitAll() on clean tree reported a commit")
	}

	writeFile(t, g, "notes.txt", "hello")
	_, committed, err = g.CommitAll(ctx, vcs.CommitOptions{Message: "tracked only"})
	if err != nil {
		t.Fatalf("CommitAll() failed: %v", err)
	}
	if committed {
		t.Error("CommitAll() without IncludeUntracked committed an untracked file")
	}

	root, _ := g.BranchTip(vcs.MainBranch)
	rootInfo, _ := g.CommitInfo(root)

	// A clock behind the parent must still produce a later timestamp
	info := commitAll(t, g, "add notes", rootInfo.Timestamp.Add(-time.Hour))
	if !info.Timestamp.After(rootInfo.Timestamp) {
		t.Errorf("commit timestamp %v not after parent %v", info.Timestamp, rootInfo.Timestamp)
	}
	if len(info.Parents) != 1 || info.Parents[0] != root {
		t.Errorf("Parents = %v, want [%s]", info.Parents, root)
	}

	files, err := g.ChangedFiles(info.Hash)
	if err != nil {
		t.Fatalf("ChangedFiles() failed: %v", err)
	}
	if len(files) != 1 || string(files["notes.txt"]) != "hello" {
		t.Errorf("ChangedFiles() = %v", files)
	}
}

func TestNextTimestamp(t *testing.T) {
	parent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later", parent.Add(90 * time.Second), parent.Add(90 * time.Second)},
		{"truncated", parent.Add(5*time.Second + 700*time.Millisecond), parent.Add(5 * time.Second)},
		{"same second", parent.Add(300 * time.Millisecond), parent.Add(time.Second)},
		{"clock behind", parent.Add(-time.Minute), parent.Add(time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextTimestamp(tt.now, parent); !got.Equal(tt.want) {
				t.Errorf("nextTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangedFilesDeletion(t *testing.T) {
	g := setupTestRepo(t)
	base := time.Now().Add(time.Hour)

	writeFile(t, g, "a.txt", "a")
	writeFile(t, g, "docs/b.md", "b")
	commitAll(t, g, "add", base)

	if err := os.Remove(filepath.Join(g.Root(), "a.txt")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, g, "docs/b.md", "b2")
	info := commitAll(t, g, "change", base.Add(time.Minute))

	files, err := g.ChangedFiles(info.Hash)
	if err != nil {
		t.Fatalf("ChangedFiles() failed: %v", err)
	}
	if data, ok := files["a.txt"]; !ok || data != nil {
		t.Errorf("a.txt = %v (present %v), want nil deletion marker", data, ok)
	}
	if string(files["docs/b.md"]) != "b2" {
		t.Errorf("docs/b.md = %q, want b2", files["docs/b.md"])
	}
}

// TestMaterializeReproducesHistory replays a local history into a fresh
// repository and expects identical hashes.
func TestMaterializeReproducesHistory(t *testing.T) {
	ctx := context.Background()
	src := setupTestRepo(t)
	base := time.Now().Add(time.Hour)

	writeFile(t, src, "notes.txt", "one")
	writeFile(t, src, "docs/guide/intro.md", "intro")
	writeFile(t, src, "docs-index", "index")
	commitAll(t, src, "first", base)

	writeFile(t, src, "notes.txt", "two")
	if err := os.Remove(filepath.Join(src.Root(), "docs-index")); err != nil {
		t.Fatal(err)
	}
	tip := commitAll(t, src, "second", base.Add(time.Minute))

	hashes, err := src.Ancestors(tip.Hash)
	if err != nil {
		t.Fatalf("Ancestors() failed: %v", err)
	}
	if len(hashes) != 3 || hashes[2] != tip.Hash {
		t.Fatalf("Ancestors() = %v", hashes)
	}

	dst, err := Create(filepath.Join(t.TempDir(), "clone"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	for _, h := range hashes {
		info, err := src.CommitInfo(h)
		if err != nil {
			t.Fatal(err)
		}
		files, err := src.ChangedFiles(h)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dst.Materialize(ctx, vcs.MaterializeOptions{
			Message:    info.Message,
			Parents:    info.Parents,
			Author:     vcs.Identity{Name: info.Author, Email: info.AuthorEmail},
			Timestamp:  info.Timestamp,
			Files:      files,
			ExpectHash: h,
		})
		if err != nil {
			t.Fatalf("Materialize(%s) failed: %v", h, err)
		}
		if got != h {
			t.Fatalf("Materialize() = %s, want %s", got, h)
		}
	}

	if err := dst.SetBranch(vcs.MainBranch, tip.Hash); err != nil {
		t.Fatalf("SetBranch() failed: %v", err)
	}
	if err := dst.HardReset(tip.Hash); err != nil {
		t.Fatalf("HardReset() failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst.Root(), "notes.txt"))
	if err != nil || string(data) != "two" {
		t.Errorf("notes.txt = %q, %v; want two", data, err)
	}
	if _, err := os.Stat(filepath.Join(dst.Root(), "docs-index")); !os.IsNotExist(err) {
		t.Errorf("docs-index exists after replaying its deletion")
	}
}

func TestMaterializeHashMismatch(t *testing.T) {
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	_, err := g.Materialize(context.Background(), vcs.MaterializeOptions{
		Message:    "x",
		Parents:    []string{root},
		Author:     testAuthor,
		Timestamp:  time.Now().Add(time.Hour),
		Files:      map[string][]byte{"x": []byte("x")},
		ExpectHash: root,
	})
	if !errors.Is(err, vcs.ErrHashMismatch) {
		t.Errorf("Materialize() error = %v, want ErrHashMismatch", err)
	}
}

func TestMaterializeRejectsBadInput(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	_, err := g.Materialize(ctx, vcs.MaterializeOptions{
		Parents: []string{"0123456789012345678901234567890123456789"},
		Author:  testAuthor,
	})
	if !errors.Is(err, vcs.ErrRefNotFound) {
		t.Errorf("unknown parent error = %v, want ErrRefNotFound", err)
	}

	for _, p := range []string{"../escape", "/abs", ".git/config"} {
		_, err := g.Materialize(ctx, vcs.MaterializeOptions{
			Author: testAuthor,
			Files:  map[string][]byte{p: []byte("x")},
		})
		if err == nil {
			t.Errorf("Materialize() accepted path %q", p)
		}
	}
}

func TestHardReset(t *testing.T) {
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	writeFile(t, g, "notes.txt", "hello")
	commitAll(t, g, "add", time.Now().Add(time.Hour))

	if err := g.HardReset(root); err != nil {
		t.Fatalf("HardReset() failed: %v", err)
	}
	tip, _ := g.BranchTip(vcs.MainBranch)
	if tip != root {
		t.Errorf("tip after HardReset() = %s, want %s", tip, root)
	}
	if _, err := os.Stat(filepath.Join(g.Root(), "notes.txt")); !os.IsNotExist(err) {
		t.Error("notes.txt survived HardReset()")
	}
}

func TestFastForward(t *testing.T) {
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	writeFile(t, g, "notes.txt", "hello")
	next := commitAll(t, g, "add", time.Now().Add(time.Hour))

	if err := g.HardReset(root); err != nil {
		t.Fatal(err)
	}
	if err := g.FastForward(next.Hash); err != nil {
		t.Fatalf("FastForward() failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(g.Root(), "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("notes.txt = %q, %v; want hello", data, err)
	}
}

func TestSoftResetKeepsWorkingTree(t *testing.T) {
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	writeFile(t, g, "notes.txt", "hello")
	commitAll(t, g, "add", time.Now().Add(time.Hour))

	if err := g.SoftReset(root); err != nil {
		t.Fatalf("SoftReset() failed: %v", err)
	}
	tip, _ := g.BranchTip(vcs.MainBranch)
	if tip != root {
		t.Errorf("tip after SoftReset() = %s, want %s", tip, root)
	}
	data, err := os.ReadFile(filepath.Join(g.Root(), "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("notes.txt = %q, %v; want hello", data, err)
	}

	_, committed, err := g.CommitAll(context.Background(), vcs.CommitOptions{Message: "again", IncludeUntracked: true})
	if err != nil || !committed {
		t.Errorf("CommitAll() after SoftReset() = %v, %v; want a commit", committed, err)
	}
}

func TestHardResetKeepsUntrackedFiles(t *testing.T) {
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	writeFile(t, g, "notes.txt", "hello")
	commitAll(t, g, "add", time.Now().Add(time.Hour))
	writeFile(t, g, "scratch.txt", "scratch")

	if err := g.HardReset(root); err != nil {
		t.Fatalf("HardReset() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(g.Root(), "notes.txt")); !os.IsNotExist(err) {
		t.Error("tracked notes.txt survived HardReset()")
	}
	data, err := os.ReadFile(filepath.Join(g.Root(), "scratch.txt"))
	if err != nil || string(data) != "scratch" {
		t.Errorf("untracked scratch.txt = %q, %v; want it kept", data, err)
	}
}

func TestCommitAllClearsExecutableBit(t *testing.T) {
	g := setupTestRepo(t)
	base := time.Now().Add(time.Hour)

	writeFile(t, g, "run.sh", "#!/bin/sh\n")
	p := filepath.Join(g.Root(), "run.sh")
	if err := os.Chmod(p, 0755); err != nil {
		t.Fatal(err)
	}
	info := commitAll(t, g, "add script", base)

	fi, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o111 != 0 {
		t.Errorf("run.sh mode = %v after commit, want no executable bit", fi.Mode().Perm())
	}
	c, err := g.resolve(info.Hash)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := c.Tree()
	if err != nil {
		t.Fatal(err)
	}
	entry, err := tree.FindEntry("run.sh")
	if err != nil {
		t.Fatalf("FindEntry() failed: %v", err)
	}
	if entry.Mode != filemode.Regular {
		t.Errorf("run.sh recorded as %v, want regular", entry.Mode)
	}

	// a mode-only change leaves nothing to commit
	if err := os.Chmod(p, 0755); err != nil {
		t.Fatal(err)
	}
	_, committed, err := g.CommitAll(context.Background(), vcs.CommitOptions{
		Message:          "chmod",
		IncludeUntracked: true,
		Now:              func() time.Time { return base.Add(time.Minute) },
	})
	if err != nil {
		t.Fatalf("CommitAll() failed: %v", err)
	}
	if committed {
		t.Error("CommitAll() recorded a mode-only change")
	}
}

func TestCommitAllRejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	g := setupTestRepo(t)
	root, _ := g.BranchTip(vcs.MainBranch)

	writeFile(t, g, "target.txt", "target")
	if err := os.Symlink("target.txt", filepath.Join(g.Root(), "link")); err != nil {
		t.Fatal(err)
	}
	_, committed, err := g.CommitAll(context.Background(), vcs.CommitOptions{Message: "link", IncludeUntracked: true})
	if !errors.Is(err, vcs.ErrUnsupportedFile) {
		t.Errorf("CommitAll() error = %v, want ErrUnsupportedFile", err)
	}
	if committed {
		t.Error("CommitAll() committed a symbolic link")
	}
	if tip, _ := g.BranchTip(vcs.MainBranch); tip != root {
		t.Errorf("tip = %s after refused commit, want %s", tip, root)
	}
}

// TestMergeCommitRoundTrip records a two-parent commit and replays it.
// Its changed files and its base tree both come from the first parent.
func TestMergeCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestRepo(t)
	base := time.Now().Add(time.Hour)

	writeFile(t, src, "shared.txt", "shared")
	commitAll(t, src, "shared", base)

	if err := src.CreateBranch("feature"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, src, "feature.txt", "feature")
	feature := commitAll(t, src, "feature work", base.Add(time.Minute))

	if err := src.Checkout(vcs.MainBranch); err != nil {
		t.Fatal(err)
	}
	writeFile(t, src, "shared.txt", "shared on main")
	mainTip := commitAll(t, src, "main work", base.Add(2*time.Minute))

	merge, err := src.Materialize(ctx, vcs.MaterializeOptions{
		Message:   "merge feature",
		Parents:   []string{mainTip.Hash, feature.Hash},
		Author:    testAuthor,
		Timestamp: base.Add(3 * time.Minute).Truncate(time.Second),
		Files:     map[string][]byte{"feature.txt": []byte("feature")},
	})
	if err != nil {
		t.Fatalf("Materialize(merge) failed: %v", err)
	}

	files, err := src.ChangedFiles(merge)
	if err != nil {
		t.Fatalf("ChangedFiles() failed: %v", err)
	}
	if len(files) != 1 || string(files["feature.txt"]) != "feature" {
		t.Errorf("ChangedFiles(merge) = %v, want only feature.txt against the first parent", files)
	}

	hashes, err := src.Ancestors(merge)
	if err != nil {
		t.Fatalf("Ancestors() failed: %v", err)
	}
	if len(hashes) != 5 || hashes[4] != merge {
		t.Fatalf("Ancestors() = %v", hashes)
	}

	dst, err := Create(filepath.Join(t.TempDir(), "clone"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	for _, h := range hashes {
		info, err := src.CommitInfo(h)
		if err != nil {
			t.Fatal(err)
		}
		changed, err := src.ChangedFiles(h)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dst.Materialize(ctx, vcs.MaterializeOptions{
			Message:    info.Message,
			Parents:    info.Parents,
			Author:     vcs.Identity{Name: info.Author, Email: info.AuthorEmail},
			Timestamp:  info.Timestamp,
			Files:      changed,
			ExpectHash: h,
		})
		if err != nil {
			t.Fatalf("Materialize(%s) failed: %v", h, err)
		}
		if got != h {
			t.Fatalf("Materialize() = %s, want %s", got, h)
		}
	}

	info, err := dst.CommitInfo(merge)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Parents) != 2 || info.Parents[0] != mainTip.Hash || info.Parents[1] != feature.Hash {
		t.Errorf("merge parents = %v, want [%s %s]", info.Parents, mainTip.Hash, feature.Hash)
	}
	if err := dst.SetBranch(vcs.MainBranch, merge); err != nil {
		t.Fatal(err)
	}
	if err := dst.HardReset(merge); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{"shared.txt": "shared on main", "feature.txt": "feature"} {
		data, err := os.ReadFile(filepath.Join(dst.Root(), name))
		if err != nil || string(data) != want {
			t.Errorf("%s = %q, %v; want %q", name, data, err, want)
		}
	}
}

func TestRenameBranch(t *testing.T) {
	g := setupTestRepo(t)

	if err := g.CreateBranch("feature"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, g, "f.txt", "feature")
	info := commitAll(t, g, "feature work", time.Now().Add(time.Hour))

	if err := g.RenameBranch("feature", vcs.MainBranch); !errors.Is(err, vcs.ErrProtectedRef) {
		t.Errorf("RenameBranch(to main) error = %v, want ErrProtectedRef", err)
	}
	if err := g.RenameBranch("missing", "other"); !errors.Is(err, vcs.ErrRefNotFound) {
		t.Errorf("RenameBranch(missing) error = %v, want ErrRefNotFound", err)
	}
	if err := g.RenameBranch("feature", "bad name"); err == nil {
		t.Error("RenameBranch() accepted a name with a space")
	}

	if err := g.RenameBranch("feature", "topic"); err != nil {
		t.Fatalf("RenameBranch() failed: %v", err)
	}
	if g.RefExists("feature") {
		t.Error("feature still exists after RenameBranch()")
	}
	if tip, _ := g.BranchTip("topic"); tip != info.Hash {
		t.Errorf("topic tip = %s, want %s", tip, info.Hash)
	}
	if current, _ := g.CurrentBranch(); current != "topic" {
		t.Errorf("CurrentBranch() = %q, want topic", current)
	}

	if err := g.CreateBranch("other"); err != nil {
		t.Fatal(err)
	}
	if err := g.RenameBranch("topic", "other"); !errors.Is(err, vcs.ErrRefExists) {
		t.Errorf("RenameBranch(onto other) error = %v, want ErrRefExists", err)
	}
}
