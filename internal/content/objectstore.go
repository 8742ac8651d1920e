package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
)

// ObjectStore keeps CID-addressed immutable blobs in a local directory.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates an ObjectStore rooted at dir.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

// Dir returns the directory holding the blobs.
func (s *ObjectStore) Dir() string {
	return s.dir
}

// CIDToFilename returns the base32lower encoding of a CID for use as a filename.
func CIDToFilename(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// Put writes data to the store and returns its CID. Existing objects are
// not rewritten.
func (s *ObjectStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, CIDToFilename(c))
	if _, err := os.Stat(path); err == nil {
		return c.String(), nil
	}
	if err := SafeWrite(path, data, 0644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return c.String(), nil
}

// Get reads the blob stored under hash and checks it against the hash.
func (s *ObjectStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := gocid.Decode(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid content hash %q: %w", hash, err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, CIDToFilename(c)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", hash, err)
	}
	if err := Verify(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Has reports whether a blob is stored under hash.
func (s *ObjectStore) Has(hash string) bool {
	c, err := gocid.Decode(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.dir, CIDToFilename(c)))
	return err == nil
}

// Close implements Store.
func (s *ObjectStore) Close() error {
	return nil
}

// SafeWrite writes data to path atomically: tempfile -> fsync -> rename.
func SafeWrite(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}
