// Package content stores file blobs by content hash.
//
// Commits on the ledger never carry file bytes. Each changed file is written
// to a content store and the commit records the returned hash per path.
// Two backends are provided: ObjectStore keeps blobs in a local directory,
// KuboClient talks to an IPFS (Kubo) daemon. Both address content with CIDv1
// (raw codec, SHA2-256) so a blob has the same hash in either store.
package content

import (
	"context"
	"errors"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Store is a content-addressed blob store. Putting identical bytes twice
// returns the same hash.
type Store interface {
	// Put stores data and returns its content hash.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the bytes stored under hash.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}

var (
	// ErrNotFound is returned when no blob is stored under a hash.
	ErrNotFound = errors.New("content not found")

	// ErrCorrupt is returned when stored bytes do not match their hash.
	ErrCorrupt = errors.New("content does not match its hash")
)

// ComputeCID computes a CIDv1 (raw codec, SHA2-256) for the given data.
func ComputeCID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// Verify checks that data hashes to the CID in hash. Only raw-codec CIDs
// address the bytes directly; chunked IPFS DAG roots are accepted as-is.
func Verify(hash string, data []byte) error {
	c, err := gocid.Decode(hash)
	if err != nil {
		return fmt.Errorf("invalid content hash %q: %w", hash, err)
	}
	if c.Type() != gocid.Raw {
		return nil
	}
	sum, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("rehash %s: %w", hash, err)
	}
	if !sum.Equals(c) {
		return fmt.Errorf("%w: %s", ErrCorrupt, hash)
	}
	return nil
}
