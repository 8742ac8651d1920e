// Package schema defines the ledger-side records shared by every ledgit
// component.
//
// # Overview
//
// A repository is mirrored on the ledger as a single Repository record. The
// record holds every branch, every commit reachable from each branch tip, the
// current access map and the append-only access log that produced it.
//
//	{
//	  "name": "notes",
//	  "author": "alice",
//	  "directoryCID": "notes",
//	  "commitHashes": {"3f2a...": true},
//	  "access": {"alice": 3},
//	  "branches": {"main": {"name": "main", "commits": {"3f2a...": {...}}}},
//	  "accessLogs": [{"authorizer": "alice", "authorized": "alice", "timestamp": "...", "userAccess": 3}]
//	}
//
// Commits carry the local commit hash, the author identity, the exact
// timestamp and a map from file path to the content hash of that file in the
// content store. An empty content hash records that the path was deleted.
//
// # Validation
//
// The ledger only accepts commits that extend what it already holds: every
// parent must be known to the repository, and on a non-empty branch the
// commit must build on a parent of that branch whose timestamp is strictly
// earlier. Batches are validated as a whole.
//
// # Access levels
//
// Access levels keep their historical wire numbering (ReadAccess=1,
// ReadWriteAccess=2, OwnerAccess=3, NoAccess=4). Comparisons always go
// through Rank so NoAccess sorts below every other level.
package schema
