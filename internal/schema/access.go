package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Access is a user's permission level on a repository.
type Access int

// Wire values. They are not ordered; use Rank or AtLeast for comparisons.
const (
	ReadAccess      Access = 1
	ReadWriteAccess Access = 2
	OwnerAccess     Access = 3
	NoAccess        Access = 4
)

// Rank orders access levels: NoAccess < ReadAccess < ReadWriteAccess < OwnerAccess.
func (a Access) Rank() int {
	switch a {
	case ReadAccess:
		return 1
	case ReadWriteAccess:
		return 2
	case OwnerAccess:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether a grants at least the permissions of min.
func (a Access) AtLeast(min Access) bool {
	return a.Rank() >= min.Rank()
}

// Valid reports whether a is one of the four defined levels.
func (a Access) Valid() bool {
	switch a {
	case ReadAccess, ReadWriteAccess, OwnerAccess, NoAccess:
		return true
	}
	return false
}

// String returns the level name.
func (a Access) String() string {
	switch a {
	case ReadAccess:
		return "ReadAccess"
	case ReadWriteAccess:
		return "ReadWriteAccess"
	case OwnerAccess:
		return "OwnerAccess"
	case NoAccess:
		return "NoAccess"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// ParseAccess accepts a level name (case-insensitive, "Access" suffix
// optional, e.g. "read", "ReadWriteAccess", "owner") or its wire number.
func ParseAccess(s string) (Access, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		a := Access(n)
		if !a.Valid() {
			return NoAccess, fmt.Errorf("unknown access level %d", n)
		}
		return a, nil
	}

	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "access")
	name = strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
	switch name {
	case "read":
		return ReadAccess, nil
	case "readwrite", "write":
		return ReadWriteAccess, nil
	case "owner":
		return OwnerAccess, nil
	case "no", "none":
		return NoAccess, nil
	}
	return NoAccess, fmt.Errorf("unknown access level %q", s)
}

// AccessLog records one access change. Logs are append-only.
type AccessLog struct {
	Authorizer string    `json:"authorizer"`
	Authorized string    `json:"authorized"`
	Timestamp  time.Time `json:"timestamp"`
	Access     Access    `json:"userAccess"`
}
