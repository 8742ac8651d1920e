// Package ledger defines how ledgit talks to the remote ledger.
//
// Every repository, branch, commit and access mutation or query goes through
// a single call shape, Client.Invoke, naming a chaincode function and passing
// string arguments. Structured arguments and query results are JSON encoded
// with the field names of the schema package.
//
// Architecture:
//
//	reconcile.Reconciler
//	     ↓
//	ledger.Gateway   (typed wrappers, JSON encoding)
//	     ↓
//	ledger.Client    (Invoke)
//	     ├── chaincode.Session   local SQLite ledger
//	     └── wsgateway.Client    remote ledger over websocket
//
// A rejected invocation is returned as *TransactionError. Anything else is a
// transport or storage failure.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Chaincode function names.
const (
	FnAddNewRepo           = "addNewRepo"
	FnQueryRepo            = "queryRepo"
	FnClone                = "clone"
	FnDeleteRepo           = "deleteRepo"
	FnRenameRepo           = "renameRepo"
	FnAddNewBranch         = "addNewBranch"
	FnRenameBranch         = "renameBranch"
	FnDeleteBranch         = "deleteBranch"
	FnQueryBranches        = "queryBranches"
	FnQueryBranch          = "queryBranch"
	FnPush                 = "push"
	FnPushMultiple         = "pushMultiple"
	FnPull                 = "pull"
	FnCheckoutLast         = "checkoutLast"
	FnUpdateRepoUserAccess = "updateRepoUserAccess"
	FnQueryRepoUserAccess  = "queryRepoUserAccess"
	FnRegisterNewUser      = "registerNewUser"
	FnQueryUser            = "queryUser"
	FnChangePublicKey      = "changePublicKey"
)

// Client invokes chaincode functions on behalf of one user.
//
// Implementations bind the caller identity when they are constructed; it is
// never passed as an argument.
type Client interface {
	// Invoke runs fn with args as one all-or-nothing transaction and returns
	// the raw response payload.
	//
	// Returns *TransactionError when the ledger rejects the call.
	Invoke(ctx context.Context, fn string, args ...string) ([]byte, error)

	// Close releases the connection or database held by the client.
	Close() error
}

// Rejection codes carried by TransactionError.
const (
	CodeInvalid      = "invalid"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// TransactionError reports that the ledger refused an invocation. No state
// was changed on the ledger.
type TransactionError struct {
	Function string
	Code     string
	Message  string
}

func (e *TransactionError) Error() string {
	if e.Function == "" {
		return "ledger rejected transaction: " + e.Message
	}
	return fmt.Sprintf("ledger rejected %s: %s", e.Function, e.Message)
}

// Reject builds a TransactionError with a formatted message.
func Reject(code, format string, args ...any) *TransactionError {
	return &TransactionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsRejected reports whether err is, or wraps, a ledger rejection.
func IsRejected(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is a rejection for a missing repository,
// branch, commit or user.
func IsNotFound(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && te.Code == CodeNotFound
}
