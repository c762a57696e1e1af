package domain

import (
	"context"
	"errors"
)

// ErrReadAfterWrite is returned when a transaction issues a read after its
// first write. The transactional model requires the full read set to be
// assembled before any write so that it can be re-validated on conflict.
var ErrReadAfterWrite = errors.New("transaction read issued after write")

// ErrTransactionConflict reports that a transaction could not commit within
// the store's retry budget because its read set kept changing underneath it.
var ErrTransactionConflict = errors.New("transaction conflict")

// Transaction exposes the document operations available within one atomic
// scope. Reads must all be issued before the first write; implementations
// reject late reads with ErrReadAfterWrite.
type Transaction interface {
	// GetTeam reads a team document. ok is false when the document is absent.
	GetTeam(id string) (team Team, ok bool, err error)
	// GetUser reads a user document. ok is false when the document is absent.
	GetUser(id string) (user User, ok bool, err error)
	// PutTeam overwrites the team document's name, description, and members.
	PutTeam(team Team) error
	// DeleteTeam removes a team document. Deleting an absent document is a no-op.
	DeleteTeam(id string) error
	// CreateUser stores a new user document; it fails if the id already exists.
	CreateUser(user User) (User, error)
	// DeleteUser removes a user document. Deleting an absent document is a no-op.
	DeleteUser(id string) error
	// SetUserTeam merge-writes one team summary onto a user document, creating
	// the document if it is absent (merge semantics union fields).
	SetUserTeam(userID, teamID string, summary TeamSummary) error
	// RemoveUserTeam deletes one team entry from a user document, merged into
	// the document like a field-delete sentinel. Absent users or entries are
	// no-ops.
	RemoveUserTeam(userID, teamID string) error
}

// TransactionView provides read-only access to committed state.
type TransactionView interface {
	FindTeam(id string) (Team, bool)
	FindUser(id string) (User, bool)
	ListTeams() []Team
	ListUsers() []User
}

// PersistentStore is the document store abstraction consumed by the
// reconciliation core. RunInTransaction executes fn atomically with
// optimistic-concurrency retry: on conflict the body is re-executed against a
// fresh snapshot, so fn must be a pure function of its inputs and the
// transaction it is handed.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	GetTeam(id string) (Team, bool)
	GetUser(id string) (User, bool)
	ListTeams() []Team
	ListUsers() []User
}
