package library

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get operations when no record exists
	// under the given key. Callers treat it as a normal branch, not a
	// failure.
	ErrNotFound = errors.New("not found")

	// ErrBookUnavailable is returned by LoanRepository.Issue when the book
	// is already on loan. The availability check runs inside the store so
	// two racing issues cannot both succeed.
	ErrBookUnavailable = errors.New("book unavailable")
)

// BookRepository persists catalog records. Add and Update are both upserts
// keyed by ISBN; a duplicate Add overwrites rather than erroring.
type BookRepository interface {
	Add(b *Book) error
	Get(isbn string) (*Book, error)
	Update(b *Book) error
	Delete(isbn string) error
	ListAll() ([]*Book, error)
}

// UserRepository persists borrowers, upsert-by-UserID.
type UserRepository interface {
	Add(u *User) error
	Get(userID string) (*User, error)
	ListAll() ([]*User, error)
}

// LoanRepository tracks which books are out and to whom. Issue records the
// (user, isbn) pair and flips the book's mirrored loan fields in one step;
// Return reverses it and succeeds even when no pair existed.
type LoanRepository interface {
	Issue(isbn, userID string, date time.Time) error
	Return(isbn, userID string) error
	ListIssued() ([]string, error)
}

// Repositories bundles one storage backend's repositories. All three share
// the same underlying store so loan operations see book state consistently.
type Repositories struct {
	Books BookRepository
	Users UserRepository
	Loans LoanRepository

	closer func() error
}

// Close releases the underlying store, if it holds resources.
func (r *Repositories) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Open selects a storage backend by name: "sqlite" (the default) or
// "memory". dbPath is ignored by the memory backend.
func Open(backend, dbPath string) (*Repositories, error) {
	switch backend {
	case "", "sqlite":
		return OpenSQLite(dbPath)
	case "memory":
		return OpenMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
