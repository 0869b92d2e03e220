package library

import (
	"sync"
	"time"
)

// memoryStore is the map-backed sibling of the SQLite store, used for the
// "memory" backend and in tests. One lock guards all three relations so
// loan operations see book state consistently.
type memoryStore struct {
	mu    sync.RWMutex
	books map[string]*Book
	users map[string]*User
	loans []loanPair
}

type loanPair struct {
	userID string
	isbn   string
}

// OpenMemory returns a repository bundle that keeps all state in process
// memory. State is lost when the bundle goes away.
func OpenMemory() *Repositories {
	store := &memoryStore{
		books: make(map[string]*Book),
		users: make(map[string]*User),
	}
	return &Repositories{
		Books: &memoryBooks{store},
		Users: &memoryUsers{store},
		Loans: &memoryLoans{store},
	}
}

// cloneBook copies a record so callers cannot alias store state.
func cloneBook(b *Book) *Book {
	cp := *b
	if b.IssueDate != nil {
		d := *b.IssueDate
		cp.IssueDate = &d
	}
	return &cp
}

// ---------------------------------------------------------------------------
// Book repository
// ---------------------------------------------------------------------------

type memoryBooks struct {
	*memoryStore
}

func (r *memoryBooks) Add(b *Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[b.ISBN] = cloneBook(b)
	return nil
}

func (r *memoryBooks) Update(b *Book) error { return r.Add(b) }

func (r *memoryBooks) Get(isbn string) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[isbn]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBook(b), nil
}

func (r *memoryBooks) Delete(isbn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, isbn)
	return nil
}

func (r *memoryBooks) ListAll() ([]*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	books := make([]*Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, cloneBook(b))
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// User repository
// ---------------------------------------------------------------------------

type memoryUsers struct {
	*memoryStore
}

func (r *memoryUsers) Add(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.UserID] = &cp
	return nil
}

func (r *memoryUsers) Get(userID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUsers) ListAll() ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		users = append(users, &cp)
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// Loan repository
// ---------------------------------------------------------------------------

type memoryLoans struct {
	*memoryStore
}

// Issue holds the write lock across the availability check-and-set, so two
// racing issues on the same ISBN cannot both succeed.
func (r *memoryLoans) Issue(isbn, userID string, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[isbn]
	if !ok {
		return ErrNotFound
	}
	if !b.Available {
		return ErrBookUnavailable
	}

	r.loans = append(r.loans, loanPair{userID: userID, isbn: isbn})
	// Keep the date-only precision the SQLite backend persists.
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	b.Available = false
	b.IssuedTo = userID
	b.IssueDate = &d
	return nil
}

// Return drops all matching pairs and restores availability. Succeeds even
// when no loan existed.
func (r *memoryLoans) Return(isbn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.loans[:0]
	for _, p := range r.loans {
		if p.isbn == isbn && p.userID == userID {
			continue
		}
		kept = append(kept, p)
	}
	r.loans = kept

	if b, ok := r.books[isbn]; ok {
		b.Available = true
		b.IssuedTo = ""
		b.IssueDate = nil
	}
	return nil
}

func (r *memoryLoans) ListIssued() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	isbns := make([]string, 0, len(r.loans))
	for _, p := range r.loans {
		isbns = append(isbns, p.isbn)
	}
	return isbns, nil
}
