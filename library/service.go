package library

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxLoanDays is the overdue threshold used when the caller has no
// opinion. A loan out for strictly more than this many days is overdue.
const DefaultMaxLoanDays = 30

// Service orchestrates the repositories, enforces the single circulation
// rule (a book is issued only while available), and fans change events out
// to registered observers. All operations run synchronously on the caller's
// goroutine.
type Service struct {
	books BookRepository
	users UserRepository
	loans LoanRepository

	observers []Observer
	log       *slog.Logger

	// now is swapped in tests that pin the overdue clock.
	now func() time.Time
}

// NewService builds a catalog service over the given repository bundle.
func NewService(repos *Repositories) *Service {
	return &Service{
		books: repos.Books,
		users: repos.Users,
		loans: repos.Loans,
		log:   slog.Default(),
		now:   time.Now,
	}
}

// RegisterObserver appends an observer to the notification list. There is
// no de-duplication and no removal.
func (s *Service) RegisterObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// notify delivers an event to every observer, in registration order, before
// the mutating operation returns. A panicking observer propagates to the
// caller and aborts delivery to later observers.
func (s *Service) notify(e Event) {
	for _, o := range s.observers {
		o.Notify(e)
	}
}

// AddBook upserts the book; a duplicate ISBN silently overwrites. Field
// contents are not validated here. Emits BookAdded on success.
func (s *Service) AddBook(b *Book) error {
	if err := s.books.Add(b); err != nil {
		return fmt.Errorf("add book: %w", err)
	}
	s.log.Info("book added", "isbn", b.ISBN, "title", b.Title)
	s.notify(Event{Kind: BookAdded, ISBN: b.ISBN})
	return nil
}

// RemoveBook deletes by ISBN and emits BookRemoved, whether or not a book
// with that ISBN existed.
func (s *Service) RemoveBook(isbn string) error {
	if err := s.books.Delete(isbn); err != nil {
		return fmt.Errorf("remove book: %w", err)
	}
	s.log.Info("book removed", "isbn", isbn)
	s.notify(Event{Kind: BookRemoved, ISBN: isbn})
	return nil
}

// RegisterUser upserts the user and emits UserRegistered.
func (s *Service) RegisterUser(u *User) error {
	if err := s.users.Add(u); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	s.log.Info("user registered", "user_id", u.UserID)
	s.notify(Event{Kind: UserRegistered, UserID: u.UserID})
	return nil
}

// IssueBook lends the book to the user, dated today. It declines — false,
// no mutation, no event — when the book or user is unknown, or the book is
// not available (including losing the race to another issue). Storage
// failures surface as errors.
func (s *Service) IssueBook(isbn, userID string) (bool, error) {
	book, err := s.books.Get(isbn)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("issue book: %w", err)
	}
	if _, err := s.users.Get(userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("issue book: %w", err)
	}
	if !book.Available {
		return false, nil
	}

	if err := s.loans.Issue(isbn, userID, s.now()); err != nil {
		if errors.Is(err, ErrBookUnavailable) || errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("issue book: %w", err)
	}
	s.log.Info("book issued", "isbn", isbn, "user_id", userID)
	s.notify(Event{Kind: BookIssued, ISBN: isbn, UserID: userID})
	return true, nil
}

// ReturnBook is unconditional: it performs the loan return and emits
// BookReturned even when no matching loan existed, and reports true either
// way. Callers relying on "did a loan actually end" must check the book
// state themselves.
func (s *Service) ReturnBook(isbn, userID string) (bool, error) {
	if err := s.loans.Return(isbn, userID); err != nil {
		return false, fmt.Errorf("return book: %w", err)
	}
	s.log.Info("book returned", "isbn", isbn, "user_id", userID)
	s.notify(Event{Kind: BookReturned, ISBN: isbn, UserID: userID})
	return true, nil
}

// SearchQuery holds filter criteria for SearchBooks. Empty text fields and
// a nil Year are ignored; supplied criteria must all match.
type SearchQuery struct {
	Title  string
	Author string
	Genre  string
	ISBN   string
	Year   *int
}

func (q SearchQuery) matches(b *Book) bool {
	if !containsFold(b.Title, q.Title) {
		return false
	}
	if !containsFold(b.Author, q.Author) {
		return false
	}
	if !containsFold(b.Genre, q.Genre) {
		return false
	}
	if !containsFold(b.ISBN, q.ISBN) {
		return false
	}
	if q.Year != nil && b.Year != *q.Year {
		return false
	}
	return true
}

// containsFold reports whether want is a case-insensitive substring of
// attr. An empty want matches anything.
func containsFold(attr, want string) bool {
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(attr), strings.ToLower(want))
}

// SearchBooks fetches the whole catalog and filters it: text criteria
// match by case-insensitive substring, Year by exact equality, all
// criteria ANDed. A zero query returns every book, in ListAll order.
func (s *Service) SearchBooks(q SearchQuery) ([]*Book, error) {
	all, err := s.books.ListAll()
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	var out []*Book
	for _, b := range all {
		if q.matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListOverdue returns the ISBNs of loans out for strictly more than
// maxDays, in ListIssued order. A loan issued exactly maxDays ago is not
// overdue. Books that vanished or carry no issue date are skipped.
func (s *Service) ListOverdue(maxDays int) ([]string, error) {
	issued, err := s.loans.ListIssued()
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	today := s.now()
	var overdue []string
	for _, isbn := range issued {
		book, err := s.books.Get(isbn)
		if err != nil {
			continue
		}
		if book.IssueDate == nil {
			continue
		}
		if daysBetween(*book.IssueDate, today) > maxDays {
			overdue = append(overdue, isbn)
		}
	}
	return overdue, nil
}

// daysBetween counts calendar days between two instants: partial days
// count as whole calendar days, so a loan from 23:00 to 01:00 the next
// day is one day old.
func daysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

// GetBook fetches one book by ISBN; ErrNotFound when absent.
func (s *Service) GetBook(isbn string) (*Book, error) {
	return s.books.Get(isbn)
}

// ListBooks returns the whole catalog, order unspecified.
func (s *Service) ListBooks() ([]*Book, error) {
	return s.books.ListAll()
}

// ListUsers returns every registered user, order unspecified.
func (s *Service) ListUsers() ([]*User, error) {
	return s.users.ListAll()
}
