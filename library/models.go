package library

import "time"

// Book is a catalog record keyed by ISBN. Loan state (IssuedTo, IssueDate)
// is mirrored onto the record so listings don't need a join: Available is
// false exactly when IssuedTo is set.
type Book struct {
	ISBN      string     `json:"isbn"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Year      int        `json:"year"`
	Genre     string     `json:"genre"`
	Available bool       `json:"available"`
	IssuedTo  string     `json:"issued_to,omitempty"`
	IssueDate *time.Time `json:"issue_date,omitempty"`
	// TimesIssued is persisted but nothing updates it yet; issuing a book
	// leaves it alone until circulation reporting needs a counter.
	TimesIssued int `json:"times_issued"`
}

// User is a registered borrower. UserID is assigned by the caller, not the
// catalog.
type User struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// EventKind tags a change notification from the catalog service.
type EventKind int

const (
	BookAdded EventKind = iota
	BookRemoved
	BookIssued
	BookReturned
	UserRegistered
)

func (k EventKind) String() string {
	switch k {
	case BookAdded:
		return "book_added"
	case BookRemoved:
		return "book_removed"
	case BookIssued:
		return "book_issued"
	case BookReturned:
		return "book_returned"
	case UserRegistered:
		return "user_registered"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to observers. ISBN is set for the four
// book events, UserID for issue, return and registration.
type Event struct {
	Kind   EventKind
	ISBN   string
	UserID string
}

// Observer receives catalog events synchronously, in registration order,
// on the goroutine that performed the mutation.
type Observer interface {
	Notify(Event)
}
