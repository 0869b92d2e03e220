package library

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempSQLite(t *testing.T) *Repositories {
	t.Helper()
	repos, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repos.Close() })
	return repos
}

// backends returns a fresh bundle per storage backend so every contract
// test runs against both.
func backends(t *testing.T) map[string]*Repositories {
	t.Helper()
	return map[string]*Repositories{
		"sqlite": tempSQLite(t),
		"memory": OpenMemory(),
	}
}

func TestBookUpsertOverwrites(t *testing.T) {
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := repos.Books.Add(&Book{ISBN: "I1", Title: "A", Author: "X", Available: true}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := repos.Books.Add(&Book{ISBN: "I1", Title: "B", Author: "Y", Available: true}); err != nil {
				t.Fatalf("re-add: %v", err)
			}

			b, err := repos.Books.Get("I1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if b.Title != "B" || b.Author != "Y" {
				t.Fatalf("want latest values, got %q by %q", b.Title, b.Author)
			}

			all, err := repos.Books.ListAll()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("want 1 record after upsert, got %d", len(all))
			}
		})
	}
}

func TestGetMissingBook(t *testing.T) {
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := repos.Books.Get("NOISBN"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDeleteAbsentBookNoError(t *testing.T) {
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := repos.Books.Delete("NOISBN"); err != nil {
				t.Fatalf("delete absent: %v", err)
			}
		})
	}
}

func TestBookFieldsRoundTrip(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := &Book{ISBN: "I2", Title: "T", Author: "A", Year: 2001, Genre: "G", Available: true}
			if err := repos.Books.Add(b); err != nil {
				t.Fatalf("add: %v", err)
			}

			b.Available = false
			b.IssuedTo = "U1"
			b.IssueDate = &issued
			b.TimesIssued = 7
			if err := repos.Books.Update(b); err != nil {
				t.Fatalf("update: %v", err)
			}

			got, err := repos.Books.Get("I2")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Available || got.IssuedTo != "U1" || got.TimesIssued != 7 {
				t.Fatalf("loan fields not persisted: %+v", got)
			}
			if got.IssueDate == nil || !got.IssueDate.Equal(issued) {
				t.Fatalf("issue date mismatch: %v", got.IssueDate)
			}
			if got.Year != 2001 || got.Genre != "G" {
				t.Fatalf("metadata mismatch: %+v", got)
			}
		})
	}
}

func TestUserUpsertAndList(t *testing.T) {
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := repos.Users.Add(&User{UserID: "U1", FirstName: "Ann", LastName: "Lee", Email: "a@x"}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := repos.Users.Add(&User{UserID: "U1", FirstName: "Anna", LastName: "Lee", Email: "a@y"}); err != nil {
				t.Fatalf("re-add: %v", err)
			}

			u, err := repos.Users.Get("U1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if u.FirstName != "Anna" || u.Email != "a@y" {
				t.Fatalf("want latest values, got %+v", u)
			}

			if _, err := repos.Users.Get("U2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}

			all, err := repos.Users.ListAll()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("want 1 user, got %d", len(all))
			}
		})
	}
}

func TestIssueMarksBookUnavailable(t *testing.T) {
	date := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repos.Books.Add(&Book{ISBN: "I3", Title: "T", Author: "A", Available: true})
			repos.Users.Add(&User{UserID: "U1", FirstName: "Ann", LastName: "Lee", Email: "a@x"})

			if err := repos.Loans.Issue("I3", "U1", date); err != nil {
				t.Fatalf("issue: %v", err)
			}

			b, _ := repos.Books.Get("I3")
			if b.Available || b.IssuedTo != "U1" || b.IssueDate == nil {
				t.Fatalf("loan not mirrored onto book: %+v", b)
			}

			issued, err := repos.Loans.ListIssued()
			if err != nil {
				t.Fatalf("list issued: %v", err)
			}
			if len(issued) != 1 || issued[0] != "I3" {
				t.Fatalf("want [I3], got %v", issued)
			}
		})
	}
}

func TestDoubleIssueRejected(t *testing.T) {
	date := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repos.Books.Add(&Book{ISBN: "I4", Title: "T", Author: "A", Available: true})
			repos.Users.Add(&User{UserID: "U1", FirstName: "Ann", LastName: "Lee", Email: "a@x"})
			repos.Users.Add(&User{UserID: "U2", FirstName: "Bob", LastName: "Roy", Email: "b@x"})

			if err := repos.Loans.Issue("I4", "U1", date); err != nil {
				t.Fatalf("first issue: %v", err)
			}
			if err := repos.Loans.Issue("I4", "U2", date); !errors.Is(err, ErrBookUnavailable) {
				t.Fatalf("want ErrBookUnavailable, got %v", err)
			}

			issued, _ := repos.Loans.ListIssued()
			if len(issued) != 1 {
				t.Fatalf("want a single outstanding loan, got %v", issued)
			}
			b, _ := repos.Books.Get("I4")
			if b.IssuedTo != "U1" {
				t.Fatalf("losing issue must not change the borrower, got %q", b.IssuedTo)
			}
		})
	}
}

func TestIssueUnknownBook(t *testing.T) {
	date := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := repos.Loans.Issue("NOISBN", "U1", date); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestReturnClearsLoan(t *testing.T) {
	date := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repos.Books.Add(&Book{ISBN: "I5", Title: "T", Author: "A", Available: true})
			repos.Users.Add(&User{UserID: "U1", FirstName: "Ann", LastName: "Lee", Email: "a@x"})
			repos.Loans.Issue("I5", "U1", date)

			if err := repos.Loans.Return("I5", "U1"); err != nil {
				t.Fatalf("return: %v", err)
			}

			b, _ := repos.Books.Get("I5")
			if !b.Available || b.IssuedTo != "" || b.IssueDate != nil {
				t.Fatalf("loan fields not cleared: %+v", b)
			}
			issued, _ := repos.Loans.ListIssued()
			if len(issued) != 0 {
				t.Fatalf("want no outstanding loans, got %v", issued)
			}
		})
	}
}

func TestReturnWithoutLoan(t *testing.T) {
	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repos.Books.Add(&Book{ISBN: "I6", Title: "T", Author: "A", Available: true})
			if err := repos.Loans.Return("I6", "U1"); err != nil {
				t.Fatalf("return without loan: %v", err)
			}
		})
	}
}

// Overdue counting uses calendar days on every backend: a loan issued late
// on day 0 and checked early on day 31 is 31 days old, even though barely
// 30*24h elapsed. SQLite persists issue dates with date precision, so the
// memory backend must not drift from that.
func TestOverdueCountsCalendarDaysOnEveryBackend(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	checkedAt := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)

	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(repos)
			svc.now = func() time.Time { return issuedAt }

			if err := svc.AddBook(&Book{ISBN: "I1", Title: "T", Author: "A", Available: true}); err != nil {
				t.Fatalf("add book: %v", err)
			}
			if err := svc.RegisterUser(&User{UserID: "U1", FirstName: "Ann", LastName: "Lee", Email: "a@x"}); err != nil {
				t.Fatalf("register user: %v", err)
			}
			ok, err := svc.IssueBook("I1", "U1")
			if err != nil || !ok {
				t.Fatalf("issue: ok=%v err=%v", ok, err)
			}

			svc.now = func() time.Time { return checkedAt }
			overdue, err := svc.ListOverdue(30)
			if err != nil {
				t.Fatalf("list overdue: %v", err)
			}
			if len(overdue) != 1 || overdue[0] != "I1" {
				t.Fatalf("want [I1] overdue after 31 calendar days, got %v", overdue)
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	repos, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	repos.Close()

	repos, err = Open("sqlite", filepath.Join(t.TempDir(), "sel.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repos.Close()

	if _, err := Open("papyrus", ""); err == nil {
		t.Fatalf("want error for unknown backend")
	}
}
