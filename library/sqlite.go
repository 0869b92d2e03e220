package library

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dateLayout is how issue dates are stored: date-only ISO-8601 text.
const dateLayout = "2006-01-02"

// sqliteStore holds the shared SQLite connection and prepared statements
// for the three repositories built on it.
type sqliteStore struct {
	db *sql.DB

	upsertBookStmt *sql.Stmt
	upsertUserStmt *sql.Stmt
}

// OpenSQLite opens (or creates) the SQLite database at dbPath, applies
// schema migrations, and returns the repository bundle backed by it.
func OpenSQLite(dbPath string) (*Repositories, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &sqliteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		Books:  &sqliteBooks{store},
		Users:  &sqliteUsers{store},
		Loans:  &sqliteLoans{store},
		closer: store.close,
	}, nil
}

func (s *sqliteStore) close() error {
	if s.upsertBookStmt != nil {
		s.upsertBookStmt.Close()
	}
	if s.upsertUserStmt != nil {
		s.upsertUserStmt.Close()
	}
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            isbn TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            year INTEGER NOT NULL DEFAULT 0,
            genre TEXT NOT NULL DEFAULT '',
            available BOOLEAN NOT NULL DEFAULT 1,
            issued_to TEXT,
            issue_date TEXT,
            times_issued INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            user_id TEXT PRIMARY KEY,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            email TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS issued_books (
            user_id TEXT NOT NULL REFERENCES users(user_id),
            isbn TEXT NOT NULL REFERENCES books(isbn)
        );`,
		// One outstanding loan per book, enforced at the store.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_issued_books_isbn ON issued_books(isbn);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (s *sqliteStore) prepareStatements() error {
	var err error
	if s.upsertBookStmt, err = s.db.Prepare(`
        INSERT INTO books(isbn,title,author,year,genre,available,issued_to,issue_date,times_issued)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(isbn) DO UPDATE SET
            title=excluded.title,
            author=excluded.author,
            year=excluded.year,
            genre=excluded.genre,
            available=excluded.available,
            issued_to=excluded.issued_to,
            issue_date=excluded.issue_date,
            times_issued=excluded.times_issued;`); err != nil {
		return err
	}
	if s.upsertUserStmt, err = s.db.Prepare(`
        INSERT INTO users(user_id,first_name,last_name,email)
        VALUES(?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET
            first_name=excluded.first_name,
            last_name=excluded.last_name,
            email=excluded.email;`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Book repository
// ---------------------------------------------------------------------------

type sqliteBooks struct {
	*sqliteStore
}

func (r *sqliteBooks) Add(b *Book) error {
	var issuedTo, issueDate sql.NullString
	if b.IssuedTo != "" {
		issuedTo = sql.NullString{String: b.IssuedTo, Valid: true}
	}
	if b.IssueDate != nil {
		issueDate = sql.NullString{String: b.IssueDate.Format(dateLayout), Valid: true}
	}
	if _, err := r.upsertBookStmt.Exec(
		b.ISBN, b.Title, b.Author, b.Year, b.Genre, b.Available,
		issuedTo, issueDate, b.TimesIssued,
	); err != nil {
		slog.Error("upsert book failed", "isbn", b.ISBN, "err", err)
		return fmt.Errorf("upsert book %s: %w", b.ISBN, err)
	}
	slog.Debug("upserted book", "isbn", b.ISBN)
	return nil
}

// Update is the same upsert as Add.
func (r *sqliteBooks) Update(b *Book) error { return r.Add(b) }

func (r *sqliteBooks) Get(isbn string) (*Book, error) {
	row := r.db.QueryRow(`
        SELECT isbn,title,author,year,genre,available,issued_to,issue_date,times_issued
        FROM books WHERE isbn=?`, isbn)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("book not found", "isbn", isbn)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", isbn, err)
	}
	return b, nil
}

func (r *sqliteBooks) Delete(isbn string) error {
	// No error if absent.
	if _, err := r.db.Exec(`DELETE FROM books WHERE isbn=?`, isbn); err != nil {
		slog.Error("delete book failed", "isbn", isbn, "err", err)
		return fmt.Errorf("delete book %s: %w", isbn, err)
	}
	slog.Debug("deleted book", "isbn", isbn)
	return nil
}

func (r *sqliteBooks) ListAll() ([]*Book, error) {
	rows, err := r.db.Query(`
        SELECT isbn,title,author,year,genre,available,issued_to,issue_date,times_issued
        FROM books`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var b Book
	var issuedTo, issueDate sql.NullString
	if err := row.Scan(
		&b.ISBN, &b.Title, &b.Author, &b.Year, &b.Genre, &b.Available,
		&issuedTo, &issueDate, &b.TimesIssued,
	); err != nil {
		return nil, err
	}
	b.IssuedTo = issuedTo.String
	if issueDate.Valid {
		d, err := time.Parse(dateLayout, strings.TrimSpace(issueDate.String))
		if err != nil {
			return nil, fmt.Errorf("parse issue date %q: %w", issueDate.String, err)
		}
		b.IssueDate = &d
	}
	return &b, nil
}

// ---------------------------------------------------------------------------
// User repository
// ---------------------------------------------------------------------------

type sqliteUsers struct {
	*sqliteStore
}

func (r *sqliteUsers) Add(u *User) error {
	if _, err := r.upsertUserStmt.Exec(u.UserID, u.FirstName, u.LastName, u.Email); err != nil {
		slog.Error("upsert user failed", "user_id", u.UserID, "err", err)
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	slog.Debug("upserted user", "user_id", u.UserID)
	return nil
}

func (r *sqliteUsers) Get(userID string) (*User, error) {
	var u User
	err := r.db.QueryRow(`SELECT user_id,first_name,last_name,email FROM users WHERE user_id=?`, userID).
		Scan(&u.UserID, &u.FirstName, &u.LastName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("user not found", "user_id", userID)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

func (r *sqliteUsers) ListAll() ([]*User, error) {
	rows, err := r.db.Query(`SELECT user_id,first_name,last_name,email FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.FirstName, &u.LastName, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ---------------------------------------------------------------------------
// Loan repository
// ---------------------------------------------------------------------------

type sqliteLoans struct {
	*sqliteStore
}

// Issue records the loan and flips the book's availability in one
// transaction. The availability check runs inside the transaction so a
// racing issue on the same ISBN fails with ErrBookUnavailable instead of
// stacking a second loan.
func (r *sqliteLoans) Issue(isbn, userID string, date time.Time) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var avail bool
	err = tx.QueryRow(`SELECT available FROM books WHERE isbn=?`, isbn).Scan(&avail)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("issue book %s: %w", isbn, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("issue book %s: %w", isbn, err)
	}
	if !avail {
		return fmt.Errorf("issue book %s: %w", isbn, ErrBookUnavailable)
	}

	if _, err := tx.Exec(`INSERT INTO issued_books(user_id,isbn) VALUES(?,?)`, userID, isbn); err != nil {
		// The unique index on isbn backs up the availability check.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("issue book %s: %w", isbn, ErrBookUnavailable)
		}
		return fmt.Errorf("issue book %s: %w", isbn, err)
	}
	if _, err := tx.Exec(
		`UPDATE books SET available=0, issued_to=?, issue_date=? WHERE isbn=?`,
		userID, date.Format(dateLayout), isbn,
	); err != nil {
		return fmt.Errorf("issue book %s: %w", isbn, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("issue book %s: %w", isbn, err)
	}
	slog.Debug("issued book", "isbn", isbn, "user_id", userID)
	return nil
}

// Return removes any matching loan pairs and restores availability. It
// succeeds even when no loan existed.
func (r *sqliteLoans) Return(isbn, userID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM issued_books WHERE user_id=? AND isbn=?`, userID, isbn); err != nil {
		return fmt.Errorf("return book %s: %w", isbn, err)
	}
	if _, err := tx.Exec(
		`UPDATE books SET available=1, issued_to=NULL, issue_date=NULL WHERE isbn=?`, isbn,
	); err != nil {
		return fmt.Errorf("return book %s: %w", isbn, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("return book %s: %w", isbn, err)
	}
	slog.Debug("returned book", "isbn", isbn, "user_id", userID)
	return nil
}

func (r *sqliteLoans) ListIssued() ([]string, error) {
	rows, err := r.db.Query(`SELECT isbn FROM issued_books`)
	if err != nil {
		return nil, fmt.Errorf("list issued: %w", err)
	}
	defer rows.Close()

	var isbns []string
	for rows.Next() {
		var isbn string
		if err := rows.Scan(&isbn); err != nil {
			return nil, fmt.Errorf("scan issued isbn: %w", err)
		}
		isbns = append(isbns, isbn)
	}
	return isbns, rows.Err()
}
