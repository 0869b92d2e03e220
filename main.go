package main

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"library-catalog/library"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

type config struct {
	dbPath    string
	backend   string
	adminHash string
	logLevel  string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "library-catalog",
		Short: "Manage a small catalog of books, users and loans",
		Long: "library-catalog tracks books, users and loans in a SQLite database.\n" +
			"Run without a subcommand for the interactive shell, or use the\n" +
			"subcommands for one-shot scripted operations.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cfg.logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.dbPath, "db", envOr("DB_PATH", "library.db"), "path to the SQLite database file")
	pf.StringVar(&cfg.backend, "backend", envOr("STORAGE_BACKEND", "sqlite"), "storage backend: sqlite or memory")
	pf.StringVar(&cfg.adminHash, "admin-hash", os.Getenv("ADMIN_HASH"), "bcrypt hash gating destructive shell commands")
	pf.StringVar(&cfg.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn or error")

	root.AddCommand(
		newAddBookCmd(cfg),
		newRemoveBookCmd(cfg),
		newRegisterUserCmd(cfg),
		newIssueCmd(cfg),
		newReturnCmd(cfg),
		newSearchCmd(cfg),
		newOverdueCmd(cfg),
		newListBooksCmd(cfg),
		newListUsersCmd(cfg),
	)
	return root
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// withService opens the configured backend, runs fn against a service on
// top of it, and closes the backend afterwards.
func withService(cfg *config, fn func(svc *library.Service) error) error {
	repos, err := library.Open(cfg.backend, cfg.dbPath)
	if err != nil {
		return err
	}
	defer repos.Close()
	return fn(library.NewService(repos))
}

// ---------------------------------------------------------------------------
// One-shot subcommands
// ---------------------------------------------------------------------------

func newAddBookCmd(cfg *config) *cobra.Command {
	var b library.Book
	cmd := &cobra.Command{
		Use:   "add-book",
		Short: "Add or overwrite a book by ISBN",
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Available = true
			return withService(cfg, func(svc *library.Service) error {
				if err := svc.AddBook(&b); err != nil {
					return err
				}
				fmt.Printf("Added %q (%s)\n", b.Title, b.ISBN)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&b.ISBN, "isbn", "", "ISBN (the catalog key)")
	cmd.Flags().StringVar(&b.Title, "title", "", "book title")
	cmd.Flags().StringVar(&b.Author, "author", "", "book author")
	cmd.Flags().IntVar(&b.Year, "year", 0, "publication year")
	cmd.Flags().StringVar(&b.Genre, "genre", "", "genre")
	cmd.MarkFlagRequired("isbn")
	return cmd
}

func newRemoveBookCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-book <isbn>",
		Short: "Delete a book by ISBN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				if err := svc.RemoveBook(args[0]); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newRegisterUserCmd(cfg *config) *cobra.Command {
	var u library.User
	cmd := &cobra.Command{
		Use:   "register-user",
		Short: "Register or overwrite a user by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				if err := svc.RegisterUser(&u); err != nil {
					return err
				}
				fmt.Printf("Registered %s\n", u.UserID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&u.UserID, "id", "", "user ID (the catalog key)")
	cmd.Flags().StringVar(&u.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&u.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&u.Email, "email", "", "email address")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newIssueCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <isbn> <user-id>",
		Short: "Issue a book to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				ok, err := svc.IssueBook(args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("Cannot issue %s: book or user unknown, or book already issued\n", args[0])
					return nil
				}
				fmt.Printf("Issued %s to %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newReturnCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "return <isbn> <user-id>",
		Short: "Return a book from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				if _, err := svc.ReturnBook(args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Returned %s\n", args[0])
				return nil
			})
		},
	}
}

func newSearchCmd(cfg *config) *cobra.Command {
	var q library.SearchQuery
	var year int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the catalog; text criteria match case-insensitive substrings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("year") {
				q.Year = &year
			}
			return withService(cfg, func(svc *library.Service) error {
				books, err := svc.SearchBooks(q)
				if err != nil {
					return err
				}
				printBookList(books)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Title, "title", "", "title contains")
	cmd.Flags().StringVar(&q.Author, "author", "", "author contains")
	cmd.Flags().StringVar(&q.Genre, "genre", "", "genre contains")
	cmd.Flags().StringVar(&q.ISBN, "isbn", "", "ISBN contains")
	cmd.Flags().IntVar(&year, "year", 0, "publication year (exact)")
	return cmd
}

func newOverdueCmd(cfg *config) *cobra.Command {
	var maxDays int
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List ISBNs of overdue loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				return printOverdue(svc, maxDays)
			})
		},
	}
	cmd.Flags().IntVar(&maxDays, "max-days", library.DefaultMaxLoanDays, "loan length after which a book is overdue")
	return cmd
}

func newListBooksCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "list-books",
		Short: "List every book in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				books, err := svc.ListBooks()
				if err != nil {
					return err
				}
				printBookList(books)
				return nil
			})
		},
	}
}

func newListUsersCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List every registered user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(svc *library.Service) error {
				users, err := svc.ListUsers()
				if err != nil {
					return err
				}
				printUserList(users)
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// Interactive shell
// ---------------------------------------------------------------------------

// bookListView re-renders the book list whenever the catalog changes.
// Only the four book events trigger a re-list; user registration does not.
type bookListView struct {
	svc *library.Service
}

func (v *bookListView) Notify(e library.Event) {
	switch e.Kind {
	case library.BookAdded, library.BookRemoved, library.BookIssued, library.BookReturned:
		fmt.Println()
		listBooks(v.svc)
	}
}

func runShell(cfg *config) error {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return fmt.Errorf("interactive shell needs a terminal; use the subcommands for scripting")
	}

	repos, err := library.Open(cfg.backend, cfg.dbPath)
	if err != nil {
		return err
	}
	defer repos.Close()

	svc := library.NewService(repos)
	svc.RegisterObserver(&bookListView{svc: svc})

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Welcome to the library catalog!")
	fmt.Println("Available commands:")
	fmt.Println("  Books: add book, remove book, list books, search book")
	fmt.Println("  Users: register user, list users")
	fmt.Println("  Circulation: issue, return, overdue")
	fmt.Println("  System: exit")

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		cmd := strings.TrimSpace(scanner.Text())

		switch cmd {
		case "add book":
			handleAddBook(scanner, svc)
		case "remove book":
			handleRemoveBook(scanner, svc, cfg.adminHash)
		case "list books":
			listBooks(svc)
		case "search book":
			handleSearchBooks(scanner, svc)
		case "register user":
			handleRegisterUser(scanner, svc)
		case "list users":
			listUsers(svc)
		case "issue":
			handleIssue(scanner, svc)
		case "return":
			handleReturn(scanner, svc)
		case "overdue":
			if err := printOverdue(svc, library.DefaultMaxLoanDays); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case "exit":
			fmt.Println("Goodbye!")
			return nil
		case "":
			// Just re-prompt.
		default:
			fmt.Println("Unknown command. Type one of the available commands listed above.")
		}
	}
	return nil
}

func promptLine(sc *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

// readPassword prompts for a masked password and hands the raw bytes to
// the caller for the bcrypt comparison.
func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return bytes.TrimSpace(password), nil
}

// requireAdmin verifies the admin password against the configured bcrypt
// hash. An empty hash leaves the gate open.
func requireAdmin(adminHash string) bool {
	if adminHash == "" {
		return true
	}
	password, err := readPassword("Admin password: ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(adminHash), password); err != nil {
		fmt.Println("Wrong password.")
		return false
	}
	return true
}

func handleAddBook(sc *bufio.Scanner, svc *library.Service) {
	isbn, ok := promptLine(sc, "ISBN: ")
	if !ok {
		return
	}
	title, ok := promptLine(sc, "Title: ")
	if !ok {
		return
	}
	author, ok := promptLine(sc, "Author: ")
	if !ok {
		return
	}
	yearText, ok := promptLine(sc, "Year: ")
	if !ok {
		return
	}
	genre, ok := promptLine(sc, "Genre: ")
	if !ok {
		return
	}

	year := 0
	if yearText != "" {
		var err error
		if year, err = strconv.Atoi(yearText); err != nil {
			fmt.Println("Year must be a number.")
			return
		}
	}

	b := &library.Book{ISBN: isbn, Title: title, Author: author, Year: year, Genre: genre, Available: true}
	if err := svc.AddBook(b); err != nil {
		fmt.Printf("Error adding book: %v\n", err)
	}
}

func handleRemoveBook(sc *bufio.Scanner, svc *library.Service, adminHash string) {
	if !requireAdmin(adminHash) {
		return
	}
	isbn, ok := promptLine(sc, "ISBN: ")
	if !ok {
		return
	}
	if err := svc.RemoveBook(isbn); err != nil {
		fmt.Printf("Error removing book: %v\n", err)
	}
}

func handleRegisterUser(sc *bufio.Scanner, svc *library.Service) {
	id, ok := promptLine(sc, "User ID: ")
	if !ok {
		return
	}
	first, ok := promptLine(sc, "First name: ")
	if !ok {
		return
	}
	last, ok := promptLine(sc, "Last name: ")
	if !ok {
		return
	}
	email, ok := promptLine(sc, "Email: ")
	if !ok {
		return
	}

	u := &library.User{UserID: id, FirstName: first, LastName: last, Email: email}
	if err := svc.RegisterUser(u); err != nil {
		fmt.Printf("Error registering user: %v\n", err)
		return
	}
	fmt.Printf("Registered %s\n", id)
}

func handleSearchBooks(sc *bufio.Scanner, svc *library.Service) {
	var q library.SearchQuery
	var ok bool
	if q.Title, ok = promptLine(sc, "Title (blank to skip): "); !ok {
		return
	}
	if q.Author, ok = promptLine(sc, "Author (blank to skip): "); !ok {
		return
	}
	if q.Genre, ok = promptLine(sc, "Genre (blank to skip): "); !ok {
		return
	}
	if q.ISBN, ok = promptLine(sc, "ISBN (blank to skip): "); !ok {
		return
	}
	yearText, ok := promptLine(sc, "Year (blank to skip): ")
	if !ok {
		return
	}
	if yearText != "" {
		year, err := strconv.Atoi(yearText)
		if err != nil {
			fmt.Println("Year must be a number.")
			return
		}
		q.Year = &year
	}

	books, err := svc.SearchBooks(q)
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		return
	}
	printBookList(books)
}

func handleIssue(sc *bufio.Scanner, svc *library.Service) {
	isbn, ok := promptLine(sc, "ISBN: ")
	if !ok {
		return
	}
	userID, ok := promptLine(sc, "User ID: ")
	if !ok {
		return
	}

	issued, err := svc.IssueBook(isbn, userID)
	if err != nil {
		fmt.Printf("Error issuing book: %v\n", err)
		return
	}
	if !issued {
		fmt.Println("Cannot issue: book or user unknown, or book already issued.")
	}
}

func handleReturn(sc *bufio.Scanner, svc *library.Service) {
	isbn, ok := promptLine(sc, "ISBN: ")
	if !ok {
		return
	}
	userID, ok := promptLine(sc, "User ID: ")
	if !ok {
		return
	}

	if _, err := svc.ReturnBook(isbn, userID); err != nil {
		fmt.Printf("Error returning book: %v\n", err)
	}
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func listBooks(svc *library.Service) {
	books, err := svc.ListBooks()
	if err != nil {
		fmt.Printf("Error listing books: %v\n", err)
		return
	}
	printBookList(books)
}

func listUsers(svc *library.Service) {
	users, err := svc.ListUsers()
	if err != nil {
		fmt.Printf("Error listing users: %v\n", err)
		return
	}
	printUserList(users)
}

func printBookList(books []*library.Book) {
	if len(books) == 0 {
		fmt.Println("No books.")
		return
	}
	fmt.Printf("%-15s %-30s %-25s %-6s %-15s %s\n", "ISBN", "TITLE", "AUTHOR", "YEAR", "GENRE", "STATUS")
	for _, b := range books {
		status := "available"
		if !b.Available {
			status = fmt.Sprintf("issued to %s", b.IssuedTo)
		}
		fmt.Printf("%-15s %-30s %-25s %-6d %-15s %s\n", b.ISBN, b.Title, b.Author, b.Year, b.Genre, status)
	}
}

func printUserList(users []*library.User) {
	if len(users) == 0 {
		fmt.Println("No users.")
		return
	}
	fmt.Printf("%-15s %-15s %-15s %s\n", "ID", "FIRST", "LAST", "EMAIL")
	for _, u := range users {
		fmt.Printf("%-15s %-15s %-15s %s\n", u.UserID, u.FirstName, u.LastName, u.Email)
	}
}

func printOverdue(svc *library.Service, maxDays int) error {
	overdue, err := svc.ListOverdue(maxDays)
	if err != nil {
		return err
	}
	if len(overdue) == 0 {
		fmt.Println("No overdue books.")
		return nil
	}
	for _, isbn := range overdue {
		line := fmt.Sprintf("[OVERDUE] %s", isbn)
		if b, err := svc.GetBook(isbn); err == nil {
			line = fmt.Sprintf("[OVERDUE] %s - %s (issued to %s)", b.Title, isbn, b.IssuedTo)
		}
		fmt.Println(line)
	}
	return nil
}
