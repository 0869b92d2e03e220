// Command import_catalog bulk-loads book records from a JSON file into the
// catalog. Records go through the service so observers and upsert semantics
// behave exactly as they do in the shell.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"library-catalog/library"
)

func main() {
	catalogFile := "catalog.json"
	if len(os.Args) > 1 {
		catalogFile = os.Args[1]
	}

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", catalogFile, err)
		os.Exit(1)
	}

	var books []library.Book
	if err := json.Unmarshal(data, &books); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", catalogFile, err)
		os.Exit(1)
	}

	repos, err := library.Open(os.Getenv("STORAGE_BACKEND"), dbPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer repos.Close()

	svc := library.NewService(repos)

	fmt.Printf("Importing %d books from %s...\n", len(books), catalogFile)

	successCount := 0
	errorCount := 0
	for i := range books {
		b := &books[i]
		if b.ISBN == "" {
			fmt.Printf("Warning: record %d has no ISBN, skipping\n", i)
			errorCount++
			continue
		}
		// Imported books start available with no loan state.
		b.Available = true
		b.IssuedTo = ""
		b.IssueDate = nil

		fmt.Printf("Importing: %s by %s... ", b.Title, b.Author)
		if err := svc.AddBook(b); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			errorCount++
			continue
		}
		fmt.Println("OK")
		successCount++
	}

	fmt.Printf("Import complete: %d succeeded, %d failed\n", successCount, errorCount)
	if errorCount > 0 {
		os.Exit(1)
	}
}

func dbPath() string {
	if p := os.Getenv("DB_PATH"); p != "" {
		return p
	}
	return "library.db"
}
