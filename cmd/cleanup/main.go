package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
)

// Dev utility: drops the warden tables entirely so the next migrate
// starts from a clean slate. Truncation (cmd/clean-db) is usually what
// you want; this is for schema changes during development.
func main() {
	url := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: cleanup <connection-string> (or set DATABASE_URL)")
		os.Exit(1)
	}

	conn, err := pgx.Connect(context.Background(), url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(context.Background(), "DROP TABLE IF EXISTS role_changes CASCADE; DROP TABLE IF EXISTS admins CASCADE;")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Drop table failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Dropped role_changes and admins tables successfully.")
}
