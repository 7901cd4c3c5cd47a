package cli

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Migrator applies the database schema.
type Migrator func(ctx context.Context) error

// MigrateCommand applies the schema and reports the outcome.
func MigrateCommand(ctx context.Context, migrate Migrator, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := migrate(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "migrate: schema up to date")
	return 0
}
