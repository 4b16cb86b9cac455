package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/techinfoplus/tip-erp/internal/platform/db"
)

// MigrateOptions holds the arguments of the migrate command.
type MigrateOptions struct {
	DSN    string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer

	// Apply and Version default to the embedded schema migrations.
	Apply   func(dsn, direction string, steps int) error
	Version func(dsn string) (uint, bool, error)
}

// MigrateCommand runs "migrate up|down [steps]" or "migrate version" and
// returns the process exit code.
func MigrateCommand(opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Apply == nil {
		opts.Apply = db.Migrate
	}
	if opts.Version == nil {
		opts.Version = db.MigrationVersion
	}
	if len(opts.Args) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "usage: tip migrate up|down [steps] | version")
		return 2
	}

	direction := opts.Args[0]
	switch direction {
	case "version":
		version, dirty, err := opts.Version(opts.DSN)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "migrate version: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "version %d dirty=%t\n", version, dirty)
		return 0
	case "up", "down":
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: unknown direction %q\n", direction)
		return 2
	}

	steps := 0
	if len(opts.Args) > 1 {
		n, err := strconv.Atoi(opts.Args[1])
		if err != nil || n < 0 {
			_, _ = fmt.Fprintf(opts.Stderr, "migrate: invalid steps %q\n", opts.Args[1])
			return 2
		}
		steps = n
	}
	// Reverting everything needs an explicit step count.
	if direction == "down" && steps == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "migrate down: steps required")
		return 2
	}
	if err := opts.Apply(opts.DSN, direction, steps); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate %s: %v\n", direction, err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "migrate %s: ok\n", direction)
	return 0
}
