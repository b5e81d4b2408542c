package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate action")
		}
		return nil
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		return err
	}

	// migrations manage the schema, so skip NewDB's automatic upgrade
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	case "status":
		version, dirty, err := database.MigrateVersion(migrations)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		latest, err := LatestMigrationVersion(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "=== Migration Status ===")
		fmt.Fprintf(out, "Current version: %d\n", version)
		fmt.Fprintf(out, "Latest version: %d\n", latest)
		fmt.Fprintf(out, "Dirty: %v\n", dirty)
		if dirty {
			fmt.Fprintln(out, "\nA migration failed mid-execution. Inspect the database, then run:")
			fmt.Fprintln(out, "  passthrough migrate force <version>")
		}
		return nil

	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: passthrough migrate %s <version_number>", action)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "version" {
			err = database.MigrateTo(migrations, uint(n))
		} else {
			err = database.MigrateForce(migrations, n)
		}
		if err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(out io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database now at version %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: passthrough migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show current and latest schema version
  version <n>        Migrate up or down to version n
  force <n>          Set the version without running migrations (recovery only)
  help               Show this message
`)
}
