package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand executes a `migrate` subcommand against dbPath and
// writes human-readable output to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return errors.New("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	needArg := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("usage: presence migrate %s <version>", action)
		}
		return args[1], nil
	}

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
	case "to":
		arg, err := needArg()
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", arg)
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
	case "force":
		arg, err := needArg()
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", arg)
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (latest %d, dirty: %v)\n", version, latest, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-run; inspect the database, then run: presence migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: presence migrate <command>

Commands:
  up          Apply all pending migrations
  down        Roll back one migration
  status      Show the current version
  to <N>      Migrate up or down to version N
  force <N>   Set the recorded version to N (recovery only)
  help        Show this help
`)
}
