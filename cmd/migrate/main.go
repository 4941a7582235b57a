package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir DIR] <command> [arg]

commands:
  up              apply every pending migration
  down            roll back the latest migration
  status          list migrations and when they were applied
  to VERSION      migrate up or down to VERSION (YYYYMMDDHHMMSS)
  create NAME     write a new SQL migration skeleton
  validate        check file names and goose markers`

var errUsage = errors.New("invalid arguments")

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	_ = godotenv.Load()

	command, arg := flag.Arg(0), flag.Arg(1)
	err := runOffline(command, arg, *dir)
	if errors.Is(err, errNeedsDatabase) {
		err = runOnline(command, arg, *dir)
	}
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n%s\n", err, usage)
		os.Exit(2)
	case err != nil:
		os.Exit(1)
	}
}

var errNeedsDatabase = errors.New("needs database")

// runOffline handles commands that only touch the migrations directory.
func runOffline(command, arg, dir string) error {
	switch command {
	case "create":
		if arg == "" {
			return fmt.Errorf("%w: create needs a NAME", errUsage)
		}
		path, err := migrate.CreateSQLMigration(dir, arg, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, "create migration:", err)
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			fmt.Fprintln(os.Stderr, "validation failed:", err)
			return err
		}
		fmt.Println("migrations valid")
		return nil
	case "to":
		if arg == "" {
			return fmt.Errorf("%w: to needs a VERSION", errUsage)
		}
		return errNeedsDatabase
	case "up", "down", "status":
		return errNeedsDatabase
	case "":
		return fmt.Errorf("%w: missing command", errUsage)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func runOnline(command, arg, dir string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": command,
		"dir": dir,
	})

	runner, closeDB, err := openRunner(ctx, cfg, logg, dir)
	if err != nil {
		logg.Error(ctx, "migrate.setup_failed", err)
		return err
	}
	defer closeDB()

	switch command {
	case "up":
		var applied int
		applied, err = runner.Up(ctx)
		ctx = logg.WithField(ctx, "applied", applied)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = printStatus(ctx, runner)
	case "to":
		err = runner.To(ctx, arg)
	}
	if err != nil {
		logg.Error(ctx, "migrate.command_failed", err)
		return err
	}
	logg.Info(ctx, "migrate.command_finished")
	return nil
}

func openRunner(ctx context.Context, cfg *config.Config, logg *logger.Logger, dir string) (*migrate.Runner, func(), error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closeDB := func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, dir)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("load migrations: %w", err)
	}
	return runner, closeDB, nil
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	states, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
	for _, st := range states {
		applied := "pending"
		if st.Applied {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", st.Version, applied, st.Path)
	}
	return w.Flush()
}
