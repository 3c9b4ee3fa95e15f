package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/internal/migration"
)

// =============================================================================
// 🗃️ 数据库迁移命令
// =============================================================================

// migrateCommand 一个迁移子命令；positional 为 flag 之前的位置参数个数
type migrateCommand struct {
	positional int
	run        func(ctx context.Context, cli *migration.CLI, args []string) error
}

var migrateCommands = map[string]migrateCommand{
	"up": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunUp(ctx)
	}},
	"down": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDown(ctx)
	}},
	"reset": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDownAll(ctx)
	}},
	"status": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunStatus(ctx)
	}},
	"version": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunVersion(ctx)
	}},
	"info": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunInfo(ctx)
	}},
	"steps": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count: %s", args[0])
		}
		return cli.RunSteps(ctx, n)
	}},
	"goto": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		return cli.RunGoto(ctx, uint(v))
	}},
	"force": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, args []string) error {
		v, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		return cli.RunForce(ctx, int(v))
	}},
}

// runMigrate 处理 migrate 命令及其子命令
func runMigrate(args []string) {
	if err := migrate(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage(out)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate subcommand")
		}
		return nil
	}

	cmd, ok := migrateCommands[args[0]]
	if !ok {
		printMigrateUsage(out)
		return fmt.Errorf("unknown migrate subcommand: %s", args[0])
	}
	rest := args[1:]
	if len(rest) < cmd.positional {
		return fmt.Errorf("usage: standforge migrate %s <value>", args[0])
	}
	positional, flags := rest[:cmd.positional], rest[cmd.positional:]

	migrator, err := createMigrator(args[0], flags)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)
	return cmd.run(ctx, cli, positional)
}

// createMigrator 从命令行参数或配置文件创建迁移器
func createMigrator(name string, args []string) (*migration.DefaultMigrator, error) {
	fs := flag.NewFlagSet("migrate "+name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// 同时给出类型与 URL 时直接使用
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	logger := initLogger(cfg.Log)
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger.With(zap.String("command", "migrate")))
}

// printMigrateUsage 打印 migrate 命令帮助
func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  standforge migrate <subcommand> [value] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  standforge migrate up
  standforge migrate status --config /etc/standforge/config.yaml
  standforge migrate goto 1 --db-type sqlite --db-url sqlite://standforge.db`)
}
