package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/config"
	"github.com/BaSui01/standforge/internal/history"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 📚 历史记录命令
// =============================================================================

// runHistory 处理 history 命令及其子命令
func runHistory(args []string) {
	if err := historyCommand(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "History command failed: %v\n", err)
		os.Exit(1)
	}
}

func historyCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		printHistoryUsage(out)
		return fmt.Errorf("missing history subcommand")
	}

	fs := flag.NewFlagSet("history "+args[0], flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")

	switch args[0] {
	case "list":
		limit := fs.Int("limit", 0, "Maximum number of records (0 = all)")
		asJSON := fs.Bool("json", false, "Print records as JSON lines")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return withHistory(ctx, *configPath, func(store history.Store) error {
			return listHistory(ctx, store, *limit, *asJSON, out)
		})
	case "import":
		file := fs.String("file", "", "Legacy history export (JSON)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("--file is required")
		}
		return withHistory(ctx, *configPath, func(store history.Store) error {
			return importHistory(ctx, store, *file, out)
		})
	case "clear":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return withHistory(ctx, *configPath, func(store history.Store) error {
			if err := store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "History cleared.")
			return nil
		})
	case "help", "-h", "--help":
		printHistoryUsage(out)
		return nil
	default:
		printHistoryUsage(out)
		return fmt.Errorf("unknown history subcommand: %s", args[0])
	}
}

// withHistory 按配置打开历史存储，执行 fn 后关闭
func withHistory(ctx context.Context, configPath string, fn func(history.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return withHistoryConfig(ctx, cfg, initLogger(cfg.Log), fn)
}

func withHistoryConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(history.Store) error) error {
	store, err := history.Open(ctx, cfg, nil, logger.With(zap.String("command", "history")))
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history backend is %q; nothing to do", cfg.History.Backend)
	}
	defer store.Close()

	return fn(store)
}

func listHistory(ctx context.Context, store history.Store, limit int, asJSON bool, out io.Writer) error {
	items, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		for _, item := range items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tABILITY\tUSER\tIMAGE\tCREATED")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.Name,
			item.AbilityName,
			item.UserName,
			imageState(item),
			item.Timestamp.Local().Format(time.DateTime),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d record(s)\n", len(items))
	return nil
}

func importHistory(ctx context.Context, store history.Store, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	items, err := history.DecodeLegacyExport(f)
	if err != nil {
		return err
	}
	n, err := history.Import(ctx, store, items)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %d of %d record(s).\n", n, len(items))
	return nil
}

func printHistoryUsage(out io.Writer) {
	fmt.Fprintln(out, `History Commands

Usage:
  standforge history <subcommand> [options]

Subcommands:
  list     List saved stands, newest first (--limit n, --json)
  import   Import a legacy browser history export (--file path)
  clear    Delete every saved stand

Options:
  --config <path>   Path to configuration file (YAML)`)
}

// imageState 图像一栏的简写
func imageState(item types.MergedArtifact) string {
	switch {
	case item.Image.IsFailed():
		return "failed"
	case item.Image.IsPending():
		return "pending"
	default:
		return "ok"
	}
}
