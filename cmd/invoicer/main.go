package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/hourlog/invoicer/internal/config"
	"github.com/hourlog/invoicer/internal/invoicer"
	"github.com/hourlog/invoicer/internal/ledger"
	"github.com/hourlog/invoicer/internal/tui"
	"github.com/hourlog/invoicer/internal/watch"
)

var (
	flagConfig     string
	flagRecipients []string
	flagOutput     string
	flagCounter    int
	flagDate       string
	flagStdin      bool
	flagNoLedger   bool
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "invoicer [worklog.csv ...]",
	Short: "Generate LaTeX invoices from CSV worklogs",
	Long: `Invoicer aggregates billable time from CSV worklogs into priced
invoice positions and renders one LaTeX document per recipient.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		iv, cleanup, err := setup(args)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := iv.Generate()
		if err != nil {
			return err
		}
		for _, g := range result.Generated {
			if g.Reused {
				fmt.Printf("%s: unchanged, already issued as %s\n", g.Recipient, g.Number)
				continue
			}
			fmt.Printf("%s: %d positions, total %.2f\n", g.File, g.Positions, g.Total)
		}
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [worklog.csv ...]",
	Short: "Review the billing run in a terminal UI before generating",
	RunE: func(cmd *cobra.Command, args []string) error {
		iv, cleanup, err := setup(args)
		if err != nil {
			return err
		}
		defer cleanup()

		summaries, err := iv.Summaries()
		if err != nil {
			return err
		}
		return tui.Run(summaries, iv.Generate)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch worklog.csv [worklog.csv ...]",
	Short: "Regenerate invoices whenever a worklog file changes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()

		regen := func(trigger string) {
			logger.Info("worklog changed, regenerating", "file", trigger)
			iv, cleanup, err := setup(args)
			if err != nil {
				logger.Warn("regeneration failed", "error", err)
				return
			}
			defer cleanup()
			if _, err := iv.Generate(); err != nil {
				logger.Warn("regeneration failed", "error", err)
			}
		}

		// Generate once up front so the output matches the files on
		// disk before the first change arrives.
		regen(args[0])

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch.Files(ctx, args, logger, regen)
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List issued invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := ledger.OpenAndMigrate()
		if err != nil {
			return err
		}
		defer ledger.Close()

		issued, err := ledger.NewIssuedRepo(db).List()
		if err != nil {
			return err
		}
		if len(issued) == 0 {
			fmt.Println("No invoices issued yet.")
			return nil
		}
		for _, inv := range issued {
			fmt.Printf("%s  %-20s  %10.2f  %s\n",
				inv.Number, inv.Recipient, inv.Total, inv.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config skeleton to the default location",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureDirectories(); err != nil {
			return err
		}
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s — fill in your contact and payment details.\n", path)
		return nil
	},
}

// setup builds a ready-to-run invoicer from the flags and worklog
// arguments. The returned cleanup closes the ledger.
func setup(worklogs []string) (*invoicer.Invoicer, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := invoicer.Options{
		Counter: flagCounter,
		Output:  flagOutput,
	}
	if flagDate != "" {
		date, err := time.Parse("2006-01-02", flagDate)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", flagDate)
		}
		opts.Date = date
	}

	iv := invoicer.New(cfg, slog.Default(), opts)

	cleanup := func() {}
	if !flagNoLedger {
		db, err := ledger.OpenAndMigrate()
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger: %w", err)
		}
		iv.SetLedger(ledger.NewIssuedRepo(db))
		cleanup = func() { ledger.Close() }
	}

	var stdin io.Reader
	if flagStdin {
		stdin = os.Stdin
	}
	iv.LoadWorklogs(worklogs, stdin)

	for _, path := range flagRecipients {
		iv.LoadRecipient(path)
	}
	iv.DiscoverRecipients()

	return iv, cleanup, nil
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("INVOICER_CONFIG")
	}
	if path == "" {
		defaultPath, err := config.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return config.Load(path)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "biller config TOML (default: $INVOICER_CONFIG or ~/.invoicer/config.toml)")
	pf.StringSliceVarP(&flagRecipients, "recipient", "r", nil, "recipient TOML file (repeatable)")
	pf.StringVarP(&flagOutput, "output", "o", "", "output directory for generated .tex files")
	pf.IntVarP(&flagCounter, "counter", "n", 0, "invoice counter seed (default: next free from ledger)")
	pf.StringVarP(&flagDate, "date", "d", "", "invoice date override (YYYY-MM-DD)")
	pf.BoolVar(&flagStdin, "stdin", false, "read an additional worklog CSV from stdin")
	pf.BoolVar(&flagNoLedger, "no-ledger", false, "skip the issued-invoice ledger")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(initCmd)

	cobra.OnInitialize(func() {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
