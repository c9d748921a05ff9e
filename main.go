package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mailvault/config"
	"mailvault/ingest"
	"mailvault/progress"
	"mailvault/semantic"
	"mailvault/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailvault",
		Short: "Ingest local email/calendar archives into a tagged, queryable record store",
	}

	rootCmd.AddCommand(
		newIngestCmd(),
		newInitDBCmd(),
		newSearchCmd(),
		newExportCmd(),
		newDossierCmd(),
		newTimelineCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [archive...]",
		Short: "Ingest one or more archives (PST, zip, mbox, eml/emlx directory, ICS)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mailvault ingest", "archives", cfg.Archives, "db", cfg.DBPath)

			return runIngest(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterIngestFlags(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func runIngest(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return &ingest.RunError{Code: ingest.ReasonConfigInvalid, Err: err}
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	indexer, err := buildIndexer(rules, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := indexer.Close(); err != nil {
			logger.Warn("closing semantic indexer failed", "err", err)
		}
	}()

	pipeline := ingest.New(st, rules, indexer, logger, ingest.Options{
		StateDir:   cfg.StateDir,
		BatchSize:  cfg.BatchSize,
		ScratchDir: cfg.ScratchDir,
		Readpst:    cfg.Readpst,
	})

	reporter := progress.New(cfg.LogLevel)
	pipeline.Observe(reporter.Update)

	summary, err := pipeline.Run(ctx, cfg.Archives)
	reporter.Stop(summary)
	logger.Info("ingest finished", summary.LogAttrs()...)
	return err
}

func buildIndexer(rules *config.Rules, logger *slog.Logger) (semantic.Indexer, error) {
	if !rules.Semantic.Enabled {
		return semantic.Noop{}, nil
	}
	spoolPath := rules.Semantic.Spool
	if spoolPath == "" {
		spoolPath = filepath.Join("data", "semantic", "spool.jsonl")
	}
	spool, err := semantic.NewSpool(spoolPath)
	if err != nil {
		// semantic layer failures never block ingestion
		logger.Warn("semantic layer disabled", "err", err)
		return semantic.Noop{}, nil
	}
	return spool, nil
}

func newInitDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := cmd.Flags().GetString("db")
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Printf("store initialized at %s\n", dbPath)
			return nil
		},
	}
	cmd.Flags().String("db", "", "Path to the SQLite store")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		dbPath  string
		account string
		sender  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search over ingested messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := st.Search(cmd.Context(), args[0], account, sender, limit)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%-20s %-30s %s", r.SentAt, r.Sender, r.Subject)
				if r.Accounts != "" {
					fmt.Printf("  [%s]", r.Accounts)
				}
				fmt.Println()
			}
			fmt.Printf("%d results\n", len(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite store")
	cmd.Flags().StringVar(&account, "account", "", "Restrict to messages tagged with this account")
	cmd.Flags().StringVar(&sender, "sender", "", "Restrict to this sender address")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum results")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		dbPath string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all messages with their tags as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var w io.Writer = os.Stdout
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return st.ExportCSV(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite store")
	cmd.Flags().StringVar(&out, "out", "", "Output file (stdout when empty)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newDossierCmd() *cobra.Command {
	var (
		dbPath  string
		account string
		topN    int
	)
	cmd := &cobra.Command{
		Use:   "make-dossier",
		Short: "Render a per-account activity dossier",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := st.DossierFor(cmd.Context(), account, topN)
			if err != nil {
				return err
			}
			fmt.Printf("Dossier: %s\n", d.Account)
			fmt.Printf("Messages: %d\n\n", d.MessageCount)
			fmt.Println("Top correspondents:")
			for i, c := range d.TopSenders {
				fmt.Printf("%d. %s (%d)\n", i+1, c.Key, c.Value)
			}
			fmt.Println("\nRecent subjects:")
			for _, subject := range d.RecentSubjects {
				fmt.Printf("- %s\n", subject)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite store")
	cmd.Flags().StringVar(&account, "account", "", "Account name")
	cmd.Flags().IntVar(&topN, "top", 10, "Number of top entries per section")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newTimelineCmd() *cobra.Command {
	var (
		dbPath  string
		account string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "compliance-timeline",
		Short: "Print a chronological message/event timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.Timeline(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				when := e.When
				if when == "" {
					when = "(no date)"
				}
				fmt.Printf("%-20s %-8s %-30s %s\n", when, e.Kind, e.Sender, e.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite store")
	cmd.Flags().StringVar(&account, "account", "", "Restrict to one account tag")
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum entries")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailvault-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
