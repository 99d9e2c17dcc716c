package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"kbwatch/internal/app"
	"kbwatch/internal/config"
	"kbwatch/internal/encryption"
	"kbwatch/internal/ledger"

	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Watch", "Cleanup").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "kbwatch",
	Short: "Personal knowledge-base change tracker",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.DatabasePath())
		fmt.Printf("Watch paths: %d\n", len(cfg.Watch.Paths))
		for _, p := range cfg.Watch.Paths {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the backup encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc := encryption.NewAgeEncryptor(cfg.Backup.PublicKeyPath, cfg.Backup.PrivateKeyPath)
		if err := enc.Setup(); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Backup.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Backup.PrivateKeyPath)
		return nil
	},
}

// watch command

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the change monitor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.Watch(ctx)
	},
}

// submit command

var submitCmd = &cobra.Command{
	Use:   "submit <path>",
	Short: "Submit one file through the change pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Submit")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SubmitOnce(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if res.Status == ledger.StatusAccepted {
			fmt.Printf("Accepted: version %d\n", res.VersionID)
		} else {
			fmt.Printf("Suppressed: %s\n", res.Reason)
		}
		return nil
	},
}

// history command

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Show the version history of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.History(args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No versions recorded")
			return nil
		}

		for _, v := range versions {
			fmt.Printf("v%d  %s  %s\n",
				v.VersionID,
				v.CapturedAt.Local().Format("2006-01-02 15:04:05"),
				v.ContentHash[:12])
		}
		return nil
	},
}

// diff command

var diffCmd = &cobra.Command{
	Use:   "diff <path> [old new]",
	Short: "Show a recorded diff (latest by default)",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var oldID, newID int64
		if len(args) == 3 {
			var err error
			oldID, err = strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid old version id: %s", args[1])
			}
			newID, err = strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid new version id: %s", args[2])
			}
		} else if len(args) == 2 {
			return fmt.Errorf("provide both old and new version ids, or neither")
		}

		a, err := newApp("Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		diff, err := a.ShowDiff(args[0], oldID, newID)
		if err != nil {
			return err
		}
		if diff == nil {
			fmt.Println("No diff recorded")
			return nil
		}

		fmt.Printf("%s  v%d -> v%d  (%s, +%d/-%d)\n",
			diff.Path, diff.OldVersionID, diff.NewVersionID,
			diff.ChangeType, diff.LinesAdded, diff.LinesRemoved)
		fmt.Print(diff.DiffText)
		return nil
	},
}

// search command

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recorded change entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Search")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Search(args[0], searchLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No matching entries")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s %s  [%s]  %s\n", e.Date, e.Time, e.Impact, e.Summary)
		}
		return nil
	},
}

// migrate command

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// NewApp applies baseline and impact-domain migrations on startup.
		a, err := newApp("Migrate")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.MigrationLog(5)
		if err != nil {
			return err
		}

		fmt.Println("Schema is up to date")
		for _, e := range entries {
			status := "ok"
			if !e.Success {
				status = "FAILED"
			}
			fmt.Printf("%s  %s  %s  records=%d\n",
				e.AppliedAt.Local().Format("2006-01-02 15:04:05"), e.Name, status, e.RecordsMigrated)
		}
		return nil
	},
}

// cleanup command

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backup/log artifacts past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Cleanup(cleanupDryRun)
		if err != nil {
			return err
		}

		verb := "Deleted"
		if cleanupDryRun {
			verb = "Would delete"
		}
		for _, path := range report.Deleted {
			fmt.Printf("%s %s\n", verb, path)
		}
		fmt.Printf("%d deletable, %d kept, %d errors\n",
			len(report.Deleted), report.Kept, len(report.Errors))
		for _, e := range report.Errors {
			fmt.Fprintf(os.Stderr, "warning: %v\n", e)
		}
		return nil
	},
}

// backup command

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database into the backup directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.Backup()
		if err != nil {
			return err
		}
		fmt.Printf("Backup written to %s\n", path)
		return nil
	},
}

// log command

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the migration audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Log")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.MigrationLog(logLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No migrations recorded")
			return nil
		}

		for _, e := range entries {
			status := "ok"
			if !e.Success {
				status = "FAILED: " + e.ErrorMessage
			}
			fmt.Printf("%s  %s  records=%d  %s\n",
				e.AppliedAt.Local().Format("2006-01-02 15:04:05"), e.Name, e.RecordsMigrated, status)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum entries to show")
	rootCmd.AddCommand(searchCmd)

	rootCmd.AddCommand(migrateCmd)

	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report deletable artifacts without removing them")
	rootCmd.AddCommand(cleanupCmd)

	rootCmd.AddCommand(backupCmd)

	logCmd.Flags().IntVar(&logLimit, "limit", 20, "maximum log entries to show")
	rootCmd.AddCommand(logCmd)
}
