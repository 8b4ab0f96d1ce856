package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clpipe/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	failedOnly    bool
	forceClean    bool
	showJSON      bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage recorded runs",
	Long:  `List, inspect and clean the run records kept under the data directory.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its stage trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long: `Delete runs based on retention policy: keep only the newest N runs, delete
runs older than N days, or delete failed runs.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(listRunsCmd, showRunCmd, cleanRunsCmd)

	showRunCmd.Flags().BoolVar(&showJSON, "json", false, "Print the raw record as JSON")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVar(&failedOnly, "failed", false, "Delete failed runs")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore() (*store.FSStore, error) {
	fs, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return fs, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	fs, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fs.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tPIPELINE\tDEVICE\tSTATUS\tMAX ERROR\tELAPSED\tSIZE")
	for _, info := range infos {
		size, err := getDirSize(fs.RunDir(info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}
		status := info.Status
		if info.FailedStage != "" {
			status += " (" + info.FailedStage + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%g\t%s\t%s\n",
			shortID(info.ID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Pipeline,
			info.Device,
			status,
			info.MaxAbsError,
			info.Elapsed.Round(time.Microsecond),
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	fs, err := openStore()
	if err != nil {
		return err
	}
	id, err := fs.FindRun(args[0])
	if err != nil {
		return err
	}
	record, err := fs.LoadRun(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Fprintf(out, "Run %s\n", record.ID)
	fmt.Fprintf(out, "  pipeline   %s\n", record.Pipeline)
	fmt.Fprintf(out, "  timestamp  %s\n", record.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  backend    %s\n", record.Config.Backend)
	fmt.Fprintf(out, "  device     %s (%s)\n", record.Device, record.Platform)
	fmt.Fprintf(out, "  geometry   global %v local %v\n", record.Global, record.Local)
	fmt.Fprintf(out, "  status     %s\n", record.Status)
	if record.Status == store.StatusFailed {
		fmt.Fprintf(out, "  error      %s\n", record.Error)
	} else {
		fmt.Fprintf(out, "  max error  %g\n", record.MaxAbsError)
		fmt.Fprintf(out, "  digest     %s\n", record.Digest)
	}
	fmt.Fprintf(out, "  elapsed    %s\n", record.Elapsed)
	if record.BuildLog != "" {
		fmt.Fprintf(out, "\nBuild log:\n%s\n", record.BuildLog)
	}

	trace, err := store.ReadTrace(fs.BaseDir(), record.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nStages:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range trace {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", e.Stage, e.Duration, e.Error)
	}
	return w.Flush()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 && !failedOnly {
		return fmt.Errorf("must specify --keep-last, --older-than or --failed")
	}

	fs, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fs.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, failedOnly, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s, %s)\n",
			shortID(info.ID),
			info.Pipeline,
			info.Status,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := fs.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "run_id", info.ID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy. A run is selected if
// any criterion matches it.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, failed bool, now time.Time) []store.RunInfo {
	sorted := make([]store.RunInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	var toDelete []store.RunInfo
	for i, info := range sorted {
		switch {
		case keepLast > 0 && i >= keepLast:
		case olderThanDays > 0 && info.Timestamp.Before(cutoff):
		case failed && info.Status == store.StatusFailed:
		default:
			continue
		}
		toDelete = append(toDelete, info)
	}
	return toDelete
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
