package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/monitor"
)

var (
	// status command flags
	stCheckpoint string
	stSessionID  string
	stOutputJSON bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&stCheckpoint, "checkpoint", "", "Checkpoint id or file to show")
	statusCmd.Flags().StringVar(&stSessionID, "session-id", "", "Only list checkpoints of this session")
	statusCmd.Flags().BoolVar(&stOutputJSON, "json", false, "Output results as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved sessions",
	Long: `List saved checkpoints, or show the task graph of one checkpoint.

Examples:
  # List checkpoints in checkpoint.dir
  taskpilot status

  # Show one checkpoint by id or by file
  taskpilot status --checkpoint 6f1c2d9e-...
  taskpilot status --checkpoint .taskpilot/checkpoints/6f1c2d9e-....json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	out := cmd.OutOrStdout()

	if stCheckpoint != "" {
		cp, err := loadCheckpoint(cmd, cfg.Checkpoint.Dir, stCheckpoint)
		if err != nil {
			return err
		}
		if stOutputJSON {
			return writeJSON(out, cp)
		}
		fmt.Fprintf(out, "Checkpoint %s (%s) saved %s\n", cp.ID, cp.Name, cp.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprint(out, monitor.Summary(cp.Session))
		return nil
	}

	svc, err := checkpoint.NewService(cfg.Checkpoint.Dir)
	if err != nil {
		return err
	}
	list, err := svc.List(cmd.Context(), stSessionID)
	if err != nil {
		return err
	}
	if stOutputJSON {
		return writeJSON(out, list)
	}
	printSummaries(out, list)
	return nil
}

// loadCheckpoint reads ref as a checkpoint file when it exists, and as an
// id within dir otherwise.
func loadCheckpoint(cmd *cobra.Command, dir, ref string) (*checkpoint.Checkpoint, error) {
	if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("reading checkpoint %s: %w", ref, err)
		}
		var cp checkpoint.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, fmt.Errorf("decoding checkpoint %s: %w", ref, err)
		}
		if cp.Session == nil {
			return nil, fmt.Errorf("checkpoint %s has no session", ref)
		}
		return &cp, nil
	}
	svc, err := checkpoint.NewService(dir)
	if err != nil {
		return nil, err
	}
	return svc.Get(cmd.Context(), ref)
}

func printSummaries(w io.Writer, list []checkpoint.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No checkpoints found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tTASKS\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			s.ID, monitor.Truncate(s.Name, 30), s.Status, s.Completed, s.TaskCount,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
