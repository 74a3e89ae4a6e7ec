package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskpilot/internal/monitor"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
	"github.com/fyrsmithlabs/taskpilot/internal/verify"
)

var (
	// run command flags
	runProject     string
	runPlan        string
	runResume      string
	runInteractive bool
	runVerbose     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runProject, "project", ".", "Project root directory")
	runCmd.Flags().StringVar(&runPlan, "plan", "", "YAML plan file or specification reference")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Checkpoint id to continue instead of planning")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Answer escalations and pauses on the terminal")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Stream verification output to stderr")
	runCmd.MarkFlagsOneRequired("plan", "resume")
	runCmd.MarkFlagsMutuallyExclusive("plan", "resume")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan a specification and run it to completion",
	Long: `Load a project, decompose the plan into tasks and drive the orchestration
loop on this terminal until every task is done, the loop pauses or a human
is needed.

A .yaml or .yml plan is read as a task list. Any other reference is sent to
the configured model for decomposition.

Examples:
  # Run a plan file
  taskpilot run --project ./calc --plan plan.yaml

  # Answer escalations on the terminal instead of exiting
  taskpilot run --project ./calc --plan plan.yaml --interactive

  # Continue a saved session; an interrupted task starts over
  taskpilot run --resume 6f1c2d9e-...`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{stderrLogs: true}
	if runVerbose {
		opts.onLine = printLine(cmd.ErrOrStderr())
	}
	a, err := newApp(ctx, configPath, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	go func() {
		<-ctx.Done()
		a.engine.Stop()
	}()

	name, err := prepareRun(ctx, a)
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	status := a.store.Status()
	for {
		if status.In(taskgraph.ProjectAwaitingHumanInput, taskgraph.ProjectPaused) {
			if !runInteractive {
				break
			}
			again, err := interact(ctx, a.engine, a.engine.Snapshot(), in, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !again {
				break
			}
		}
		status, err = a.engine.RunToCompletion(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil || !status.In(taskgraph.ProjectAwaitingHumanInput, taskgraph.ProjectPaused) {
			break
		}
	}

	a.saveCheckpoint(context.WithoutCancel(ctx), name)
	fmt.Fprint(cmd.OutOrStdout(), monitor.Summary(a.engine.Snapshot()))

	switch status.Kind {
	case taskgraph.ProjectError, taskgraph.ProjectAwaitingHumanInput:
		return fmt.Errorf("run ended in %s", status)
	}
	return nil
}

// prepareRun loads the project and plans it, or restores a checkpoint.
// It returns the name for the checkpoint saved at the end of the run.
func prepareRun(ctx context.Context, a *app) (string, error) {
	if runResume != "" {
		if a.checkpoints == nil {
			return "", fmt.Errorf("--resume needs checkpoint.enabled")
		}
		cp, err := a.checkpoints.Restore(ctx, a.store, runResume)
		if err != nil {
			return "", err
		}
		return "resume " + cp.ID, nil
	}
	if err := a.engine.LoadProject(ctx, runProject); err != nil {
		return "", err
	}
	if err := a.engine.StartSpec(ctx, runPlan); err != nil {
		return "", err
	}
	return "run " + filepath.Base(runPlan), nil
}

// responder is the part of the engine the terminal prompt drives.
type responder interface {
	SubmitHumanResponse(ctx context.Context, taskID, response string) error
	Resume(ctx context.Context) error
}

// interact answers an escalation or a pause from in. It reports whether
// the loop should run again; an empty answer or EOF ends the run.
func interact(ctx context.Context, r responder, sess *taskgraph.Session, in *bufio.Reader, out io.Writer) (bool, error) {
	status := sess.Status
	switch status.Kind {
	case taskgraph.ProjectAwaitingHumanInput:
		taskID := escalatedTask(sess)
		if taskID == "" {
			return false, nil
		}
		fmt.Fprintf(out, "\n%s\nResponse for task %s (empty to stop): ", status.Message, taskID)
		answer, err := readAnswer(in)
		if err != nil || answer == "" {
			return false, nil
		}
		if err := r.SubmitHumanResponse(ctx, taskID, answer); err != nil {
			return false, err
		}
		return true, nil
	case taskgraph.ProjectPaused:
		fmt.Fprintf(out, "\n%s\nContinue? [Y/n] ", status.Message)
		answer, err := readAnswer(in)
		if err != nil || strings.HasPrefix(strings.ToLower(answer), "n") {
			return false, nil
		}
		if err := r.Resume(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// escalatedTask returns the task the session escalated, or else the first
// task waiting on a human.
func escalatedTask(sess *taskgraph.Session) string {
	if sess.Status.Is(taskgraph.ProjectAwaitingHumanInput) && sess.Status.TaskID != "" {
		return sess.Status.TaskID
	}
	for i := range sess.Tasks {
		if sess.Tasks[i].Status.In(taskgraph.StatusFailed, taskgraph.StatusBlockedByError, taskgraph.StatusAwaitingHumanClarification) {
			return sess.Tasks[i].ID
		}
	}
	return ""
}

func readAnswer(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return line, nil
}

// printLine writes verification output prefixed by its stage.
func printLine(w io.Writer) func(verify.Line) {
	return func(l verify.Line) {
		fmt.Fprintf(w, "[%s] %s\n", l.Stage, l.Text)
	}
}
