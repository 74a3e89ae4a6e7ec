package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskpilot/internal/verify"
)

// ErrToolingMissing is returned when the shell could not find or execute
// the stage command.
var ErrToolingMissing = errors.New("stage tooling missing")

// Shell exit codes for "not executable" and "command not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// waitDelay bounds how long Wait keeps reading output after the stage
// process group was killed.
const waitDelay = 2 * time.Second

// RunStage runs the configured command for stage name in root. Output lines
// are streamed to onLine while also being captured. A non-zero exit is a
// normal result; an error means the command could not be started or its
// tooling is missing.
func (w *Workspace) RunStage(ctx context.Context, name, root string, onLine func(verify.Line)) (verify.StageOutput, error) {
	orch := w.snapshot(ctx).Orchestration
	command, ok := orch.StageCommands[name]
	if !ok || strings.TrimSpace(command) == "" {
		return verify.StageOutput{}, fmt.Errorf("no command configured for stage %q", name)
	}
	if timeout := orch.StageTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var mu sync.Mutex
	emit := func(l verify.Line) {
		mu.Lock()
		defer mu.Unlock()
		if onLine != nil {
			onLine(l)
		}
	}
	stdout := &lineWriter{emit: func(s string) { emit(verify.Line{Stage: name, Stream: verify.Stdout, Text: s}) }}
	stderr := &lineWriter{emit: func(s string) { emit(verify.Line{Stage: name, Stream: verify.Stderr, Text: s}) }}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	killGroupOnCancel(cmd)

	if err := cmd.Start(); err != nil {
		return verify.StageOutput{}, err
	}
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	out := verify.StageOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		out.ExitCode = 1
		out.Stderr += fmt.Sprintf("stage %s terminated: %v\n", name, ctx.Err())
		return out, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		switch out.ExitCode {
		case exitNotFound, exitNotExecutable:
			return out, fmt.Errorf("%w: %s", ErrToolingMissing, lastLine(out.Stderr))
		case -1:
			out.ExitCode = 1
			out.Stderr += fmt.Sprintf("stage %s terminated by signal\n", name)
		}
	default:
		return out, err
	}
	return out, nil
}

// lineWriter captures process output and emits it one line at a time.
// exec copies each stream from its own goroutine, so a writer is only
// written by one goroutine at a time.
type lineWriter struct {
	emit    func(string)
	partial []byte
	buf     strings.Builder
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.partial = append(lw.partial, p...)
	for {
		i := bytes.IndexByte(lw.partial, '\n')
		if i < 0 {
			break
		}
		lw.line(string(lw.partial[:i]))
		lw.partial = lw.partial[i+1:]
	}
	return len(p), nil
}

func (lw *lineWriter) flush() {
	if len(lw.partial) > 0 {
		lw.line(string(lw.partial))
		lw.partial = nil
	}
}

func (lw *lineWriter) line(text string) {
	lw.buf.WriteString(text)
	lw.buf.WriteByte('\n')
	lw.emit(text)
}

func (lw *lineWriter) String() string {
	return lw.buf.String()
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
