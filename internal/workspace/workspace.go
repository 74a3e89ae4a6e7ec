// Package workspace applies generated changes to a project directory,
// runs verification stage commands in it and commits the result.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/sanitize"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// ErrSecretDetected is returned when generated content contains a secret.
var ErrSecretDetected = errors.New("generated content contains a secret")

// Workspace is the filesystem and git collaborator of the engine.
type Workspace struct {
	settings *config.Store
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a workspace reading stage commands and commit identity
// from settings.
func New(settings *config.Store, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{settings: settings, logger: logger, now: time.Now}
}

// snapshot prefers the settings attached to ctx by the running iteration.
func (w *Workspace) snapshot(ctx context.Context) config.Config {
	if cfg, ok := config.SnapshotFromContext(ctx); ok {
		return cfg
	}
	return w.settings.Snapshot()
}

// Apply writes changes under root. Every path is checked before anything is
// written, so a rejected batch leaves the workspace untouched.
func (w *Workspace) Apply(ctx context.Context, root string, changes []taskgraph.FileChange) error {
	allow, err := LoadAllowlist(root)
	if err != nil {
		return apperr.IO("apply", err)
	}

	targets := make([]string, len(changes))
	for i, c := range changes {
		target, err := resolve(root, c.Path)
		if err != nil {
			return err
		}
		targets[i] = target
		if c.Action == taskgraph.ChangeDeleted {
			continue
		}
		findings, err := scanSecrets(c.Path, c.Content, allow)
		if err != nil {
			return apperr.IO("apply", err)
		}
		if len(findings) > 0 {
			return fmt.Errorf("%w: %s line %d (%s)", ErrSecretDetected, c.Path, findings[0].Line, findings[0].RuleID)
		}
	}

	for i, c := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := write(targets[i], c); err != nil {
			return apperr.IO("apply", err)
		}
		w.logger.Debug("applied change", zap.String("path", c.Path), zap.String("action", string(c.Action)))
	}
	return nil
}

// resolve joins rel to root and rejects results outside root.
func resolve(root, rel string) (string, error) {
	target, err := sanitize.ChangePath(rel, root)
	if err != nil {
		return "", fmt.Errorf("invalid change path: %w", err)
	}
	return target, nil
}

func write(target string, c taskgraph.FileChange) error {
	if c.Action == taskgraph.ChangeDeleted {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(c.Content), 0o644)
}

// Commit stages everything under root and commits it. A repository is
// initialised when missing; a clean worktree is not committed.
func (w *Workspace) Commit(ctx context.Context, root, message, taskID string) error {
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(root, false)
	}
	if err != nil {
		return fmt.Errorf("opening repository at %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("reading worktree status: %w", err)
	}
	if status.IsClean() {
		w.logger.Debug("nothing to commit", zap.String("task.id", taskID))
		return nil
	}

	orch := w.snapshot(ctx).Orchestration
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: orch.CommitAuthor, Email: orch.CommitEmail, When: w.now()},
	})
	if err != nil {
		return fmt.Errorf("committing task %s: %w", taskID, err)
	}
	w.logger.Info("committed", zap.String("task.id", taskID), zap.String("hash", hash.String()))
	return nil
}
