package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// Limits applied when building generation context.
const (
	CodeSearchLimit = 3
	CodeResults     = 2
	CodeChars       = 1500
	DocSearchLimit  = 2
	DocResults      = 1
	DocChars        = 1000
)

// Placeholders used when no context could be found.
const (
	NoCodeContext = "No relevant code found in the project index."
	NoDocContext  = "No relevant documentation found in the project index."
	Disabled      = "Knowledge index disabled."
)

// Searcher is the search side of an Index.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, typeFilter, root string) ([]Result, error)
}

// ContextPreparer builds code and reference context for a task from a
// Searcher.
type ContextPreparer struct {
	search Searcher
}

// NewContextPreparer returns a preparer backed by s.
func NewContextPreparer(s Searcher) *ContextPreparer {
	return &ContextPreparer{search: s}
}

// Prepare searches for code and documentation related to task. Search
// failures are returned joined, together with placeholder text.
func (p *ContextPreparer) Prepare(ctx context.Context, task *taskgraph.Task, root string, settings config.Config) (string, string, error) {
	if !settings.Knowledge.Enabled {
		return Disabled, Disabled, nil
	}
	query := strings.TrimSpace(task.Description + " " + strings.ReplaceAll(string(task.Type), "_", " "))

	var errs []error
	code, err := p.section(ctx, query, root, TypeCode, CodeSearchLimit, CodeResults, CodeChars)
	if err != nil {
		errs = append(errs, fmt.Errorf("code search: %w", err))
	}
	if code == "" {
		code = NoCodeContext
	}
	docs, err := p.section(ctx, query, root, TypeDoc, DocSearchLimit, DocResults, DocChars)
	if err != nil {
		errs = append(errs, fmt.Errorf("documentation search: %w", err))
	}
	if docs == "" {
		docs = NoDocContext
	}
	return code, docs, errors.Join(errs...)
}

func (p *ContextPreparer) section(ctx context.Context, query, root, kind string, limit, take, chars int) (string, error) {
	hits, err := p.search.Search(ctx, query, limit, kind, root)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for n, h := range hits {
		if n == take {
			break
		}
		label := "Relevant Code File"
		if kind == TypeDoc {
			label = "Relevant Documentation"
		}
		fmt.Fprintf(&b, "\n--- %s: %s (Score: %.2f) ---\n%s\n", label, h.Path, h.Score, truncate(h.Content, chars))
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
