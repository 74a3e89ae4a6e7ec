package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// NewOpenAIModel returns an OpenAI-compatible chat model for name.
func NewOpenAIModel(cfg config.GeneratorConfig, name string) (llms.Model, error) {
	token := cfg.APIKey.Value()
	if token == "" {
		// OpenAI-compatible local servers accept any token.
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(name),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client for %s: %w", name, err)
	}
	return llm, nil
}

func newLimiter(cfg config.GeneratorConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// complete waits for the limiter and runs a single prompt.
func complete(ctx context.Context, limiter *rate.Limiter, model llms.Model, timeout time.Duration, prompt string) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0))
}

const decomposePrompt = `You are a software planning assistant. Break the specification below into
small, independently verifiable implementation tasks.

Answer with a single YAML document and nothing else:

tasks:
  - id: <short-unique-id>
    parent_id: <optional id of a grouping task>
    description: <one sentence>
    type: <one of: %s>
    dependencies: [<ids that must complete first>]

Specification:
%s
`

// LLMDecomposer asks a model for a YAML plan.
type LLMDecomposer struct {
	model   llms.Model
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMDecomposer returns a model-backed decomposer.
func NewLLMDecomposer(model llms.Model, cfg config.GeneratorConfig, logger *zap.Logger) *LLMDecomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDecomposer{model: model, limiter: newLimiter(cfg), timeout: cfg.Timeout.Duration(), logger: logger}
}

// Decompose reads spec (a file path, or the specification text itself)
// and returns the model's plan.
func (d *LLMDecomposer) Decompose(ctx context.Context, spec string) ([]taskgraph.Draft, error) {
	text := spec
	if _, err := os.Stat(spec); err == nil {
		data, err := readBounded(spec)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}

	out, err := complete(ctx, d.limiter, d.model, d.timeout, fmt.Sprintf(decomposePrompt, typeList(), text))
	if err != nil {
		return nil, apperr.Generation("decomposition request failed", err)
	}
	d.logger.Debug("decomposition response", zap.Int("bytes", len(out)))
	return ParsePlan([]byte(extractBlock(out)))
}

func typeList() string {
	names := make([]string, len(taskgraph.TaskTypes))
	for i, t := range taskgraph.TaskTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// LLMGenerator produces code changes with a two-tier model setup: the
// first attempt of a task uses the fast model, retries use the primary one.
type LLMGenerator struct {
	primary llms.Model
	fast    llms.Model
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMGenerator returns a generator. fast may be nil to always use primary.
func NewLLMGenerator(primary, fast llms.Model, cfg config.GeneratorConfig, logger *zap.Logger) *LLMGenerator {
	if fast == nil {
		fast = primary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{primary: primary, fast: fast, limiter: newLimiter(cfg), timeout: cfg.Timeout.Duration(), logger: logger}
}

// Generate asks the model for changes. A model call failure is returned as
// an error; an unusable answer is a failed outcome.
func (g *LLMGenerator) Generate(ctx context.Context, req orchestrator.GenerationRequest) (taskgraph.GenerationOutcome, error) {
	model := g.fast
	if req.Task.CurrentAttemptNumber > 1 {
		model = g.primary
	}
	out, err := complete(ctx, g.limiter, model, g.timeout, buildPrompt(req))
	if err != nil {
		return taskgraph.GenerationOutcome{TaskID: req.Task.ID}, apperr.Generation("model request failed", err)
	}
	return parseOutcome(req.Task.ID, out), nil
}

func parseOutcome(taskID, out string) taskgraph.GenerationOutcome {
	body := extractBlock(out)
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return taskgraph.GenerationOutcome{TaskID: taskID, Error: "Generator response contained no JSON object."}
	}
	var outcome taskgraph.GenerationOutcome
	if err := json.Unmarshal([]byte(body[start:end+1]), &outcome); err != nil {
		return taskgraph.GenerationOutcome{TaskID: taskID, Error: "Generator response was not valid JSON: " + err.Error()}
	}
	outcome.TaskID = taskID
	for i, f := range outcome.ChangedFiles {
		switch f.Action {
		case taskgraph.ChangeCreated, taskgraph.ChangeModified, taskgraph.ChangeDeleted:
		case "":
			outcome.ChangedFiles[i].Action = taskgraph.ChangeModified
		default:
			return taskgraph.GenerationOutcome{TaskID: taskID, Error: fmt.Sprintf("Generator returned unknown action %q for %s.", f.Action, f.Path)}
		}
	}
	return outcome
}

func buildPrompt(req orchestrator.GenerationRequest) string {
	t := req.Task
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing task %s (%s) in the project at %s.\n\n", t.ID, t.Type, req.ProjectRoot)
	fmt.Fprintf(&b, "Task:\n%s\n", t.Description)
	if t.HumanReviewNotes != "" {
		fmt.Fprintf(&b, "\nOperator guidance:\n%s\n", t.HumanReviewNotes)
	}
	if req.PreviousError != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\nFix the cause of this failure.\n", req.PreviousError)
	}
	if t.LastGeneratedOutput != "" {
		fmt.Fprintf(&b, "\nFiles changed by the previous attempt:\n%s\n", t.LastGeneratedOutput)
	}
	fmt.Fprintf(&b, "\nRelevant code:\n%s\n", req.CodeContext)
	fmt.Fprintf(&b, "\nReference documentation:\n%s\n", req.ReferenceContext)
	b.WriteString(`
Answer with one JSON object and nothing else:
{"success": true, "changed_files": [{"path": "relative/path", "content": "full file content", "action": "created|modified|deleted"}], "notes": "...", "error_message": ""}
Set success to false and explain in error_message if the task cannot be done.
`)
	return b.String()
}
