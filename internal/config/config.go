// Package config loads and guards taskpilot settings.
//
// Settings come from built-in defaults, an optional YAML file and
// TASKPILOT_* environment variables, in increasing precedence. The Store
// type holds the live settings behind its own lock; the orchestration loop
// reads a Snapshot at the start of every iteration so a change never
// affects a task already in flight.
package config

import (
	"fmt"
	"slices"
)

// AutonomyLevel controls how often the loop pauses for an operator.
type AutonomyLevel string

const (
	AutonomyFullAutopilot       AutonomyLevel = "full_autopilot"
	AutonomyApprovalCheckpoints AutonomyLevel = "approval_checkpoints"
	AutonomyManualStepThrough   AutonomyLevel = "manual_step_through"
)

// CommitStrategy controls when completed work is committed.
type CommitStrategy string

const (
	CommitPerTask    CommitStrategy = "per_task"
	CommitPerFeature CommitStrategy = "per_feature"
	CommitManual     CommitStrategy = "manual"
)

// Selection policies for the task selector.
const (
	SelectionInsertion    = "insertion"
	SelectionTypePriority = "type_priority"
)

// Config is the complete settings tree.
type Config struct {
	Server        ServerConfig        `koanf:"server" json:"server"`
	Logging       LoggingConfig       `koanf:"logging" json:"logging"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability"`
	Orchestration OrchestrationConfig `koanf:"orchestration" json:"orchestration"`
	Generator     GeneratorConfig     `koanf:"generator" json:"generator"`
	Knowledge     KnowledgeConfig     `koanf:"knowledge" json:"knowledge"`
	Escalation    EscalationConfig    `koanf:"escalation" json:"escalation"`
	Checkpoint    CheckpointConfig    `koanf:"checkpoint" json:"checkpoint"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port            int      `koanf:"port" json:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig selects level and format of operator logs.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// ObservabilityConfig configures OpenTelemetry export.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry" json:"enable_telemetry"`
	Endpoint        string  `koanf:"endpoint" json:"endpoint"`
	ServiceName     string  `koanf:"service_name" json:"service_name"`
	Insecure        bool    `koanf:"insecure" json:"insecure"`
	SampleRate      float64 `koanf:"sample_rate" json:"sample_rate"`
}

// OrchestrationConfig holds the settings the loop snapshots per iteration.
type OrchestrationConfig struct {
	MaxSelfCorrectionAttempts int               `koanf:"max_self_correction_attempts" json:"max_self_correction_attempts"`
	VerificationStages        []string          `koanf:"verification_stages" json:"verification_stages"`
	StageCommands             map[string]string `koanf:"stage_commands" json:"stage_commands"`
	StageTimeout              Duration          `koanf:"stage_timeout" json:"stage_timeout"`
	SelectionPolicy           string            `koanf:"selection_policy" json:"selection_policy"`
	AutonomyLevel             AutonomyLevel     `koanf:"autonomy_level" json:"autonomy_level"`
	CommitStrategy            CommitStrategy    `koanf:"commit_strategy" json:"commit_strategy"`
	CommitAuthor              string            `koanf:"commit_author" json:"commit_author"`
	CommitEmail               string            `koanf:"commit_email" json:"commit_email"`
}

// GeneratorConfig configures the model-backed generator and decomposer.
type GeneratorConfig struct {
	Provider   string   `koanf:"provider" json:"provider"`
	BaseURL    string   `koanf:"base_url" json:"base_url"`
	Tier1Model string   `koanf:"tier1_model" json:"tier1_model"`
	Tier2Model string   `koanf:"tier2_model" json:"tier2_model"`
	APIKey     Secret   `koanf:"api_key" json:"api_key"`
	RateLimit  float64  `koanf:"rate_limit" json:"rate_limit"`
	Burst      int      `koanf:"burst" json:"burst"`
	Timeout    Duration `koanf:"timeout" json:"timeout"`
}

// KnowledgeConfig configures the local knowledge index.
type KnowledgeConfig struct {
	Enabled         bool    `koanf:"enabled" json:"enabled"`
	Path            string  `koanf:"path" json:"path"`
	Collection      string  `koanf:"collection" json:"collection"`
	RefreshPerMin   float64 `koanf:"refresh_per_minute" json:"refresh_per_minute"`
	MaxFileBytes    int64   `koanf:"max_file_bytes" json:"max_file_bytes"`
	EmbedDimensions int     `koanf:"embed_dimensions" json:"embed_dimensions"`
	// EmbedModel selects a remote embedding model served at the
	// generator's base URL. Empty uses the local hashing embedder.
	EmbedModel      string  `koanf:"embed_model" json:"embed_model"`
}

// EscalationConfig configures the NATS escalation channel.
type EscalationConfig struct {
	Enabled       bool   `koanf:"enabled" json:"enabled"`
	NATSURL       string `koanf:"nats_url" json:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" json:"subject_prefix"`
}

// CheckpointConfig configures session snapshots.
type CheckpointConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Dir     string `koanf:"dir" json:"dir"`
}

// Validate checks settings for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	o := c.Orchestration
	if o.MaxSelfCorrectionAttempts < 0 {
		return fmt.Errorf("orchestration.max_self_correction_attempts must be >= 0, got %d", o.MaxSelfCorrectionAttempts)
	}
	for _, stage := range o.VerificationStages {
		if _, ok := o.StageCommands[stage]; !ok {
			return fmt.Errorf("orchestration.stage_commands has no command for stage %q", stage)
		}
	}
	if !slices.Contains([]string{SelectionInsertion, SelectionTypePriority}, o.SelectionPolicy) {
		return fmt.Errorf("orchestration.selection_policy must be %q or %q, got %q",
			SelectionInsertion, SelectionTypePriority, o.SelectionPolicy)
	}
	switch o.AutonomyLevel {
	case AutonomyFullAutopilot, AutonomyApprovalCheckpoints, AutonomyManualStepThrough:
	default:
		return fmt.Errorf("orchestration.autonomy_level invalid: %q", o.AutonomyLevel)
	}
	switch o.CommitStrategy {
	case CommitPerTask, CommitPerFeature, CommitManual:
	default:
		return fmt.Errorf("orchestration.commit_strategy invalid: %q", o.CommitStrategy)
	}
	if c.Generator.RateLimit < 0 || c.Generator.Burst < 0 {
		return fmt.Errorf("generator rate_limit and burst must be >= 0")
	}
	if c.Escalation.Enabled && c.Escalation.NATSURL == "" {
		return fmt.Errorf("escalation.nats_url required when escalation is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0,1]")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Orchestration.VerificationStages = slices.Clone(c.Orchestration.VerificationStages)
	out.Orchestration.StageCommands = make(map[string]string, len(c.Orchestration.StageCommands))
	for k, v := range c.Orchestration.StageCommands {
		out.Orchestration.StageCommands[k] = v
	}
	return &out
}
