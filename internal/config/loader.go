package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "TASKPILOT_"
)

const defaultsYAML = `
server:
  port: 9191
  shutdown_timeout: 10s
logging:
  level: info
  format: json
observability:
  enable_telemetry: false
  endpoint: localhost:4317
  service_name: taskpilot
  insecure: true
  sample_rate: 1.0
orchestration:
  max_self_correction_attempts: 3
  verification_stages: [fmt, build, lint, test]
  stage_commands:
    fmt: test -z "$(gofmt -l .)"
    build: go build ./...
    lint: go vet ./...
    test: go test ./...
  stage_timeout: 10m
  selection_policy: insertion
  autonomy_level: full_autopilot
  commit_strategy: per_task
  commit_author: taskpilot
  commit_email: taskpilot@localhost
generator:
  provider: openai
  base_url: https://api.openai.com/v1
  tier1_model: gpt-4o
  tier2_model: gpt-4o-mini
  rate_limit: 1
  burst: 2
  timeout: 2m
knowledge:
  enabled: true
  path: .taskpilot/index
  collection: project
  refresh_per_minute: 6
  max_file_bytes: 262144
  embed_dimensions: 256
escalation:
  enabled: false
  subject_prefix: taskpilot
checkpoint:
  enabled: true
  dir: .taskpilot/checkpoints
`

// Default returns the built-in settings.
func Default() *Config {
	cfg, err := load(nil)
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults invalid: %v", err))
	}
	return cfg
}

// Load reads settings from the YAML file at path (skipped when empty or
// missing) and then from TASKPILOT_* environment variables.
//
// Environment variables map to keys by stripping the prefix, lowercasing
// and splitting on the first underscore:
//
//	TASKPILOT_ORCHESTRATION_MAX_SELF_CORRECTION_ATTEMPTS -> orchestration.max_self_correction_attempts
//	TASKPILOT_GENERATOR_API_KEY -> generator.api_key
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		content = data
	}

	cfg, err := load(content)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(file []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if len(file) > 0 {
		if err := k.Load(rawbytes.Provider(file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps TASKPILOT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens path once and validates it through the descriptor.
// A missing file is not an error.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// validateConfigFileProperties rejects non-regular, writable-by-others and
// oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config path is not a regular file")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0022 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
