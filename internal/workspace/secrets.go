package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// AllowlistFile is the project-level gitleaks allowlist.
const AllowlistFile = ".gitleaks.toml"

// Finding is a secret detected in generated content.
type Finding struct {
	Path   string
	RuleID string
	Line   int
}

// Allowlist excludes paths or content patterns from secret detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist reads root/.gitleaks.toml. A missing file yields an empty
// allowlist; invalid TOML or patterns are errors.
func LoadAllowlist(root string) (*Allowlist, error) {
	var file struct {
		Allowlist Allowlist
	}
	path := filepath.Join(root, AllowlistFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Allowlist{}, nil
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	for _, p := range append(append([]string{}, file.Allowlist.Paths...), file.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q in %s: %w", p, path, err)
		}
	}
	return &file.Allowlist, nil
}

// scanSecrets runs the default gitleaks rules over content.
func scanSecrets(path, content string, allow *Allowlist) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if allow != nil {
		if matchesAny(allow.Paths, path) {
			return nil, nil
		}
		applyAllowlist(&detector.Config, allow)
	}

	var findings []Finding
	for _, f := range detector.DetectString(content) {
		findings = append(findings, Finding{Path: path, RuleID: f.RuleID, Line: f.StartLine})
	}
	return findings, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	entry := &gitleaksConfig.Allowlist{Description: "taskpilot project allowlist"}
	for _, p := range allow.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	entry.StopWords = append(entry.StopWords, allow.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}

func matchesAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if regexp.MustCompile(p).MatchString(s) {
			return true
		}
	}
	return false
}
