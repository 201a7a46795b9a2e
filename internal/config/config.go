// Package config loads the recall profile from a YAML or JSON file and
// validates it before the session manager is wired up.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/session"
	"github.com/felixgeelhaar/recall/internal/store"
)

// Duration wraps time.Duration so profiles can spell timeouts as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Profile is the on-disk configuration for recall. Every field is optional;
// zero values fall back to defaults at load time.
type Profile struct {
	Provider         string   `json:"provider" yaml:"provider"`
	Model            string   `json:"model" yaml:"model"`
	BaseURL          string   `json:"base_url" yaml:"base_url"`
	KeepVerbatim     int      `json:"keep_verbatim" yaml:"keep_verbatim"`
	SummarizeTrigger int      `json:"summarize_trigger" yaml:"summarize_trigger"`
	MaxDigestTokens  int      `json:"max_digest_tokens" yaml:"max_digest_tokens"`
	ModelTimeout     Duration `json:"model_timeout" yaml:"model_timeout"`
	PluginPath       string   `json:"plugin_path" yaml:"plugin_path"`

	Guard GuardProfile `json:"guard" yaml:"guard"`
}

// GuardProfile configures the intake guard.
type GuardProfile struct {
	MaxContentTokens  int      `json:"max_content_tokens" yaml:"max_content_tokens"`
	AllowedRoles      []string `json:"allowed_roles" yaml:"allowed_roles"`
	SessionGlobs      []string `json:"session_globs" yaml:"session_globs"`
	BlockedSubstrings []string `json:"blocked_substrings" yaml:"blocked_substrings"`
}

// ValidationResult is the outcome of a profile lint pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

var knownProviders = []string{"openai", "anthropic", "ollama", "gemini", "cli"}

// Default returns a profile mirroring the session defaults.
func Default() Profile {
	sc := session.DefaultConfig()
	gp := guard.DefaultPolicy
	return Profile{
		Provider:         "openai",
		KeepVerbatim:     sc.KeepVerbatim,
		SummarizeTrigger: sc.SummarizeTrigger,
		MaxDigestTokens:  sc.MaxDigestTokens,
		ModelTimeout:     Duration(sc.ModelTimeout),
		Guard: GuardProfile{
			MaxContentTokens: gp.MaxContentTokens,
		},
	}
}

// Load reads a profile from a JSON or YAML file, applying defaults for
// fields the file omits. A missing file yields the default profile.
func Load(path string) (Profile, error) {
	profile := Default()

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return profile, fmt.Errorf("failed to read profile: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &profile); err != nil {
			return profile, fmt.Errorf("failed to unmarshal JSON profile: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return profile, fmt.Errorf("failed to unmarshal YAML profile: %w", err)
		}
	default:
		return profile, fmt.Errorf("unsupported profile format: %s (use .json or .yaml)", ext)
	}

	return profile, nil
}

// Validate lints a profile for completeness and sane ranges.
func (p Profile) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if p.Provider != "" && !isKnownProvider(p.Provider) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("unknown provider %q (known: %s)", p.Provider, strings.Join(knownProviders, ", ")))
	}

	if p.KeepVerbatim < 1 {
		res.Valid = false
		res.Errors = append(res.Errors, "keep_verbatim must be at least 1")
	}
	if p.SummarizeTrigger < 1 {
		res.Valid = false
		res.Errors = append(res.Errors, "summarize_trigger must be at least 1")
	}
	if p.MaxDigestTokens < 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "max_digest_tokens cannot be negative")
	}
	if p.ModelTimeout < 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "model_timeout cannot be negative")
	}

	if p.SummarizeTrigger >= 1 && p.KeepVerbatim >= 1 && p.SummarizeTrigger <= p.KeepVerbatim {
		res.Warnings = append(res.Warnings, "summarize_trigger at or below keep_verbatim; summarization will run on nearly every read")
	}
	if p.Model == "" {
		res.Warnings = append(res.Warnings, "no model set; the provider default will be used")
	}
	if p.PluginPath != "" {
		if _, err := os.Stat(p.PluginPath); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("plugin_path %q is not accessible: %v", p.PluginPath, err))
		}
	}

	return res
}

// SessionConfig converts the profile into session manager configuration.
func (p Profile) SessionConfig() session.Config {
	return session.Config{
		KeepVerbatim:     p.KeepVerbatim,
		SummarizeTrigger: p.SummarizeTrigger,
		MaxDigestTokens:  p.MaxDigestTokens,
		ModelTimeout:     time.Duration(p.ModelTimeout),
	}
}

// GuardPolicy converts the guard section into a guard policy.
func (p Profile) GuardPolicy() guard.Policy {
	roles := make([]store.Role, 0, len(p.Guard.AllowedRoles))
	for _, r := range p.Guard.AllowedRoles {
		roles = append(roles, store.Role(r))
	}
	return guard.Policy{
		MaxContentTokens:  p.Guard.MaxContentTokens,
		AllowedRoles:      roles,
		SessionGlobs:      p.Guard.SessionGlobs,
		BlockedSubstrings: p.Guard.BlockedSubstrings,
	}
}

func isKnownProvider(name string) bool {
	for _, p := range knownProviders {
		if p == name {
			return true
		}
	}
	return false
}
