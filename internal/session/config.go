package session

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/recall/internal/retention"
)

// Config holds the tunables for a Manager. All fields are explicit and
// validated at construction; start from DefaultConfig and override what
// you need, a zero Config does not validate.
type Config struct {
	// KeepVerbatim is the number of most recent turns always returned
	// uncompressed.
	KeepVerbatim int `json:"keep_verbatim" yaml:"keep_verbatim"`
	// SummarizeTrigger is the minimum number of un-summarized, non-kept
	// turns before summarization runs.
	SummarizeTrigger int `json:"summarize_trigger" yaml:"summarize_trigger"`
	// MaxDigestTokens bounds the digest size. Zero disables the bound.
	MaxDigestTokens int `json:"max_digest_tokens" yaml:"max_digest_tokens"`
	// ModelTimeout bounds a single summarizer model call.
	ModelTimeout time.Duration `json:"model_timeout" yaml:"model_timeout"`
}

// DefaultConfig mirrors the retention defaults and gives the model a
// generous but finite deadline.
func DefaultConfig() Config {
	return Config{
		KeepVerbatim:     retention.DefaultPolicy.KeepVerbatim,
		SummarizeTrigger: retention.DefaultPolicy.SummarizeTrigger,
		MaxDigestTokens:  500,
		ModelTimeout:     30 * time.Second,
	}
}

func (c Config) Validate() error {
	if err := c.policy().Validate(); err != nil {
		return err
	}
	if c.MaxDigestTokens < 0 {
		return fmt.Errorf("max_digest_tokens must be >= 0, got %d", c.MaxDigestTokens)
	}
	if c.ModelTimeout < 0 {
		return fmt.Errorf("model_timeout must be >= 0, got %s", c.ModelTimeout)
	}
	return nil
}

func (c Config) policy() retention.Policy {
	return retention.Policy{
		KeepVerbatim:     c.KeepVerbatim,
		SummarizeTrigger: c.SummarizeTrigger,
	}
}
