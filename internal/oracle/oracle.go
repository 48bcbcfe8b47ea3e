// Package oracle implements the text-mutation oracle consumed by the drift
// scheduler.
//
// Every implementation is fail-open: Mutate never returns an error, it hands
// back the original title and content when anything goes wrong.
package oracle

import (
	"context"
	"os"
	"strings"
	"time"

	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

const (
	ProviderGemini      = "gemini"
	ProviderPassthrough = "passthrough"

	DefaultModel     = "gemini-2.5-flash"
	DefaultEndpoint  = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout   = 20 * time.Second
	DefaultAPIKeyEnv = "GEMINI_API_KEY"
)

// Config selects and tunes the oracle.
type Config struct {
	Provider  string
	APIKey    string
	APIKeyEnv string // consulted when APIKey is empty
	Model     string
	Endpoint  string
	Timeout   time.Duration

	// RatePerSec limits outbound requests; 0 disables limiting.
	RatePerSec float64
	Burst      int
}

// New returns the configured oracle. A Gemini provider without an API key
// degrades to Passthrough, with a warning.
func New(cfg Config, log logx.Logger) notes.Oracle {
	if log.IsZero() {
		log = logx.Nop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}
	if provider == ProviderPassthrough {
		return Passthrough{}
	}

	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		env := cfg.APIKeyEnv
		if env == "" {
			env = DefaultAPIKeyEnv
		}
		key = strings.TrimSpace(os.Getenv(env))
	}
	if key == "" {
		log.Warn("oracle api key not set; entries will not drift")
		return Passthrough{}
	}
	cfg.APIKey = key
	return NewGemini(cfg, nil, log)
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Mutate(_ context.Context, title, content string, _ notes.ChangeRate) (string, string) {
	return title, content
}
