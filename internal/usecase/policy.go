package usecase

import (
	"strings"
	"time"
)

// promptComplexity selects which timeout budget a build gets. It never alters
// behavior beyond that.
type promptComplexity string

const (
	complexitySimple  promptComplexity = "simple"
	complexityComplex promptComplexity = "complex"
)

// BuildPolicy holds the tunable budgets for one build: per-phase timeouts
// keyed by prompt complexity, the shared retry budget, and the thumbnail
// freshness window.
type BuildPolicy struct {
	GenerationTimeoutSimple  time.Duration
	GenerationTimeoutComplex time.Duration
	DeployTimeoutSimple      time.Duration
	DeployTimeoutComplex     time.Duration
	MaxRetries               int
	RetryBaseDelay           time.Duration
	RetryMaxDelay            time.Duration
	ProbeAttempts            int
	ProbeInterval            time.Duration
	ProbeTimeout             time.Duration
}

// DefaultBuildPolicy mirrors the budgets the service has always shipped with.
func DefaultBuildPolicy() BuildPolicy {
	return BuildPolicy{
		GenerationTimeoutSimple:  3 * time.Minute,
		GenerationTimeoutComplex: 10 * time.Minute,
		DeployTimeoutSimple:      3 * time.Minute,
		DeployTimeoutComplex:     8 * time.Minute,
		MaxRetries:               3,
		RetryBaseDelay:           30 * time.Second,
		RetryMaxDelay:            2 * time.Minute,
		ProbeAttempts:            5,
		ProbeInterval:            3 * time.Second,
		ProbeTimeout:             10 * time.Second,
	}
}

func (p BuildPolicy) retryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: p.MaxRetries, BaseDelay: p.RetryBaseDelay, MaxDelay: p.RetryMaxDelay}
}

func (p BuildPolicy) generationTimeout(c promptComplexity) time.Duration {
	if c == complexityComplex {
		return p.GenerationTimeoutComplex
	}
	return p.GenerationTimeoutSimple
}

func (p BuildPolicy) deployTimeout(c promptComplexity) time.Duration {
	if c == complexityComplex {
		return p.DeployTimeoutComplex
	}
	return p.DeployTimeoutSimple
}

// complexKeywords mark prompts that historically needed the longer budgets.
var complexKeywords = []string{
	"ecommerce", "e-commerce", "loja online", "dashboard", "aplicativo",
	"sistema", "plataforma", "multi", "várias", "complex", "store", "system",
}

const complexPromptLength = 500

func classifyComplexity(prompt string) promptComplexity {
	if len(prompt) > complexPromptLength {
		return complexityComplex
	}
	lower := strings.ToLower(prompt)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return complexityComplex
		}
	}
	return complexitySimple
}
