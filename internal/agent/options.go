package agent

import "time"

// LoopConfig configures the agent loop behavior: iteration limits, timeouts,
// and retry counts.
type LoopConfig struct {
	// MaxIterations limits the number of tool use iterations.
	// Default: 15
	MaxIterations int

	// MaxTokens is the max tokens for each LLM response.
	// Default: 4096
	MaxTokens int

	// MaxTurnDuration bounds a whole turn's wall clock.
	// Default: 10 minutes
	MaxTurnDuration time.Duration

	// RequestTimeout bounds a single LLM attempt, exclusive of retries.
	// Default: 60 seconds
	RequestTimeout time.Duration

	// MaxLLMAttempts is the attempt count for transient LLM failures.
	// Default: 3
	MaxLLMAttempts int

	// ContextTokenBudget bounds the replayed conversation.
	// Default: 24000
	ContextTokenBudget int

	// MaxResultRows caps sql_query results.
	// Default: 50
	MaxResultRows int

	// MaxPlotRows caps rows embedded in a chart spec.
	// Default: 100
	MaxPlotRows int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:      15,
		MaxTokens:          4096,
		MaxTurnDuration:    10 * time.Minute,
		RequestTimeout:     60 * time.Second,
		MaxLLMAttempts:     3,
		ContextTokenBudget: 24000,
		MaxResultRows:      50,
		MaxPlotRows:        100,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxTurnDuration <= 0 {
		cfg.MaxTurnDuration = defaults.MaxTurnDuration
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxLLMAttempts <= 0 {
		cfg.MaxLLMAttempts = defaults.MaxLLMAttempts
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = defaults.ContextTokenBudget
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = defaults.MaxResultRows
	}
	if cfg.MaxPlotRows <= 0 {
		cfg.MaxPlotRows = defaults.MaxPlotRows
	}
	return &cfg
}
