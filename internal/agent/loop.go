package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/tabulant/tabulant/internal/backoff"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/pkg/models"
)

// Outcome labels how a turn ended. Used for logging and metrics only.
type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
	OutcomeCapped    Outcome = "capped"
)

// apologyText is the safety-net message for turns that end without any
// visible output.
const apologyText = "Sorry, I wasn't able to produce an answer for that. Please try rephrasing your question."

// Loop drives one turn: a bounded sequence of model requests and tool
// dispatches ending in exactly one done event.
//
// States: idle, then alternating requesting and dispatching, terminating in
// finalized, aborted, capped, or failed. All waiting happens inside the
// model request, the query engine, or the sink; cancellation is observed
// before each of those suspension points.
type Loop struct {
	provider LLMProvider
	toolbox  *Toolbox
	profile  *models.Profile
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   *LoopConfig
}

// NewLoop assembles a turn runner. config may be nil for defaults.
func NewLoop(provider LLMProvider, toolbox *Toolbox, profile *models.Profile, logger *observability.Logger, metrics *observability.Metrics, config *LoopConfig) *Loop {
	return &Loop{
		provider: provider,
		toolbox:  toolbox,
		profile:  profile,
		logger:   logger,
		metrics:  metrics,
		config:   sanitizeLoopConfig(config),
	}
}

// Run executes one turn to completion. It blocks for the duration of the
// turn; the caller runs it on its own goroutine and cancels ctx to stop it.
// Run never returns before the done event is emitted.
func (l *Loop) Run(ctx context.Context, trigger Trigger, userText string) {
	cfg := l.config
	emitter := l.toolbox.Emitter

	ctx, cancel := context.WithTimeout(ctx, cfg.MaxTurnDuration)
	defer cancel()

	l.metrics.TurnsStarted.WithLabelValues(string(trigger)).Inc()

	outcome := l.run(ctx, trigger, userText)

	if outcome != OutcomeAborted && !emitter.HasVisibleOutput() {
		// Persist-and-emit so the apology also survives a restore.
		if err := l.toolbox.persistBody(context.WithoutCancel(ctx), models.KindText, apologyText); err != nil {
			l.logger.Warn(ctx, "failed to persist apology", "error", err)
		}
		_ = emitter.Emit(context.WithoutCancel(ctx), models.TextEvent(apologyText))
	}

	emitter.Done(context.WithoutCancel(ctx), models.DoneData{
		Aborted:    outcome == OutcomeAborted,
		Incomplete: outcome == OutcomeCapped,
	})

	l.metrics.TurnsFinished.WithLabelValues(string(outcome)).Inc()
	l.logger.Info(ctx, "turn finished", "trigger", string(trigger), "outcome", string(outcome))
}

func (l *Loop) run(ctx context.Context, trigger Trigger, userText string) Outcome {
	emitter := l.toolbox.Emitter
	session := l.toolbox.Session

	history, err := l.toolbox.Store.ListMessages(ctx, session.ID)
	if err != nil {
		return l.fail(ctx, fmt.Errorf("failed to load history: %w", err))
	}

	if trigger == TriggerMessage {
		if _, err := l.toolbox.Store.AppendMessage(ctx, &models.Message{
			SessionID: session.ID,
			Role:      models.RoleUser,
			Kind:      models.KindText,
			Body:      userText,
		}); err != nil {
			return l.fail(ctx, fmt.Errorf("failed to persist user message: %w", err))
		}
	}

	system := BuildSystemPrompt(trigger, l.profile)
	messages := BuildMessages(history, trigger, userText, l.config.ContextTokenBudget, CountTokens(system))

	for iteration := 1; iteration <= l.config.MaxIterations; iteration++ {
		if aborted, outcome := l.observeCancel(ctx); aborted {
			return outcome
		}

		emitter.Status(ctx, "Thinking...")

		completion, err := l.complete(ctx, &CompletionRequest{
			System:    system,
			Messages:  messages,
			Tools:     Tools(),
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			if aborted, outcome := l.observeCancel(ctx); aborted {
				return outcome
			}
			return l.fail(ctx, fmt.Errorf("model request failed: %w", err))
		}

		if completion.Text != "" {
			if err := l.toolbox.persistBody(ctx, models.KindInternal, completion.Text); err != nil {
				return l.fail(ctx, err)
			}
		}

		messages = append(messages, CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		// End of turn without a tool call is an implicit finalize.
		if len(completion.ToolCalls) == 0 {
			return OutcomeFinalized
		}

		results := make([]models.ToolResult, 0, len(completion.ToolCalls))
		finalized := false
		for _, call := range completion.ToolCalls {
			if aborted, outcome := l.observeCancel(ctx); aborted {
				return outcome
			}
			result, final := l.toolbox.Dispatch(ctx, call)
			results = append(results, result)
			finalized = finalized || final
		}

		messages = append(messages, CompletionMessage{
			Role:        string(models.RoleUser),
			ToolResults: results,
		})

		if finalized {
			return OutcomeFinalized
		}
	}

	l.logger.Warn(ctx, "iteration cap reached", "max_iterations", l.config.MaxIterations)
	return OutcomeCapped
}

// complete performs one model request with per-attempt timeouts and jittered
// retries for transient failures.
func (l *Loop) complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	result, err := backoff.Retry(ctx, backoff.LLMPolicy(), l.config.MaxLLMAttempts,
		func(attempt int) (*Completion, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, l.config.RequestTimeout)
			defer cancel()

			completion, err := l.provider.Complete(attemptCtx, req)
			if err != nil {
				l.metrics.LLMRequests.WithLabelValues("error").Inc()
				l.logger.Warn(ctx, "model request attempt failed",
					"provider", l.provider.Name(), "attempt", attempt, "error", err)
				return nil, err
			}
			l.metrics.LLMRequests.WithLabelValues("ok").Inc()
			return completion, nil
		})
	if err != nil {
		if result.LastError != nil {
			return nil, result.LastError
		}
		return nil, err
	}
	return result.Value, nil
}

// observeCancel distinguishes a client stop from the turn deadline. The
// deadline gets an error event; a stop does not.
func (l *Loop) observeCancel(ctx context.Context) (bool, Outcome) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		_ = l.toolbox.Emitter.Emit(context.WithoutCancel(ctx),
			models.ErrorEvent("The turn exceeded its time limit."))
		return true, OutcomeAborted
	case ctx.Err() != nil:
		return true, OutcomeAborted
	}
	return false, ""
}

func (l *Loop) fail(ctx context.Context, err error) Outcome {
	// A cancelled turn is an abort, not a failure, whatever error the
	// cancellation surfaced as.
	if aborted, outcome := l.observeCancel(ctx); aborted {
		return outcome
	}
	l.logger.Error(ctx, "turn failed", "error", err)
	_ = l.toolbox.Emitter.Emit(context.WithoutCancel(ctx),
		models.ErrorEvent("Something went wrong while answering. Please try again."))
	return OutcomeFailed
}
