// Package gateway exposes the service over REST and websocket and owns the
// per-session turn lifecycle.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/tabulant/tabulant/internal/agent"
	"github.com/tabulant/tabulant/internal/dataset"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/query"
	"github.com/tabulant/tabulant/internal/store"
	"github.com/tabulant/tabulant/pkg/models"
)

// ErrTurnActive is returned when a turn is requested while one is already
// running for the session.
var ErrTurnActive = errors.New("a turn is already in progress")

// ErrNoDataset is returned when a turn is requested before a file was
// uploaded.
var ErrNoDataset = errors.New("session has no dataset")

type turn struct {
	cancel  context.CancelFunc
	emitter *agent.Emitter
	done    chan struct{}
}

// Runtime owns the active turns and dataset handles. It enforces one turn
// per session and serializes all message writes through the turn goroutine.
type Runtime struct {
	store      store.Store
	provider   agent.LLMProvider
	engine     *query.Engine
	logger     *observability.Logger
	metrics    *observability.Metrics
	loopConfig *agent.LoopConfig

	mu      sync.Mutex
	turns   map[string]*turn
	handles map[string]*dataset.Handle
}

// NewRuntime assembles the session runtime.
func NewRuntime(st store.Store, provider agent.LLMProvider, engine *query.Engine, logger *observability.Logger, metrics *observability.Metrics, loopConfig *agent.LoopConfig) *Runtime {
	return &Runtime{
		store:      st,
		provider:   provider,
		engine:     engine,
		logger:     logger,
		metrics:    metrics,
		loopConfig: loopConfig,
		turns:      make(map[string]*turn),
		handles:    make(map[string]*dataset.Handle),
	}
}

// LoadDataset opens (or returns the cached) in-memory copy of the session's
// file.
func (r *Runtime) LoadDataset(ctx context.Context, session *models.Session) (*dataset.Handle, error) {
	if session.FilePath == "" {
		return nil, ErrNoDataset
	}

	r.mu.Lock()
	if h, ok := r.handles[session.ID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	// Opened outside the lock; ingesting a large file should not stall
	// unrelated sessions.
	h, err := dataset.Open(ctx, session.FilePath, session.Filename)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[session.ID]; ok {
		h.Close()
		return existing, nil
	}
	r.handles[session.ID] = h
	return h, nil
}

// StartTurn launches the agent loop for one trigger. It returns
// ErrTurnActive if the session already has a turn running; events flow to
// sink until the turn ends or the sink is replaced.
func (r *Runtime) StartTurn(ctx context.Context, session *models.Session, trigger agent.Trigger, userText string, sink agent.EventSink) error {
	handle, err := r.LoadDataset(ctx, session)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, active := r.turns[session.ID]; active {
		r.mu.Unlock()
		return ErrTurnActive
	}

	// The turn outlives the triggering request and socket.
	turnCtx := context.WithValue(context.Background(), observability.SessionIDKey, session.ID)
	turnCtx = context.WithValue(turnCtx, observability.UserIDKey, session.UserID)
	turnCtx, cancel := context.WithCancel(turnCtx)

	emitter := agent.NewEmitter(sink)
	t := &turn{cancel: cancel, emitter: emitter, done: make(chan struct{})}
	r.turns[session.ID] = t
	r.mu.Unlock()

	toolbox := &agent.Toolbox{
		Session:       session,
		DB:            handle.DB(),
		Store:         r.store,
		Engine:        r.engine,
		Emitter:       emitter,
		Logger:        r.logger,
		Metrics:       r.metrics,
		MaxResultRows: r.loopConfig.MaxResultRows,
		MaxPlotRows:   r.loopConfig.MaxPlotRows,
	}
	loop := agent.NewLoop(r.provider, toolbox, handle.Profile(), r.logger, r.metrics, r.loopConfig)

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.turns, session.ID)
			r.mu.Unlock()
			close(t.done)
		}()
		loop.Run(turnCtx, trigger, userText)
	}()
	return nil
}

// Stop cancels the session's active turn. It reports whether a turn was
// running; stopping an idle session is a no-op.
func (r *Runtime) Stop(sessionID string) bool {
	r.mu.Lock()
	t, ok := r.turns[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// ReplaceSink redirects the active turn's events to a new sink after a
// reconnect. Events emitted during the gap are not replayed.
func (r *Runtime) ReplaceSink(sessionID string, sink agent.EventSink) bool {
	r.mu.Lock()
	t, ok := r.turns[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.emitter.ReplaceSink(sink)
	return true
}

// TurnActive reports whether the session has a running turn.
func (r *Runtime) TurnActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.turns[sessionID]
	return ok
}

// WaitTurn blocks until the session's current turn finishes. For tests.
func (r *Runtime) WaitTurn(sessionID string) {
	r.mu.Lock()
	t, ok := r.turns[sessionID]
	r.mu.Unlock()
	if ok {
		<-t.done
	}
}

// CloseSession stops any active turn and drops the cached dataset handle.
func (r *Runtime) CloseSession(sessionID string) {
	r.Stop(sessionID)

	r.mu.Lock()
	h, ok := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()
	if ok {
		h.Close()
	}
}
