package poller

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/mealapi"
)

// DefaultInterval is the gap between two status requests.
const DefaultInterval = 2 * time.Second

// Backend is the part of the API the poller needs.
type Backend interface {
	Status(ctx context.Context, sessionID string) (*mealapi.StatusResponse, error)
	Analyze(ctx context.Context, sessionID string) error
}

// Options tune the poll loop.
type Options struct {
	Interval time.Duration
	// AutoAnalyze triggers analysis once when "uploaded" is observed, for
	// sessions whose images were uploaded by another client.
	AutoAnalyze bool
	// StopOnError treats the "error" status as terminal.
	StopOnError bool
}

// Update is the poller's view of a session after a status response.
type Update struct {
	SessionID string
	Status    analysis.Status
	Result    analysis.Result
}

// Poller repeatedly queries the status endpoint of a session.
type Poller struct {
	backend Backend
	clock   Clock
	logger  *zap.Logger
	opts    Options
}

// New creates a Poller. A nil clock uses the wall clock.
func New(backend Backend, clock Clock, logger *zap.Logger, opts Options) *Poller {
	if clock == nil {
		clock = RealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Poller{backend: backend, clock: clock, logger: logger, opts: opts}
}

// Terminal reports whether polling stops at status s.
func (p *Poller) Terminal(s analysis.Status) bool {
	if s == analysis.StatusDone {
		return true
	}
	return s == analysis.StatusError && p.opts.StopOnError
}

// Task is a running poll loop.
type Task struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	last Update
	err  error
}

// SessionID returns the session the task polls.
func (t *Task) SessionID() string {
	return t.sessionID
}

// Cancel stops the loop. The ticker is released before Done closes.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the loop exits and returns the final state. err is the
// context error when the task was cancelled before reaching a terminal status.
func (t *Task) Wait() (Update, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.err
}

// Last returns the most recent state.
func (t *Task) Last() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Task) set(u Update) {
	t.mu.Lock()
	t.last = u
	t.mu.Unlock()
}

// Start launches the poll loop for sessionID. onUpdate, if non-nil, is called
// from the loop goroutine whenever the status or result changes.
func (p *Poller) Start(ctx context.Context, sessionID string, onUpdate func(Update)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
		last:      Update{SessionID: sessionID, Status: analysis.StatusWaiting},
	}
	go p.run(ctx, t, onUpdate)
	return t
}

func (p *Poller) run(ctx context.Context, t *Task, onUpdate func(Update)) {
	var triggers sync.WaitGroup
	defer close(t.done)
	defer triggers.Wait()
	defer t.cancel()

	ticker := p.clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	log := p.logger.With(zap.String("session_id", t.sessionID))
	state := t.Last()
	analyzeTriggered := false

	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.err = ctx.Err()
			t.mu.Unlock()
			return
		case <-ticker.C():
		}

		resp, err := p.backend.Status(ctx, t.sessionID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("status poll failed", zap.Error(err))
			continue
		}

		next := Update{
			SessionID: t.sessionID,
			Status:    analysis.ParseStatus(resp.Status),
			Result:    state.Result.Merge(resp.Result()),
		}

		if p.opts.AutoAnalyze && next.Status == analysis.StatusUploaded && !analyzeTriggered {
			analyzeTriggered = true
			// The backend may hold the request open for the whole run, so
			// ticks keep flowing while it is in flight.
			triggers.Add(1)
			go func() {
				defer triggers.Done()
				if err := p.backend.Analyze(ctx, t.sessionID); err != nil {
					if ctx.Err() == nil {
						log.Warn("automatic analysis trigger failed", zap.Error(err))
					}
					return
				}
				log.Info("analysis triggered by poller")
			}()
		}

		changed := next.Status != state.Status || !reflect.DeepEqual(next.Result, state.Result)
		state = next
		t.set(state)
		if changed {
			log.Debug("session updated", zap.String("status", next.Status.String()))
			if onUpdate != nil {
				onUpdate(state)
			}
		}

		if p.Terminal(state.Status) {
			log.Info("polling finished", zap.String("status", state.Status.String()))
			return
		}
	}
}

// Watcher owns at most one poll task and replaces it when the session changes.
type Watcher struct {
	poller *Poller

	mu   sync.Mutex
	task *Task
}

// NewWatcher creates a Watcher.
func NewWatcher(p *Poller) *Watcher {
	return &Watcher{poller: p}
}

// Watch starts polling sessionID. A task for a different session is
// cancelled first; a running task for the same session is kept.
func (w *Watcher) Watch(ctx context.Context, sessionID string, onUpdate func(Update)) *Task {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.task != nil {
		select {
		case <-w.task.Done():
		default:
			if w.task.SessionID() == sessionID {
				return w.task
			}
		}
		w.task.Cancel()
		<-w.task.Done()
	}
	w.task = w.poller.Start(ctx, sessionID, onUpdate)
	return w.task
}

// Stop cancels the current task, if any, and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.task == nil {
		return
	}
	w.task.Cancel()
	<-w.task.Done()
	w.task = nil
}
