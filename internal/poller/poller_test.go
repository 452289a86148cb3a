package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/mealapi"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeClock hands out one shared, unbuffered ticker so each tick is a
// synchronous step of the poll loop.
type fakeClock struct {
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{ch: make(chan time.Time)}}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	return c.ticker
}

// tick delivers one tick, or returns false once the task has exited.
func (c *fakeClock) tick(task *Task) bool {
	select {
	case c.ticker.ch <- time.Now():
		return true
	case <-task.Done():
		return false
	}
}

type step struct {
	resp *mealapi.StatusResponse
	err  error
}

type mockBackend struct {
	mu           sync.Mutex
	steps        []step
	statusCalls  int
	analyzeCalls int
	// holdAnalyze keeps Analyze open until its context ends, like a backend
	// that answers /analyze only once the run finishes.
	holdAnalyze bool
}

func (m *mockBackend) Status(ctx context.Context, sessionID string) (*mealapi.StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.statusCalls
	m.statusCalls++
	if i >= len(m.steps) {
		return m.steps[len(m.steps)-1].resp, m.steps[len(m.steps)-1].err
	}
	return m.steps[i].resp, m.steps[i].err
}

func (m *mockBackend) Analyze(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.analyzeCalls++
	hold := m.holdAnalyze
	m.mu.Unlock()
	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mockBackend) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls, m.analyzeCalls
}

func status(s string) step {
	return step{resp: &mealapi.StatusResponse{Status: s}}
}

func drive(t *testing.T, clock *fakeClock, task *Task, max int) int {
	t.Helper()
	n := 0
	for n < max && clock.tick(task) {
		n++
	}
	return n
}

func TestPollerStopsAtDone(t *testing.T) {
	backend := &mockBackend{steps: []step{
		status("uploaded"),
		status("analyzing"),
		{resp: &mealapi.StatusResponse{
			Status:       "done",
			Ingredients:  []analysis.Ingredient{{Name: "卵", Category: "卵・乳製品"}},
			ShoppingList: []analysis.ShoppingItem{{Item: "牛乳"}},
		}},
		status("analyzing"),
	}}
	clock := newFakeClock()
	p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second, StopOnError: true})

	var seen []analysis.Status
	task := p.Start(context.Background(), "s1", func(u Update) { seen = append(seen, u.Status) })

	ticks := drive(t, clock, task, 10)
	final, err := task.Wait()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ticks != 3 {
		t.Errorf("Expected the loop to stop after 3 ticks, got %d", ticks)
	}
	if calls, _ := backend.counts(); calls != 3 {
		t.Errorf("Expected no requests after done, got %d status calls", calls)
	}
	if final.Status != analysis.StatusDone {
		t.Errorf("Expected done, got %s", final.Status)
	}
	if len(final.Result.Ingredients) != 1 || final.Result.ShoppingList[0].Item != "牛乳" {
		t.Errorf("Unexpected final result %+v", final.Result)
	}
	want := []analysis.Status{analysis.StatusUploaded, analysis.StatusAnalyzing, analysis.StatusDone}
	if len(seen) != len(want) {
		t.Fatalf("Expected updates %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Update %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if !clock.ticker.isStopped() {
		t.Error("Expected the ticker to be released")
	}
}

func TestPollerMergesAdditively(t *testing.T) {
	backend := &mockBackend{steps: []step{
		{err: errors.New("connection refused")},
		{resp: &mealapi.StatusResponse{
			Status:      "ingredients_ready",
			Ingredients: []analysis.Ingredient{{Name: "卵", Category: analysis.DefaultCategory}},
		}},
		{resp: &mealapi.StatusResponse{
			Status:   "done",
			MealPlan: []analysis.DayPlan{{Day: "月曜日", Meals: analysis.Meals{Dinner: "親子丼"}}},
		}},
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	clock := newFakeClock()
	p := New(backend, clock, zap.New(core), Options{Interval: time.Second})

	task := p.Start(context.Background(), "s1", nil)
	drive(t, clock, task, 10)
	final, err := task.Wait()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(final.Result.Ingredients) != 1 || final.Result.Ingredients[0].Name != "卵" {
		t.Errorf("Expected ingredients kept from the earlier poll, got %+v", final.Result.Ingredients)
	}
	if len(final.Result.MealPlan) != 1 {
		t.Errorf("Expected meal plan from the last poll, got %+v", final.Result.MealPlan)
	}
	if logs.FilterMessage("status poll failed").Len() != 1 {
		t.Error("Expected the failed poll to be logged and skipped")
	}
}

func TestPollerAutoAnalyze(t *testing.T) {
	t.Run("TriggersOnce", func(t *testing.T) {
		backend := &mockBackend{steps: []step{
			status("uploaded"), status("uploaded"), status("analyzing"), status("done"),
		}}
		clock := newFakeClock()
		p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second, AutoAnalyze: true})

		task := p.Start(context.Background(), "s1", nil)
		drive(t, clock, task, 10)
		task.Wait()

		if _, analyze := backend.counts(); analyze != 1 {
			t.Errorf("Expected exactly one analyze call, got %d", analyze)
		}
	})

	t.Run("LongRunningTrigger", func(t *testing.T) {
		backend := &mockBackend{holdAnalyze: true, steps: []step{
			status("uploaded"), status("analyzing"), status("ingredients_ready"), status("done"),
		}}
		clock := newFakeClock()
		core, logs := observer.New(zapcore.WarnLevel)
		p := New(backend, clock, zap.New(core), Options{Interval: time.Second, AutoAnalyze: true})

		var seen []analysis.Status
		task := p.Start(context.Background(), "s1", func(u Update) { seen = append(seen, u.Status) })
		drive(t, clock, task, 10)
		final, err := task.Wait()

		if err != nil || final.Status != analysis.StatusDone {
			t.Fatalf("Expected done, got %s (%v)", final.Status, err)
		}
		want := []analysis.Status{
			analysis.StatusUploaded, analysis.StatusAnalyzing, analysis.StatusIngredientsReady, analysis.StatusDone,
		}
		if len(seen) != len(want) {
			t.Fatalf("Expected every intermediate status while analyze was open, got %v", seen)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("Update %d: expected %s, got %s", i, want[i], seen[i])
			}
		}
		if logs.Len() != 0 {
			t.Errorf("Expected the trigger released quietly at done, got %d warnings", logs.Len())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		backend := &mockBackend{steps: []step{status("uploaded"), status("done")}}
		clock := newFakeClock()
		p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second})

		task := p.Start(context.Background(), "s1", nil)
		drive(t, clock, task, 10)
		task.Wait()

		if _, analyze := backend.counts(); analyze != 0 {
			t.Errorf("Expected no analyze calls, got %d", analyze)
		}
	})
}

func TestPollerErrorStatus(t *testing.T) {
	t.Run("StopOnError", func(t *testing.T) {
		backend := &mockBackend{steps: []step{status("analyzing"), status("error"), status("done")}}
		clock := newFakeClock()
		p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second, StopOnError: true})

		task := p.Start(context.Background(), "s1", nil)
		drive(t, clock, task, 10)
		final, _ := task.Wait()

		if final.Status != analysis.StatusError {
			t.Errorf("Expected error status, got %s", final.Status)
		}
		if calls, _ := backend.counts(); calls != 2 {
			t.Errorf("Expected polling to stop at error, got %d calls", calls)
		}
	})

	t.Run("KeepPolling", func(t *testing.T) {
		backend := &mockBackend{steps: []step{status("error"), status("done")}}
		clock := newFakeClock()
		p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second})

		task := p.Start(context.Background(), "s1", nil)
		drive(t, clock, task, 10)
		final, _ := task.Wait()

		if final.Status != analysis.StatusDone {
			t.Errorf("Expected polling to continue past error, got %s", final.Status)
		}
	})
}

func TestPollerUnknownStatus(t *testing.T) {
	backend := &mockBackend{steps: []step{status("queued"), status("done")}}
	clock := newFakeClock()
	p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second})

	var seen []analysis.Status
	task := p.Start(context.Background(), "s1", func(u Update) { seen = append(seen, u.Status) })
	drive(t, clock, task, 10)
	task.Wait()

	if len(seen) == 0 || seen[0] != analysis.Status("queued") {
		t.Errorf("Expected unknown status passed through, got %v", seen)
	}
}

func TestPollerCancel(t *testing.T) {
	backend := &mockBackend{steps: []step{status("analyzing")}}
	clock := newFakeClock()
	p := New(backend, clock, zap.NewNop(), Options{Interval: time.Second})

	task := p.Start(context.Background(), "s1", nil)
	drive(t, clock, task, 2)
	task.Cancel()

	final, err := task.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if final.Status != analysis.StatusAnalyzing {
		t.Errorf("Expected last state kept, got %s", final.Status)
	}
	if !clock.ticker.isStopped() {
		t.Error("Expected the ticker to be released on cancel")
	}
	if clock.tick(task) {
		t.Error("Expected no ticks to be consumed after cancel")
	}
}

func TestWatcher(t *testing.T) {
	backend := &mockBackend{steps: []step{status("analyzing")}}
	p := New(backend, newFakeClock(), zap.NewNop(), Options{Interval: time.Second})
	w := NewWatcher(p)

	first := w.Watch(context.Background(), "a", nil)
	if same := w.Watch(context.Background(), "a", nil); same != first {
		t.Error("Expected the running task to be reused for the same session")
	}

	second := w.Watch(context.Background(), "b", nil)
	select {
	case <-first.Done():
	default:
		t.Fatal("Expected the previous task to be cancelled")
	}
	if second.SessionID() != "b" {
		t.Errorf("Expected task for b, got %s", second.SessionID())
	}

	w.Stop()
	select {
	case <-second.Done():
	default:
		t.Error("Expected Stop to cancel the current task")
	}
}
