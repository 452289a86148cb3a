package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memoryStore struct {
	values map[string]string
	sets   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryStore) Set(key, value string) error {
	m.sets++
	m.values[key] = value
	return nil
}

func (m *memoryStore) Delete(key string) error {
	delete(m.values, key)
	return nil
}

type mockCreator struct {
	id    string
	err   error
	calls int
}

func (m *mockCreator) CreateSession(ctx context.Context) (string, error) {
	m.calls++
	return m.id, m.err
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("no entropy")
}

func TestGenerator(t *testing.T) {
	t.Run("SecureSource", func(t *testing.T) {
		id := Generator{}.NewID()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("Expected a valid UUID, got '%s': %v", id, err)
		}
		if parsed.Version() != 4 {
			t.Errorf("Expected version 4, got %d", parsed.Version())
		}
	})

	t.Run("Fallback", func(t *testing.T) {
		gen := Generator{Rand: failingReader{}}
		a, b := gen.NewID(), gen.NewID()
		parsed, err := uuid.Parse(a)
		if err != nil {
			t.Fatalf("Expected fallback to produce a valid UUID, got '%s': %v", a, err)
		}
		if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
			t.Errorf("Expected RFC 4122 v4 layout, got version %d variant %v", parsed.Version(), parsed.Variant())
		}
		if a == b {
			t.Error("Expected fallback ids to differ")
		}
	})
}

func TestProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("GeneratesAndPersists", func(t *testing.T) {
		store := newMemoryStore()
		p := NewProvider(store, nil, zap.NewNop())

		if _, ok := p.SessionID(); ok {
			t.Fatal("Expected no session id before Resolve")
		}
		id, err := p.Resolve(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if store.values[StorageKey] != id {
			t.Errorf("Expected id persisted under %q", StorageKey)
		}
		again, _ := p.Resolve(ctx)
		if again != id {
			t.Errorf("Expected stable id, got '%s' then '%s'", id, again)
		}
		if store.sets != 1 {
			t.Errorf("Expected a single persist, got %d", store.sets)
		}
	})

	t.Run("RestoresWithoutNetwork", func(t *testing.T) {
		store := newMemoryStore()
		store.values[StorageKey] = "stored-id"
		creator := &mockCreator{id: "new-id"}
		p := NewProvider(store, creator, zap.NewNop())

		id, err := p.Resolve(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if id != "stored-id" {
			t.Errorf("Expected restored id, got '%s'", id)
		}
		if creator.calls != 0 {
			t.Errorf("Expected no create call, got %d", creator.calls)
		}
	})

	t.Run("BackendIssued", func(t *testing.T) {
		store := newMemoryStore()
		creator := &mockCreator{id: "srv-42"}
		p := NewProvider(store, creator, zap.NewNop())

		id, err := p.Resolve(ctx)
		if err != nil || id != "srv-42" {
			t.Fatalf("Expected srv-42, got '%s' (%v)", id, err)
		}
		if store.values[StorageKey] != "srv-42" {
			t.Error("Expected backend id to be persisted")
		}
	})

	t.Run("BackendFailureNoRetry", func(t *testing.T) {
		store := newMemoryStore()
		creator := &mockCreator{err: errors.New("connection refused")}
		p := NewProvider(store, creator, zap.NewNop())

		if _, err := p.Resolve(ctx); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("Expected ErrUnresolved, got %v", err)
		}
		if _, err := p.Resolve(ctx); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("Expected ErrUnresolved on second call, got %v", err)
		}
		if creator.calls != 1 {
			t.Errorf("Expected exactly one create attempt, got %d", creator.calls)
		}
		if _, ok := p.SessionID(); ok {
			t.Error("Expected session id to stay unset")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		store := newMemoryStore()
		p := NewProvider(store, nil, zap.NewNop())
		first, _ := p.Resolve(ctx)

		if err := p.Reset(); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if _, ok := store.values[StorageKey]; ok {
			t.Error("Expected stored id to be removed")
		}
		second, _ := p.Resolve(ctx)
		if second == first {
			t.Error("Expected a new id after Reset")
		}
	})
}
