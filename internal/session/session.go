package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageKey is the session storage key holding the active session id.
const StorageKey = "sessionId"

// ErrUnresolved is returned once backend session creation has failed. The
// provider does not retry; Reset starts over.
var ErrUnresolved = errors.New("session id could not be resolved")

// Store persists the session id between runs.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Creator asks the backend to issue a session id.
type Creator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Generator produces UUID v4 identifiers. A failing random source falls
// back to a math/rand based v4 layout.
type Generator struct {
	Rand io.Reader
}

// NewID returns a random UUID v4 string.
func (g Generator) NewID() string {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	id, err := uuid.NewRandomFromReader(r)
	if err == nil {
		return id.String()
	}
	return fallbackV4()
}

func fallbackV4() string {
	var b [16]byte
	for i := 0; i < len(b); i += 8 {
		v := mrand.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b).String()
}

// Provider resolves the session id once per visit and keeps it stable.
type Provider struct {
	store   Store
	creator Creator
	gen     Generator
	logger  *zap.Logger

	mu        sync.Mutex
	id        string
	createErr error
}

// NewProvider returns a provider generating ids locally. When creator is
// non-nil the backend issues the id instead.
func NewProvider(store Store, creator Creator, logger *zap.Logger) *Provider {
	return &Provider{
		store:   store,
		creator: creator,
		logger:  logger,
	}
}

// WithGenerator overrides the local id generator.
func (p *Provider) WithGenerator(g Generator) *Provider {
	p.gen = g
	return p
}

// SessionID returns the resolved id; ok is false until Resolve succeeded.
func (p *Provider) SessionID() (id string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, p.id != ""
}

// Resolve returns the active session id, restoring it from storage or
// obtaining a new one.
func (p *Provider) Resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}
	if p.createErr != nil {
		return "", p.createErr
	}

	stored, ok, err := p.store.Get(StorageKey)
	if err != nil {
		p.logger.Warn("failed to read stored session id", zap.Error(err))
	} else if ok && stored != "" {
		p.id = stored
		p.logger.Debug("restored session", zap.String("session_id", stored))
		return p.id, nil
	}

	var id string
	if p.creator != nil {
		id, err = p.creator.CreateSession(ctx)
		if err != nil {
			p.logger.Error("failed to create session", zap.Error(err))
			p.createErr = fmt.Errorf("%w: %v", ErrUnresolved, err)
			return "", p.createErr
		}
	} else {
		id = p.gen.NewID()
	}

	if err := p.store.Set(StorageKey, id); err != nil {
		p.logger.Warn("failed to persist session id", zap.Error(err))
	}
	p.id = id
	p.logger.Info("session started", zap.String("session_id", id))
	return id, nil
}

// Reset discards the session id so the next Resolve starts a new session.
func (p *Provider) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.id = ""
	p.createErr = nil
	if err := p.store.Delete(StorageKey); err != nil {
		return fmt.Errorf("failed to clear session id: %w", err)
	}
	return nil
}
