package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// PresenceRecord is the per-identity presence state.
type PresenceRecord struct {
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type PresenceChangedPayload struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceTracker derives presence from connection-count edges reported
// by the Registry, plus explicit user-initiated status changes. An
// identity is online iff it has at least one live connection; the
// offline transition happens only when the last connection closes.
// Every transition is persisted, mirrored to the optional cache, and
// broadcast.
type PresenceTracker struct {
	store  PresenceStore
	cache  *PresenceCache
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]PresenceRecord

	onChange func(context.Context, Identity, PresenceRecord)
}

type PresenceOption func(*PresenceTracker)

func WithPresenceCache(cache *PresenceCache) PresenceOption {
	return func(t *PresenceTracker) {
		t.cache = cache
	}
}

func WithPresenceLogger(l *slog.Logger) PresenceOption {
	return func(t *PresenceTracker) {
		t.logger = l
	}
}

func NewPresenceTracker(store PresenceStore, opts ...PresenceOption) *PresenceTracker {
	t := &PresenceTracker{
		store:   store,
		logger:  slog.Default(),
		records: make(map[string]PresenceRecord),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnChange registers the broadcast hook invoked on every transition.
func (t *PresenceTracker) OnChange(f func(context.Context, Identity, PresenceRecord)) {
	t.onChange = f
}

// SetOnline is driven by the identity's first-connection edge.
func (t *PresenceTracker) SetOnline(ctx context.Context, identity Identity) {
	t.apply(ctx, identity, StatusOnline)
}

// SetOffline is driven by the identity's last-connection-closed edge.
// It overrides any explicit status.
func (t *PresenceTracker) SetOffline(ctx context.Context, identity Identity) {
	t.apply(ctx, identity, StatusOffline)
}

// SetExplicit applies a user-initiated status. Only online and away can
// be set explicitly; offline is reserved for the connection-count edge.
func (t *PresenceTracker) SetExplicit(ctx context.Context, identity Identity, status Status) error {
	if status != StatusOnline && status != StatusAway {
		return ErrInvalidStatus
	}
	t.apply(ctx, identity, status)
	return nil
}

// StatusOf returns the identity's presence record. Unknown identities
// are offline.
func (t *PresenceTracker) StatusOf(identityID string) PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[identityID]
	if !ok {
		return PresenceRecord{Status: StatusOffline}
	}
	return rec
}

func (t *PresenceTracker) apply(ctx context.Context, identity Identity, status Status) {
	rec := PresenceRecord{Status: status, LastSeen: time.Now()}
	t.mu.Lock()
	t.records[identity.ID] = rec
	t.mu.Unlock()

	// Persistence failures do not block the transition; the in-memory
	// record is already updated and the store is retried on the next
	// edge.
	if err := t.store.PersistPresence(ctx, identity.ID, status, rec.LastSeen); err != nil {
		t.logger.Error(fmt.Sprintf("PersistPresence(%s): %v", identity.Username, err))
	}
	if t.cache != nil {
		if err := t.cache.Set(ctx, identity.ID, rec); err != nil {
			t.logger.Error(fmt.Sprintf("presence cache set(%s): %v", identity.Username, err))
		}
	}
	if t.onChange != nil {
		t.onChange(ctx, identity, rec)
	}
}
