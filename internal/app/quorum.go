package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"asamblea/internal/backend"
	"asamblea/internal/cache"
	"asamblea/internal/domain"
)

// QuorumTracker keeps the quorum summary and participant list of an assembly.
// The list is synced incrementally through the local cache.
type QuorumTracker struct {
	assemblyID int64
	source     interface {
		Quorum(ctx context.Context, assemblyID int64, since time.Time) (backend.QuorumSnapshot, error)
	}
	store  *cache.Store
	logger *slog.Logger

	mu   sync.Mutex
	last *domain.QuorumInfo
}

// NewQuorumTracker creates a tracker. store may be nil; the list is then
// refetched in full every time.
func NewQuorumTracker(assemblyID int64, be backend.Backend, store *cache.Store, logger *slog.Logger) *QuorumTracker {
	return &QuorumTracker{
		assemblyID: assemblyID,
		source:     be,
		store:      store,
		logger:     logger,
	}
}

// Refresh fetches the changes since the last sync and returns the merged
// summary. When the backend fails and a previous list exists, the previous
// list is returned marked stale.
func (t *QuorumTracker) Refresh(ctx context.Context) (domain.QuorumInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	since := time.Time{}
	if t.store != nil {
		_, lastSync, err := t.store.Participants(t.assemblyID)
		if err != nil {
			t.logger.Warn("failed to read participant cache", "assemblyID", t.assemblyID, "error", err)
		} else {
			since = lastSync
		}
	}

	snap, err := t.source.Quorum(ctx, t.assemblyID, since)
	if err != nil {
		if cached, ok := t.cachedLocked(); ok {
			t.logger.Warn("quorum refresh failed, serving cached list",
				"assemblyID", t.assemblyID,
				"error", err,
			)
			return cached, nil
		}
		return domain.QuorumInfo{}, fmt.Errorf("refresh quorum: %w", err)
	}

	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	participants := snap.Participants
	if t.store != nil {
		if snap.Full || since.IsZero() {
			err = t.store.SaveParticipants(t.assemblyID, snap.Participants, syncedAt)
		} else {
			err = t.store.ApplyParticipantChanges(t.assemblyID, snap.Participants, syncedAt)
		}
		if err != nil {
			t.logger.Warn("failed to update participant cache", "assemblyID", t.assemblyID, "error", err)
		} else if merged, _, err := t.store.Participants(t.assemblyID); err == nil {
			participants = merged
		}
	}
	if participants == nil {
		participants = []domain.Participant{}
	}

	info := domain.QuorumInfo{
		Required:     snap.Required,
		Reached:      snap.Reached,
		Met:          snap.Reached.GreaterThanOrEqual(snap.Required),
		Participants: participants,
		SyncedAt:     syncedAt,
	}
	t.last = &info

	t.logger.Debug("quorum refreshed",
		"assemblyID", t.assemblyID,
		"reached", info.Reached.String(),
		"participants", len(info.Participants),
	)
	return info, nil
}

// cachedLocked returns the last known summary with the stored list
func (t *QuorumTracker) cachedLocked() (domain.QuorumInfo, bool) {
	var info domain.QuorumInfo
	known := false
	if t.last != nil {
		info = *t.last
		known = true
	}
	if t.store != nil {
		participants, lastSync, err := t.store.Participants(t.assemblyID)
		if err == nil && !lastSync.IsZero() {
			info.Participants = participants
			info.SyncedAt = lastSync
			known = true
		}
	}
	if !known {
		return domain.QuorumInfo{}, false
	}
	info.Stale = true
	return info, true
}

// Clear drops the cached list, once the assembly is over
func (t *QuorumTracker) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = nil
	if t.store == nil {
		return nil
	}
	return t.store.ClearParticipants(t.assemblyID)
}
