package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sitegen-agent/internal/domain"
)

// cleanupIdleWindow is how long a completed build keeps its hosting slot
// before the janitor may reclaim it.
const cleanupIdleWindow = time.Hour

// SlotReleaser tears down a hosting slot at the provider.
type SlotReleaser interface {
	DeleteSlot(ctx context.Context, slotID string) error
}

// JanitorStore is the persistence surface of the cleanup job.
type JanitorStore interface {
	// StaleCompleted lists completed builds not updated since cutoff.
	StaleCompleted(ctx context.Context, cutoff time.Time) ([]*domain.BuildRequest, error)
	// SlotHasActive reports whether any build on the slot, other than
	// excludeID, is still non-terminal.
	SlotHasActive(ctx context.Context, slotID, excludeID string) (bool, error)
	ExpireBuild(ctx context.Context, id string) error
}

// Janitor expires stale completed builds and releases their hosting slots. A
// slot is never released while a sibling build on it is still in flight.
type Janitor struct {
	store    JanitorStore
	releaser SlotReleaser
}

func NewJanitor(store JanitorStore, releaser SlotReleaser) (*Janitor, error) {
	if store == nil || releaser == nil {
		return nil, errors.New("usecase: janitor dependencies must not be nil")
	}
	return &Janitor{store: store, releaser: releaser}, nil
}

// Run performs one cleanup sweep and returns how many builds were expired.
func (j *Janitor) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-cleanupIdleWindow)
	stale, err := j.store.StaleCompleted(ctx, cutoff)
	if err != nil {
		return 0, newError(ErrorInternal, "stale_list_error", err)
	}

	expired := 0
	for _, req := range stale {
		if req.HostingSlotID != "" {
			active, err := j.store.SlotHasActive(ctx, req.HostingSlotID, req.ID)
			if err != nil {
				slog.Error("sibling check failed", "build_id", req.ID, "slot_id", req.HostingSlotID, "err", err)
				continue
			}
			if active {
				// Another build still needs this slot; leave the record alone.
				continue
			}
			if err := j.releaser.DeleteSlot(ctx, req.HostingSlotID); err != nil {
				slog.Error("slot release failed", "slot_id", req.HostingSlotID, "err", err)
			}
		}
		if err := j.store.ExpireBuild(ctx, req.ID); err != nil {
			slog.Error("expire failed", "build_id", req.ID, "err", err)
			continue
		}
		expired++
	}
	slog.Info("cleanup sweep done", "stale", len(stale), "expired", expired)
	return expired, nil
}
