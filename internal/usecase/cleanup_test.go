package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitegen-agent/internal/domain"
)

type fakeJanitorStore struct {
	stale      []*domain.BuildRequest
	staleErr   error
	activeBy   map[string]bool
	activeErr  error
	expired    []string
	expireErr  error
	activeAsks [][2]string
}

func (f *fakeJanitorStore) StaleCompleted(context.Context, time.Time) ([]*domain.BuildRequest, error) {
	return f.stale, f.staleErr
}

func (f *fakeJanitorStore) SlotHasActive(_ context.Context, slotID, excludeID string) (bool, error) {
	f.activeAsks = append(f.activeAsks, [2]string{slotID, excludeID})
	if f.activeErr != nil {
		return false, f.activeErr
	}
	return f.activeBy[slotID], nil
}

func (f *fakeJanitorStore) ExpireBuild(_ context.Context, id string) error {
	if f.expireErr != nil {
		return f.expireErr
	}
	f.expired = append(f.expired, id)
	return nil
}

type fakeReleaser struct {
	deleted []string
	err     error
}

func (f *fakeReleaser) DeleteSlot(_ context.Context, slotID string) error {
	f.deleted = append(f.deleted, slotID)
	return f.err
}

func staleBuild(id, slotID string) *domain.BuildRequest {
	return &domain.BuildRequest{
		ID:            id,
		UserID:        "u",
		Status:        domain.BuildCompleted,
		HostingSlotID: slotID,
		UpdatedAt:     time.Now().Add(-2 * time.Hour),
	}
}

func TestJanitorRun_ExpiresAndReleasesSlots(t *testing.T) {
	store := &fakeJanitorStore{
		stale:    []*domain.BuildRequest{staleBuild("b-1", "prj_1"), staleBuild("b-2", "prj_2")},
		activeBy: map[string]bool{},
	}
	releaser := &fakeReleaser{}
	j, err := NewJanitor(store, releaser)
	require.NoError(t, err)

	expired, err := j.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, expired)
	require.Equal(t, []string{"prj_1", "prj_2"}, releaser.deleted)
	require.Equal(t, []string{"b-1", "b-2"}, store.expired)
}

func TestJanitorRun_SkipsSlotWithActiveSibling(t *testing.T) {
	store := &fakeJanitorStore{
		stale:    []*domain.BuildRequest{staleBuild("b-1", "prj_1")},
		activeBy: map[string]bool{"prj_1": true},
	}
	releaser := &fakeReleaser{}
	j, err := NewJanitor(store, releaser)
	require.NoError(t, err)

	expired, err := j.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Empty(t, releaser.deleted)
	require.Empty(t, store.expired)
	require.Equal(t, [][2]string{{"prj_1", "b-1"}}, store.activeAsks)
}

func TestJanitorRun_SlotlessBuildStillExpires(t *testing.T) {
	store := &fakeJanitorStore{stale: []*domain.BuildRequest{staleBuild("b-1", "")}}
	releaser := &fakeReleaser{}
	j, err := NewJanitor(store, releaser)
	require.NoError(t, err)

	expired, err := j.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Empty(t, releaser.deleted)
	require.Empty(t, store.activeAsks)
}

func TestJanitorRun_ReleaseFailureStillExpires(t *testing.T) {
	store := &fakeJanitorStore{
		stale:    []*domain.BuildRequest{staleBuild("b-1", "prj_1")},
		activeBy: map[string]bool{},
	}
	releaser := &fakeReleaser{err: errors.New("vercel down")}
	j, err := NewJanitor(store, releaser)
	require.NoError(t, err)

	expired, err := j.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, []string{"b-1"}, store.expired)
}

func TestJanitorRun_ListFailure(t *testing.T) {
	store := &fakeJanitorStore{staleErr: errors.New("dynamo down")}
	j, err := NewJanitor(store, &fakeReleaser{})
	require.NoError(t, err)

	_, err = j.Run(context.Background())
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
}
