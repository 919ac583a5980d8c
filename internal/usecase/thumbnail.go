package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// thumbnailFreshness is how long a captured thumbnail stays reusable. Keyed by
// the deployed URL.
const thumbnailFreshness = 24 * time.Hour

const thumbnailCacheSize = 256

// Screenshotter renders a URL to image bytes.
type Screenshotter interface {
	Capture(ctx context.Context, url string) ([]byte, error)
}

// MediaStore persists an image and returns its public URL.
type MediaStore interface {
	PersistThumbnail(ctx context.Context, img []byte) (string, error)
}

// ThumbStore is the durable thumbnail cache, shared across worker processes.
type ThumbStore interface {
	ThumbRecord(ctx context.Context, url string) (thumbnailURL string, capturedAt time.Time, ok bool, err error)
	PutThumbRecord(ctx context.Context, url, thumbnailURL string) error
}

// ThumbnailService captures screenshots of deployed sites, reusing a prior
// capture of the same URL while it is fresh. An in-process LRU fronts the
// durable record so repeat builds within one worker skip the store read.
type ThumbnailService struct {
	shots Screenshotter
	media MediaStore
	store ThumbStore
	cache *expirable.LRU[string, string]
}

func NewThumbnailService(shots Screenshotter, media MediaStore, store ThumbStore) (*ThumbnailService, error) {
	if shots == nil || media == nil || store == nil {
		return nil, errors.New("usecase: thumbnail dependencies must not be nil")
	}
	return &ThumbnailService{
		shots: shots,
		media: media,
		store: store,
		cache: expirable.NewLRU[string, string](thumbnailCacheSize, nil, thumbnailFreshness),
	}, nil
}

// Ensure returns a fresh thumbnail URL for url, capturing a new screenshot
// only when no capture within the freshness window exists.
func (t *ThumbnailService) Ensure(ctx context.Context, url string) (string, error) {
	if cached, ok := t.cache.Get(url); ok {
		return cached, nil
	}

	if thumbURL, capturedAt, ok, err := t.store.ThumbRecord(ctx, url); err != nil {
		slog.Warn("thumbnail record lookup failed", "url", url, "err", err)
	} else if ok && time.Since(capturedAt) < thumbnailFreshness {
		t.cache.Add(url, thumbURL)
		return thumbURL, nil
	}

	img, err := t.shots.Capture(ctx, url)
	if err != nil {
		return "", newError(ErrorTransientProvider, "screenshot_error", err)
	}
	thumbURL, err := t.media.PersistThumbnail(ctx, img)
	if err != nil {
		return "", newError(ErrorTransientProvider, "thumbnail_persist_error", err)
	}
	if err := t.store.PutThumbRecord(ctx, url, thumbURL); err != nil {
		// The capture succeeded; a stale cache record only costs a recapture.
		slog.Warn("thumbnail record write failed", "url", url, "err", err)
	}
	t.cache.Add(url, thumbURL)
	return thumbURL, nil
}
