package usecase

import (
	"context"
	"errors"
	"log/slog"

	"sitegen-agent/internal/domain"
)

const maxStoredErrorLength = 500

// Generator produces complete page markup for a prompt. Slow (minutes) and
// unreliable; always called under a deadline.
type Generator interface {
	GenerateSiteMarkup(ctx context.Context, prompt string) (string, error)
}

// Deployer pushes markup to the hosting provider. A non-empty slotID reuses an
// existing hosting slot so the public address stays stable across edits.
type Deployer interface {
	Deploy(ctx context.Context, markup, slotID, ownerKey string) (domain.Deployment, error)
}

// Prober verifies a deployed URL actually serves a success status before the
// build is declared done.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Thumbnailer captures or reuses a preview image for a URL. Best-effort only.
type Thumbnailer interface {
	Ensure(ctx context.Context, url string) (string, error)
}

// BuildStore is the persistence surface the orchestrator needs. All
// coordination (dedup, at-most-one-active-worker) is expressed as conditional
// writes against the build record; no in-memory locks, since workers may run
// in separate processes.
type BuildStore interface {
	// CreateBuild inserts the record unless the dedupe key is already taken,
	// in which case the prior record is returned with created=false.
	CreateBuild(ctx context.Context, req *domain.BuildRequest) (*domain.BuildRequest, bool, error)
	// ClaimPending atomically moves pending → processing, incrementing
	// attempts. claimed=false means another worker holds the record (or it is
	// already terminal) and the caller must not touch it.
	ClaimPending(ctx context.Context, id string) (*domain.BuildRequest, bool, error)
	MarkCompleted(ctx context.Context, id, resultURL, slotID, thumbnailURL string) error
	MarkFailed(ctx context.Context, id string, status domain.BuildStatus, lastError string, attempts int) error
	// UserSlot returns the hosting slot of the user's latest completed build,
	// or "" when they have none. Used by the edit flow.
	UserSlot(ctx context.Context, userID string) (string, error)
}

// BuildService drives a build request from pending to a terminal state:
// generate → deploy → verify → screenshot (best-effort) → notify.
type BuildService struct {
	store     BuildStore
	generator Generator
	deployer  Deployer
	prober    Prober
	thumbs    Thumbnailer
	sessions  *SessionService
	notifier  *Notifier
	policy    BuildPolicy
}

func NewBuildService(store BuildStore, g Generator, d Deployer, p Prober, t Thumbnailer, sessions *SessionService, notifier *Notifier, policy BuildPolicy) (*BuildService, error) {
	if store == nil || g == nil || d == nil || p == nil || t == nil {
		return nil, errors.New("usecase: build service dependencies must not be nil")
	}
	if sessions == nil || notifier == nil {
		return nil, errors.New("usecase: session service and notifier must not be nil")
	}
	if policy.MaxRetries <= 0 {
		policy = DefaultBuildPolicy()
	}
	return &BuildService{
		store:     store,
		generator: g,
		deployer:  d,
		prober:    p,
		thumbs:    t,
		sessions:  sessions,
		notifier:  notifier,
		policy:    policy,
	}, nil
}

// StartBuild runs the full lifecycle for one build id. Duplicate triggers are
// idempotent: a request that is no longer pending is a successful no-op.
// Every path out of here leaves the record in a well-defined state and the
// user notified.
func (b *BuildService) StartBuild(ctx context.Context, id string) error {
	req, claimed, err := b.store.ClaimPending(ctx, id)
	if err != nil {
		return newError(ErrorInternal, "claim_error", err)
	}
	if !claimed {
		slog.Info("build not pending, skipping", "build_id", id)
		return nil
	}

	complexity := classifyComplexity(req.Prompt)
	retry := b.policy.retryPolicy()
	slog.Info("build started", "build_id", req.ID, "user_id", req.UserID,
		"attempt", req.Attempts, "complexity", string(complexity))

	markup, genAttempts, err := withRetry(ctx, retry, b.policy.generationTimeout(complexity),
		func(ctx context.Context) (string, error) {
			return b.generator.GenerateSiteMarkup(ctx, req.Prompt)
		})
	if err != nil {
		return b.fail(ctx, req, "generation_failed", genAttempts, err)
	}
	slog.Info("markup generated", "build_id", req.ID, "bytes", len(markup))

	deployed, depAttempts, err := withRetry(ctx, retry, b.policy.deployTimeout(complexity),
		func(ctx context.Context) (domain.Deployment, error) {
			return b.deployer.Deploy(ctx, markup, req.HostingSlotID, req.UserID)
		})
	if err != nil {
		return b.fail(ctx, req, "deployment_failed", depAttempts, err)
	}

	// The deploy call resolving is not enough: the URL must answer before we
	// tell the user about it.
	probe := RetryPolicy{MaxAttempts: b.policy.ProbeAttempts, BaseDelay: b.policy.ProbeInterval, MaxDelay: b.policy.ProbeInterval}
	_, probeAttempts, err := withRetry(ctx, probe, b.policy.ProbeTimeout,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, b.prober.Probe(ctx, deployed.URL)
		})
	if err != nil {
		return b.fail(ctx, req, "deployment_unverified", probeAttempts, err)
	}
	slog.Info("deployment verified", "build_id", req.ID, "url", deployed.URL)

	thumbnailURL, err := b.thumbs.Ensure(ctx, deployed.URL)
	if err != nil {
		// Degrade to no thumbnail; never fail the build over a screenshot.
		slog.Warn("thumbnail unavailable", "build_id", req.ID, "err", err)
		thumbnailURL = ""
	}

	// The site is live at this point, so a persistence failure must not turn
	// into a failure message: the user still gets their URL and the error is
	// surfaced to the caller for a re-trigger.
	persistErr := b.store.MarkCompleted(ctx, req.ID, deployed.URL, deployed.SlotID, thumbnailURL)
	if persistErr != nil {
		slog.Error("failed to persist build completion", "build_id", req.ID, "err", persistErr)
	}
	if err := b.sessions.Advance(ctx, req.UserID, domain.StepCompleted); err != nil {
		slog.Warn("session advance failed", "build_id", req.ID, "err", err)
	}
	b.notifier.BuildSucceeded(ctx, req.UserID, deployed.URL, thumbnailURL)
	slog.Info("build completed", "build_id", req.ID, "url", deployed.URL)
	if persistErr != nil {
		return newError(ErrorInternal, "completion_persist_error", persistErr)
	}
	return nil
}

// fail persists the terminal state (timeout when the triggering error was
// deadline-driven), moves the session to error and notifies the user, then
// surfaces a structured error to the caller.
func (b *BuildService) fail(ctx context.Context, req *domain.BuildRequest, reason string, attempts int, cause error) error {
	status := domain.BuildFailed
	if isTimeout(cause) {
		status = domain.BuildTimeout
	}
	if attempts < 1 {
		attempts = 1
	}
	if err := b.store.MarkFailed(ctx, req.ID, status, truncate(cause.Error(), maxStoredErrorLength), attempts); err != nil {
		slog.Error("failed to persist build failure", "build_id", req.ID, "err", err)
	}
	if err := b.sessions.Advance(ctx, req.UserID, domain.StepError); err != nil {
		slog.Warn("session advance failed", "build_id", req.ID, "err", err)
	}
	b.notifier.BuildFailed(ctx, req.UserID, status == domain.BuildTimeout)
	slog.Error("build failed", "build_id", req.ID, "reason", reason, "status", string(status), "err", cause)
	return newError(ErrorTerminalProvider, reason, cause)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
