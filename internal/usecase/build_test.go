package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitegen-agent/internal/domain"
)

type fakeGenerator struct {
	markup  string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) GenerateSiteMarkup(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.markup, f.err
}

type fakeDeployer struct {
	deployment domain.Deployment
	err        error
	calls      int
	slotIDs    []string
	ownerKeys  []string
}

func (f *fakeDeployer) Deploy(_ context.Context, _ string, slotID, ownerKey string) (domain.Deployment, error) {
	f.calls++
	f.slotIDs = append(f.slotIDs, slotID)
	f.ownerKeys = append(f.ownerKeys, ownerKey)
	return f.deployment, f.err
}

type fakeProber struct {
	errs  []error
	calls int
}

func (f *fakeProber) Probe(context.Context, string) error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeThumbnailer struct {
	url   string
	err   error
	calls int
}

func (f *fakeThumbnailer) Ensure(context.Context, string) (string, error) {
	f.calls++
	return f.url, f.err
}

type buildFixture struct {
	svc       *BuildService
	store     *fakeBuildStore
	sessStore *fakeSessionStore
	messenger *fakeMessenger
	gen       *fakeGenerator
	dep       *fakeDeployer
	probe     *fakeProber
	thumbs    *fakeThumbnailer
}

func testPolicy() BuildPolicy {
	p := DefaultBuildPolicy()
	p.RetryBaseDelay = time.Millisecond
	p.RetryMaxDelay = 2 * time.Millisecond
	p.ProbeInterval = time.Millisecond
	return p
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()
	stubSleep(t)

	f := &buildFixture{
		store:     newFakeBuildStore(),
		sessStore: newFakeSessionStore(),
		messenger: &fakeMessenger{},
		gen:       &fakeGenerator{markup: "<html><body>ok</body></html>"},
		dep:       &fakeDeployer{deployment: domain.Deployment{URL: "https://site-99990000.vercel.app", SlotID: "prj_1"}},
		probe:     &fakeProber{},
		thumbs:    &fakeThumbnailer{url: "https://cdn/thumb.jpg"},
	}
	sessions, err := NewSessionService(f.sessStore)
	require.NoError(t, err)
	notifier, err := NewNotifier(f.messenger)
	require.NoError(t, err)
	svc, err := NewBuildService(f.store, f.gen, f.dep, f.probe, f.thumbs, sessions, notifier, testPolicy())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *buildFixture) seedBuild(status domain.BuildStatus) *domain.BuildRequest {
	req := &domain.BuildRequest{
		ID:        "b-1",
		UserID:    "5511999990000",
		Prompt:    "Quero um site para minha barbearia",
		Status:    status,
		DedupeKey: "wamid.1",
	}
	f.store.builds[req.ID] = req
	f.store.byDedupe[req.DedupeKey] = req.ID
	f.sessStore.sessions[req.UserID] = &domain.Session{UserID: req.UserID, Step: domain.StepProcessing}
	return req
}

func TestStartBuild_HappyPath(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)

	require.NoError(t, f.svc.StartBuild(context.Background(), "b-1"))

	require.True(t, f.store.completed.called)
	require.Equal(t, "https://site-99990000.vercel.app", f.store.completed.url)
	require.Equal(t, "prj_1", f.store.completed.slot)
	require.Equal(t, "https://cdn/thumb.jpg", f.store.completed.thumbnail)
	require.False(t, f.store.failed.called)

	require.Equal(t, domain.StepCompleted, f.sessStore.sessions["5511999990000"].Step)
	require.Len(t, f.messenger.images, 1)
	require.Len(t, f.messenger.texts, 1)
	require.Contains(t, f.messenger.texts[0].body, "https://site-99990000.vercel.app")
}

func TestStartBuild_NotPendingIsNoOp(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildProcessing)

	require.NoError(t, f.svc.StartBuild(context.Background(), "b-1"))
	require.Zero(t, f.gen.calls)
	require.False(t, f.store.completed.called)
	require.False(t, f.store.failed.called)
	require.Empty(t, f.messenger.texts)
}

func TestStartBuild_GenerationTimeoutExhaustsRetries(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	f.gen.err = context.DeadlineExceeded

	err := f.svc.StartBuild(context.Background(), "b-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorTerminalProvider, ucErr.Code)
	require.Equal(t, "generation_failed", ucErr.Reason)

	require.Equal(t, testPolicy().MaxRetries, f.gen.calls)
	require.True(t, f.store.failed.called)
	require.Equal(t, domain.BuildTimeout, f.store.failed.status)
	require.Equal(t, testPolicy().MaxRetries, f.store.failed.attempts)
	require.NotEmpty(t, f.store.failed.lastError)

	require.Equal(t, domain.StepError, f.sessStore.sessions["5511999990000"].Step)
	require.Len(t, f.messenger.texts, 1)
	require.Equal(t, msgTimedOut, f.messenger.texts[0].body)
}

func TestStartBuild_DeployTerminalFailureStopsImmediately(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	f.dep.err = &statusErr{code: 403}

	err := f.svc.StartBuild(context.Background(), "b-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, "deployment_failed", ucErr.Reason)

	require.Equal(t, 1, f.dep.calls)
	require.Equal(t, domain.BuildFailed, f.store.failed.status)
	require.Equal(t, 1, f.store.failed.attempts)
	require.Len(t, f.messenger.texts, 1)
	require.Equal(t, msgFailed, f.messenger.texts[0].body)
}

func TestStartBuild_ProbeRecoversAfterFailures(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	f.probe.errs = []error{
		&statusErr{code: 502},
		errors.New("dial tcp: connection refused"),
	}

	require.NoError(t, f.svc.StartBuild(context.Background(), "b-1"))
	require.Equal(t, 3, f.probe.calls)
	require.True(t, f.store.completed.called)
}

func TestStartBuild_UnverifiedDeploymentFails(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	errs := make([]error, testPolicy().ProbeAttempts)
	for i := range errs {
		errs[i] = &statusErr{code: 503}
	}
	f.probe.errs = errs

	err := f.svc.StartBuild(context.Background(), "b-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, "deployment_unverified", ucErr.Reason)
	require.True(t, f.store.failed.called)
	require.False(t, f.store.completed.called)
	// The recorded attempt count is the probe loop's own, not the deploy's.
	require.Equal(t, testPolicy().ProbeAttempts, f.store.failed.attempts)
}

func TestStartBuild_ScreenshotFailureDoesNotFailBuild(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	f.thumbs.err = errors.New("screenshot service down")
	f.thumbs.url = ""

	require.NoError(t, f.svc.StartBuild(context.Background(), "b-1"))
	require.True(t, f.store.completed.called)
	require.Empty(t, f.store.completed.thumbnail)
	require.Empty(t, f.messenger.images)
	require.Len(t, f.messenger.texts, 1)
}

func TestStartBuild_CompletionPersistErrorStillNotifiesSuccess(t *testing.T) {
	f := newBuildFixture(t)
	f.seedBuild(domain.BuildPending)
	f.store.completedErr = errors.New("dynamo down")

	err := f.svc.StartBuild(context.Background(), "b-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
	require.Equal(t, "completion_persist_error", ucErr.Reason)

	// The site is live, so the user hears success, never a failure message.
	require.False(t, f.store.failed.called)
	require.Equal(t, domain.StepCompleted, f.sessStore.sessions["5511999990000"].Step)
	require.Len(t, f.messenger.texts, 1)
	require.Contains(t, f.messenger.texts[0].body, "https://site-99990000.vercel.app")
}

func TestStartBuild_EditKeepsHostingSlot(t *testing.T) {
	f := newBuildFixture(t)
	req := f.seedBuild(domain.BuildPending)
	req.HostingSlotID = "prj_1"

	require.NoError(t, f.svc.StartBuild(context.Background(), "b-1"))
	require.Equal(t, []string{"prj_1"}, f.dep.slotIDs)
	require.Equal(t, []string{req.UserID}, f.dep.ownerKeys)
	require.Equal(t, "prj_1", f.store.completed.slot)
}

func TestStartBuild_ClaimErrorSurfacesAsInternal(t *testing.T) {
	f := newBuildFixture(t)
	f.store.claimErr = errors.New("dynamo down")

	err := f.svc.StartBuild(context.Background(), "b-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
}
