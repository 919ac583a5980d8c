package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitegen-agent/internal/domain"
)

// SessionStore is the persistence surface the session service needs.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*domain.Session, error)
	PutSession(ctx context.Context, sess *domain.Session) error
	DeleteSession(ctx context.Context, userID string) error
}

// sessionTransitions is the full allowed-move table. Anything absent is an
// invalid transition and must be rejected, not just logged: a skipped check
// lets stray messages create duplicate builds.
var sessionTransitions = map[domain.SessionStep][]domain.SessionStep{
	domain.StepStart:            {domain.StepAwaitingPrompt},
	domain.StepAwaitingPrompt:   {domain.StepValidatingPrompt, domain.StepStart},
	domain.StepValidatingPrompt: {domain.StepProcessing, domain.StepAwaitingPrompt},
	domain.StepProcessing:       {domain.StepCompleted, domain.StepError},
	domain.StepCompleted:        {domain.StepStart, domain.StepAwaitingPrompt},
	domain.StepError:            {domain.StepStart, domain.StepAwaitingPrompt},
}

// SessionService wraps the conversation state machine around a SessionStore.
type SessionService struct {
	store SessionStore
}

func NewSessionService(store SessionStore) (*SessionService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &SessionService{store: store}, nil
}

// GetOrCreate returns the stored session for userID, or a fresh in-memory one
// in StepStart. Nothing is persisted until the caller saves.
func (s *SessionService) GetOrCreate(ctx context.Context, userID string) (*domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorValidation, "empty_user_id", nil)
	}
	sess, err := s.store.GetSession(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "session_fetch_error", err)
	}
	if sess == nil {
		sess = &domain.Session{
			UserID: userID,
			Step:   domain.StepStart,
			Action: domain.ActionNone,
		}
	}
	return sess, nil
}

// ApplyTransition moves the session to next, or returns an
// INVALID_TRANSITION error leaving the session untouched.
func (s *SessionService) ApplyTransition(sess *domain.Session, next domain.SessionStep) error {
	if sess == nil {
		return newError(ErrorInvalidTransition, "nil_session", nil)
	}
	allowed, ok := sessionTransitions[sess.Step]
	if !ok {
		return newError(ErrorInvalidTransition, fmt.Sprintf("unknown_step_%s", sess.Step), nil)
	}
	for _, step := range allowed {
		if step == next {
			sess.Step = next
			return nil
		}
	}
	return newError(ErrorInvalidTransition, fmt.Sprintf("%s_to_%s", sess.Step, next), nil)
}

// Save persists the session, stamping UpdatedAt (and CreatedAt on first write).
func (s *SessionService) Save(ctx context.Context, sess *domain.Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if err := s.store.PutSession(ctx, sess); err != nil {
		return newError(ErrorInternal, "session_save_error", err)
	}
	return nil
}

// Clear deletes the session, used on explicit user exit.
func (s *SessionService) Clear(ctx context.Context, userID string) error {
	if err := s.store.DeleteSession(ctx, userID); err != nil {
		return newError(ErrorInternal, "session_clear_error", err)
	}
	return nil
}

// Advance is the best-effort step move used by the orchestrator when a build
// finishes: load, transition, save. An invalid move is returned, not applied.
func (s *SessionService) Advance(ctx context.Context, userID string, next domain.SessionStep) error {
	sess, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.ApplyTransition(sess, next); err != nil {
		return err
	}
	return s.Save(ctx, sess)
}
