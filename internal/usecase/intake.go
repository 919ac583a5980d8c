package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sitegen-agent/internal/domain"
)

// exitWords end the conversation and clear the session.
var exitWords = map[string]bool{"sair": true, "cancelar": true, "exit": true}

// InboundMessage is one webhook-delivered user event. MessageID doubles as the
// build dedupe key, so retried deliveries of the same message cannot create a
// second build.
type InboundMessage struct {
	From      string
	MessageID string
	Text      string
	ButtonID  string
}

// IntakeService turns inbound messages into session transitions and build
// requests.
type IntakeService struct {
	sessions *SessionService
	builds   BuildStore
	notifier *Notifier
}

func NewIntakeService(sessions *SessionService, builds BuildStore, notifier *Notifier) (*IntakeService, error) {
	if sessions == nil || builds == nil || notifier == nil {
		return nil, errors.New("usecase: intake dependencies must not be nil")
	}
	return &IntakeService{sessions: sessions, builds: builds, notifier: notifier}, nil
}

// HandleMessage advances the conversation for one inbound event and returns
// the id of a newly accepted (or deduplicated) build, or "" when the event did
// not produce one.
func (s *IntakeService) HandleMessage(ctx context.Context, in InboundMessage) (string, error) {
	from := strings.TrimSpace(in.From)
	if from == "" {
		return "", newError(ErrorValidation, "empty_sender", nil)
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return "", newError(ErrorValidation, "empty_message_id", nil)
	}

	sess, err := s.sessions.GetOrCreate(ctx, from)
	if err != nil {
		return "", err
	}

	if exitWords[strings.ToLower(strings.TrimSpace(in.Text))] {
		if err := s.sessions.Clear(ctx, from); err != nil {
			return "", err
		}
		s.notifier.Goodbye(ctx, from)
		return "", nil
	}

	switch sess.Step {
	case domain.StepStart:
		if err := s.sessions.ApplyTransition(sess, domain.StepAwaitingPrompt); err != nil {
			return "", err
		}
		if action := buttonAction(in.ButtonID); action != domain.ActionNone {
			sess.Action = action
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			return "", err
		}
		if sess.Action == domain.ActionNone {
			s.notifier.Greet(ctx, from)
		} else {
			s.notifier.AskPrompt(ctx, from)
		}
		return "", nil

	case domain.StepAwaitingPrompt:
		if action := buttonAction(in.ButtonID); action != domain.ActionNone {
			sess.Action = action
			if err := s.sessions.Save(ctx, sess); err != nil {
				return "", err
			}
			s.notifier.AskPrompt(ctx, from)
			return "", nil
		}
		return s.handlePrompt(ctx, sess, in)

	case domain.StepValidatingPrompt:
		// A stray message mid-validation; fold it back into the prompt flow.
		if err := s.sessions.ApplyTransition(sess, domain.StepAwaitingPrompt); err != nil {
			return "", err
		}
		return s.handlePrompt(ctx, sess, in)

	case domain.StepProcessing:
		s.notifier.StillWorking(ctx, from)
		return "", nil

	case domain.StepCompleted, domain.StepError:
		if err := s.sessions.ApplyTransition(sess, domain.StepAwaitingPrompt); err != nil {
			return "", err
		}
		return s.handlePrompt(ctx, sess, in)
	}

	return "", newError(ErrorInvalidTransition, "unknown_step_"+string(sess.Step), nil)
}

// handlePrompt validates the prompt and, when accepted, creates the build
// record behind the dedupe key and moves the session to processing.
func (s *IntakeService) handlePrompt(ctx context.Context, sess *domain.Session, in InboundMessage) (string, error) {
	if err := s.sessions.ApplyTransition(sess, domain.StepValidatingPrompt); err != nil {
		return "", err
	}

	result := ValidatePrompt(in.Text)
	if !result.Valid {
		if s.notifier.InvalidPrompt(ctx, sess, result) {
			sess.InvalidPromptWarned = true
		}
		if err := s.sessions.ApplyTransition(sess, domain.StepAwaitingPrompt); err != nil {
			return "", err
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			return "", err
		}
		return "", newError(ErrorValidation, "invalid_prompt", nil)
	}

	slotID := ""
	if sess.Action == domain.ActionEdit {
		slot, err := s.builds.UserSlot(ctx, sess.UserID)
		if err != nil {
			return "", newError(ErrorInternal, "slot_lookup_error", err)
		}
		slotID = slot
	}

	req := &domain.BuildRequest{
		ID:            newUUID(),
		UserID:        sess.UserID,
		Prompt:        strings.TrimSpace(in.Text),
		Status:        domain.BuildPending,
		DedupeKey:     in.MessageID,
		HostingSlotID: slotID,
	}
	rec, created, err := s.builds.CreateBuild(ctx, req)
	if err != nil {
		return "", newError(ErrorInternal, "build_create_error", err)
	}
	if !created {
		slog.Info("duplicate inbound message, reusing build",
			"dedupe_key", in.MessageID, "build_id", rec.ID)
	}

	if err := s.sessions.ApplyTransition(sess, domain.StepProcessing); err != nil {
		return "", err
	}
	sess.InvalidPromptWarned = false
	sess.LastPrompt = req.Prompt
	sess.LastBuildID = rec.ID
	if err := s.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	if created {
		s.notifier.Acknowledge(ctx, sess.UserID)
	}
	return rec.ID, nil
}

func buttonAction(buttonID string) domain.SessionAction {
	switch domain.SessionAction(strings.ToLower(strings.TrimSpace(buttonID))) {
	case domain.ActionCreate:
		return domain.ActionCreate
	case domain.ActionEdit:
		return domain.ActionEdit
	}
	return domain.ActionNone
}

var newUUID = func() string {
	return uuid.NewString()
}
