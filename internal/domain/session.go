package domain

import "time"

// SessionStep is the conversation stage a user is currently in.
type SessionStep string

const (
	StepStart            SessionStep = "start"
	StepAwaitingPrompt   SessionStep = "awaiting_prompt"
	StepValidatingPrompt SessionStep = "validating_prompt"
	StepProcessing       SessionStep = "processing"
	StepCompleted        SessionStep = "completed"
	StepError            SessionStep = "error"
)

// SessionAction is what the user intends to do with their next prompt.
type SessionAction string

const (
	ActionNone   SessionAction = "none"
	ActionCreate SessionAction = "create"
	ActionEdit   SessionAction = "edit"
)

// Session tracks per-user conversation state. At most one session exists per
// user phone; a zero-value session in StepStart is returned for unknown users
// and only persisted on first write.
type Session struct {
	UserID              string
	Step                SessionStep
	Action              SessionAction
	InvalidPromptWarned bool
	LastPrompt          string
	LastBuildID         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
