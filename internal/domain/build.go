package domain

import "time"

// BuildStatus is the lifecycle state of a build request. Transitions only move
// forward: pending → processing → {completed|failed|timeout}; a janitor may
// later mark terminal records expired.
type BuildStatus string

const (
	BuildPending    BuildStatus = "pending"
	BuildProcessing BuildStatus = "processing"
	BuildCompleted  BuildStatus = "completed"
	BuildFailed     BuildStatus = "failed"
	BuildTimeout    BuildStatus = "timeout"
	BuildExpired    BuildStatus = "expired"
)

// Terminal reports whether no worker will touch the record again.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildCompleted, BuildFailed, BuildTimeout, BuildExpired:
		return true
	}
	return false
}

// BuildRequest is the durable unit of work: one validated user prompt on its
// way to a deployed site.
type BuildRequest struct {
	ID            string
	UserID        string
	Prompt        string
	Status        BuildStatus
	DedupeKey     string
	HostingSlotID string
	ResultURL     string
	ThumbnailURL  string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deployment is the hosting provider's answer to a successful deploy.
type Deployment struct {
	URL    string
	SlotID string
}
