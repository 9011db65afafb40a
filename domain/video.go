// Package domain holds the core entities shared by every OccultaShield
// pipeline phase: videos, tracks, captures and the persisted records
// derived from them.
package domain

import "time"

// Status is the lifecycle state of a Video. It advances monotonically
// except for Error, which is terminal until the video is retried or
// deleted.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusDetected          Status = "detected"
	StatusVerifying         Status = "verifying"
	StatusVerified          Status = "verified"
	StatusWaitingForReview  Status = "waiting_for_review"
	StatusAnonymizing       Status = "anonymizing"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// Video is the immutable-plus-lifecycle record for one upload. Owned
// by exactly one user; destroyed on explicit delete.
type Video struct {
	ID       string
	OwnerID  string
	Filename string

	// Immutable source metadata, populated once at ingest.
	OriginalPath string
	Width        int
	Height       int
	FPS          float64
	FrameCount   int64
	Duration     time.Duration

	// Mutable lifecycle state.
	Status       Status
	ErrorMessage string
	ProcessedPath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransitionTo reports whether moving from the current status to
// next is a legal monotonic advance. Error is reachable from any
// non-terminal state; nothing is reachable from Error except itself
// (retry replaces the record, it does not transition it).
func (v Video) CanTransitionTo(next Status) bool {
	if next == StatusError {
		return v.Status != StatusCompleted
	}
	order := []Status{
		StatusPending, StatusProcessing, StatusDetected, StatusVerifying,
		StatusVerified, StatusWaitingForReview, StatusAnonymizing, StatusCompleted,
	}
	from, to := -1, -1
	for i, s := range order {
		if s == v.Status {
			from = i
		}
		if s == next {
			to = i
		}
	}
	if from == -1 || to == -1 {
		return false
	}
	return to > from
}

// DBName/Event give the two historical names for the same anonymizing
// phase: the persisted record calls it "editing", the SSE event
// stream calls it "anonymizing". Both refer to StatusAnonymizing.
func (s Status) DBName() string {
	if s == StatusAnonymizing {
		return "editing"
	}
	return string(s)
}
func (s Status) Event() string {
	if s == StatusAnonymizing {
		return "anonymizing"
	}
	return string(s)
}
