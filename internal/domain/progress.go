package domain

import (
	"time"

	"github.com/google/uuid"
)

// ModuleProgress is the per-learner playback state for one course module.
// Completed is a latch: once true it is never cleared.
type ModuleProgress struct {
	LearnerID                string     `json:"learner_id"`
	CourseID                 uuid.UUID  `json:"course_id"`
	ModuleID                 string     `json:"module_id"`
	LastWatchedOffsetSeconds float64    `json:"last_watched_offset_seconds"`
	TotalDurationSeconds     float64    `json:"total_duration_seconds"`
	Completed                bool       `json:"completed"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// ProgressUpdateRequest is the DTO accepted by the progress endpoint.
type ProgressUpdateRequest struct {
	WatchedSeconds *float64 `json:"watched_seconds" validate:"required,gte=0"`
	TotalSeconds   float64  `json:"total_seconds" validate:"gte=0"`
	Ended          bool     `json:"ended"`
}

// ProgressUpdateResponse is returned after a progress write.
type ProgressUpdateResponse struct {
	CompletedNow bool           `json:"completed_now"`
	Progress     ModuleProgress `json:"progress"`
}
