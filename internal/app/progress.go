package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

const defaultCompletionThreshold = 0.90

// ProgressUpdate is one playback report from the video player.
type ProgressUpdate struct {
	LearnerID      string
	CourseID       uuid.UUID
	ModuleID       string
	WatchedSeconds float64
	TotalSeconds   float64
	Ended          bool
}

// ProgressResult reports the stored progress and whether this report flipped the completion latch.
type ProgressResult struct {
	CompletedNow bool
	Progress     domain.ModuleProgress
}

// ProgressTracker records module playback for enrolled learners.
type ProgressTracker struct {
	repo      store.Repository
	gate      *AccessGate
	threshold float64
	now       func() time.Time
}

func NewProgressTracker(repo store.Repository, gate *AccessGate, threshold float64) *ProgressTracker {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultCompletionThreshold
	}
	return &ProgressTracker{repo: repo, gate: gate, threshold: threshold, now: time.Now}
}

// RecordProgress stores the report. CompletedNow is true for exactly one report per
// learner and module, however many reports cross the threshold.
func (t *ProgressTracker) RecordProgress(ctx context.Context, update ProgressUpdate) (*ProgressResult, error) {
	update.ModuleID = strings.TrimSpace(update.ModuleID)
	if err := validateProgress(update); err != nil {
		return nil, err
	}

	granted, err := t.gate.CanAccess(ctx, update.LearnerID, update.CourseID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrEnrollmentRequired
	}

	result, err := t.repo.RecordModuleProgress(ctx, store.RecordProgressParams{
		LearnerID:     update.LearnerID,
		CourseID:      update.CourseID,
		ModuleID:      update.ModuleID,
		OffsetSeconds: update.WatchedSeconds,
		TotalSeconds:  update.TotalSeconds,
		MarkComplete:  t.reachedThreshold(update),
		RecordedAt:    t.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record module progress: %w", err)
	}
	return &ProgressResult{CompletedNow: result.CompletedNow, Progress: result.Progress}, nil
}

// GetCourseProgress lists the learner's stored module progress for the course.
func (t *ProgressTracker) GetCourseProgress(ctx context.Context, learnerID string, courseID uuid.UUID) ([]domain.ModuleProgress, error) {
	granted, err := t.gate.CanAccess(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrEnrollmentRequired
	}

	progress, err := t.repo.ListModuleProgress(ctx, learnerID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module progress: %w", err)
	}
	if progress == nil {
		progress = []domain.ModuleProgress{}
	}
	return progress, nil
}

// reachedThreshold ignores the watched fraction when the player has not reported a duration.
func (t *ProgressTracker) reachedThreshold(update ProgressUpdate) bool {
	if update.Ended {
		return true
	}
	if update.TotalSeconds <= 0 {
		return false
	}
	return update.WatchedSeconds/update.TotalSeconds >= t.threshold
}

func validateProgress(update ProgressUpdate) error {
	switch {
	case update.ModuleID == "":
		return fmt.Errorf("%w: module id is required", ErrInvalidProgress)
	case math.IsNaN(update.WatchedSeconds) || math.IsInf(update.WatchedSeconds, 0) || update.WatchedSeconds < 0:
		return fmt.Errorf("%w: watched seconds must be a non-negative number", ErrInvalidProgress)
	case math.IsNaN(update.TotalSeconds) || math.IsInf(update.TotalSeconds, 0) || update.TotalSeconds < 0:
		return fmt.Errorf("%w: total seconds must be a non-negative number", ErrInvalidProgress)
	}
	return nil
}
