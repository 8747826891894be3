package store

import (
	"context"
	"fmt"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
)

// RecordModuleProgress upserts the playback offset and, when requested, flips the
// completion latch. The latch UPDATE only matches rows where completed is still
// false, so exactly one concurrent caller sees a changed row.
func (r *PostgresRepository) RecordModuleProgress(ctx context.Context, params RecordProgressParams) (*RecordProgressResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO module_progress (
			learner_id, course_id, module_id, last_watched_offset_seconds, total_duration_seconds, completed, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (learner_id, course_id, module_id) DO UPDATE
		SET last_watched_offset_seconds = EXCLUDED.last_watched_offset_seconds,
			total_duration_seconds = CASE
				WHEN EXCLUDED.total_duration_seconds > 0 THEN EXCLUDED.total_duration_seconds
				ELSE module_progress.total_duration_seconds
			END,
			updated_at = EXCLUDED.updated_at
	`, params.LearnerID, params.CourseID, params.ModuleID, params.OffsetSeconds, params.TotalSeconds, params.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert module progress: %w", err)
	}

	completedNow := false
	if params.MarkComplete {
		result, err := tx.Exec(ctx, `
			UPDATE module_progress
			SET completed = TRUE,
				completed_at = $4
			WHERE learner_id = $1 AND course_id = $2 AND module_id = $3 AND completed = FALSE
		`, params.LearnerID, params.CourseID, params.ModuleID, params.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to latch module completion: %w", err)
		}
		completedNow = result.RowsAffected() == 1
	}

	var progress domain.ModuleProgress
	err = tx.QueryRow(ctx, `
		SELECT learner_id, course_id, module_id, last_watched_offset_seconds, total_duration_seconds,
			completed, completed_at, updated_at
		FROM module_progress
		WHERE learner_id = $1 AND course_id = $2 AND module_id = $3
	`, params.LearnerID, params.CourseID, params.ModuleID).Scan(
		&progress.LearnerID, &progress.CourseID, &progress.ModuleID, &progress.LastWatchedOffsetSeconds,
		&progress.TotalDurationSeconds, &progress.Completed, &progress.CompletedAt, &progress.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedNow {
		event := domain.ModuleCompletedEvent{
			LearnerID:   progress.LearnerID,
			CourseID:    progress.CourseID,
			ModuleID:    progress.ModuleID,
			CompletedAt: params.RecordedAt,
		}
		if err := enqueueEventTx(ctx, tx, r.eventsExchange, domain.RoutingKeyModuleCompleted, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &RecordProgressResult{Progress: progress, CompletedNow: completedNow}, nil
}

// ListModuleProgress returns every module row the learner has for a course.
func (r *PostgresRepository) ListModuleProgress(ctx context.Context, learnerID string, courseID uuid.UUID) ([]domain.ModuleProgress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT learner_id, course_id, module_id, last_watched_offset_seconds, total_duration_seconds,
			completed, completed_at, updated_at
		FROM module_progress
		WHERE learner_id = $1 AND course_id = $2
		ORDER BY module_id
	`, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ModuleProgress, 0)
	for rows.Next() {
		var p domain.ModuleProgress
		if err := rows.Scan(
			&p.LearnerID, &p.CourseID, &p.ModuleID, &p.LastWatchedOffsetSeconds,
			&p.TotalDurationSeconds, &p.Completed, &p.CompletedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
