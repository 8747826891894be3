package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

// Access decision reasons.
const (
	AccessReasonEnrolled           = "enrolled"
	AccessReasonInstructor         = "instructor"
	AccessReasonFreeCourse         = "free_course"
	AccessReasonEnrollmentRequired = "enrollment_required"
)

// AccessDecision is the outcome of a gate check. A denial is a normal outcome, not an error.
type AccessDecision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// AccessCache remembers enrollment grants. Grants never revoke, so entries need no invalidation.
type AccessCache interface {
	IsGranted(ctx context.Context, learnerID string, courseID uuid.UUID) (bool, error)
	MarkGranted(ctx context.Context, learnerID string, courseID uuid.UUID) error
}

// AccessGate decides whether a learner may see a course's gated resources. It never writes
// enrollment state.
type AccessGate struct {
	repo  store.Repository
	cache AccessCache
}

func NewAccessGate(repo store.Repository, cache AccessCache) *AccessGate {
	return &AccessGate{repo: repo, cache: cache}
}

// Check evaluates the gate. Only infrastructure failures and unknown courses return errors.
func (g *AccessGate) Check(ctx context.Context, learnerID string, courseID uuid.UUID) (AccessDecision, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return AccessDecision{Reason: AccessReasonEnrollmentRequired}, nil
	}

	if g.cache != nil {
		granted, err := g.cache.IsGranted(ctx, learnerID, courseID)
		if err != nil {
			log.Printf("level=warn component=access_gate msg=\"cache read failed; falling back to store\" course_id=%s err=%v", courseID, err)
		} else if granted {
			return AccessDecision{Granted: true, Reason: AccessReasonEnrolled}, nil
		}
	}

	course, err := g.repo.FindCourseByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrCourseNotFound) {
			return AccessDecision{}, ErrCourseNotFound
		}
		return AccessDecision{}, fmt.Errorf("failed to load course: %w", err)
	}
	if course.InstructorID == learnerID {
		return AccessDecision{Granted: true, Reason: AccessReasonInstructor}, nil
	}
	if course.IsFree() {
		return AccessDecision{Granted: true, Reason: AccessReasonFreeCourse}, nil
	}

	if _, err := g.repo.FindEnrollment(ctx, learnerID, courseID); err != nil {
		if errors.Is(err, store.ErrEnrollmentNotFound) {
			return AccessDecision{Reason: AccessReasonEnrollmentRequired}, nil
		}
		return AccessDecision{}, fmt.Errorf("failed to load enrollment: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.MarkGranted(ctx, learnerID, courseID); err != nil {
			log.Printf("level=warn component=access_gate msg=\"cache write failed\" course_id=%s err=%v", courseID, err)
		}
	}
	return AccessDecision{Granted: true, Reason: AccessReasonEnrolled}, nil
}

// CanAccess reports whether the learner may see the course's gated resources.
func (g *AccessGate) CanAccess(ctx context.Context, learnerID string, courseID uuid.UUID) (bool, error) {
	decision, err := g.Check(ctx, learnerID, courseID)
	if err != nil {
		return false, err
	}
	return decision.Granted, nil
}
