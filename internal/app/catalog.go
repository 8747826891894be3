package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

// CatalogService keeps the local course snapshot in step with the catalog application.
type CatalogService struct {
	repo            store.Repository
	defaultCurrency string
	now             func() time.Time
}

func NewCatalogService(repo store.Repository, defaultCurrency string) *CatalogService {
	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &CatalogService{repo: repo, defaultCurrency: defaultCurrency, now: time.Now}
}

// SyncCourse upserts the snapshot. Price changes apply to new checkouts only; open
// intents keep the amount they were created with.
func (s *CatalogService) SyncCourse(ctx context.Context, courseID uuid.UUID, req domain.CourseSyncRequest) (*domain.Course, error) {
	if courseID == uuid.Nil {
		return nil, fmt.Errorf("%w: course id is required", ErrInvalidCourse)
	}
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidCourse)
	}
	instructorID := strings.TrimSpace(req.InstructorID)
	if instructorID == "" {
		return nil, fmt.Errorf("%w: instructor id is required", ErrInvalidCourse)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	course, err := s.repo.UpsertCourse(ctx, domain.Course{
		ID:           courseID,
		Title:        strings.TrimSpace(req.Title),
		Price:        req.Price,
		Currency:     currency,
		InstructorID: instructorID,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert course: %w", err)
	}

	log.Printf("level=info component=catalog msg=\"course snapshot synced\" course_id=%s price=%d currency=%s", course.ID, course.Price, course.Currency)
	return course, nil
}
