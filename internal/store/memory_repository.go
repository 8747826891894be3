package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
)

type enrollmentKey struct {
	learnerID string
	courseID  uuid.UUID
}

type progressKey struct {
	learnerID string
	courseID  uuid.UUID
	moduleID  string
}

type memoryOutboxRow struct {
	msg             OutboxMessage
	status          string
	nextAttemptAt   time.Time
	processingSince time.Time
	lastError       string
}

// MemoryRepository is a process-local Repository for local development and tests.
// A single mutex makes every method one atomic step, which gives the same
// conditional-write guarantees the PostgreSQL queries provide.
type MemoryRepository struct {
	mu             sync.Mutex
	eventsExchange string
	now            func() time.Time

	courses     map[uuid.UUID]domain.Course
	enrollments map[enrollmentKey]domain.EnrollmentRecord
	intents     map[uuid.UUID]domain.PaymentIntent
	externalIDs map[string]uuid.UUID
	progress    map[progressKey]domain.ModuleProgress
	outbox      []*memoryOutboxRow
	nextOutbox  int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(eventsExchange string) *MemoryRepository {
	exchange := strings.TrimSpace(eventsExchange)
	if exchange == "" {
		exchange = defaultEventsExchange
	}
	return &MemoryRepository{
		eventsExchange: exchange,
		now:            time.Now,
		courses:        make(map[uuid.UUID]domain.Course),
		enrollments:    make(map[enrollmentKey]domain.EnrollmentRecord),
		intents:        make(map[uuid.UUID]domain.PaymentIntent),
		externalIDs:    make(map[string]uuid.UUID),
		progress:       make(map[progressKey]domain.ModuleProgress),
	}
}

// SetClock overrides the time source used for row timestamps.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRepository) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	course, ok := m.courses[courseID]
	if !ok {
		return nil, ErrCourseNotFound
	}
	return &course, nil
}

func (m *MemoryRepository) UpsertCourse(ctx context.Context, course domain.Course) (*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	course.UpdatedAt = m.now()
	m.courses[course.ID] = course
	return &course, nil
}

func (m *MemoryRepository) FindEnrollment(ctx context.Context, learnerID string, courseID uuid.UUID) (*domain.EnrollmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.enrollments[enrollmentKey{learnerID, courseID}]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return &rec, nil
}

func (m *MemoryRepository) CreateEnrollment(ctx context.Context, record domain.EnrollmentRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.insertEnrollmentLocked(record), nil
}

func (m *MemoryRepository) insertEnrollmentLocked(record domain.EnrollmentRecord) bool {
	key := enrollmentKey{record.LearnerID, record.CourseID}
	if _, exists := m.enrollments[key]; exists {
		return false
	}
	m.enrollments[key] = record
	m.enqueueLocked(domain.RoutingKeyEnrollmentCreated, domain.EnrollmentCreatedFromRecord(record))
	return true
}

func (m *MemoryRepository) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	now := m.now()
	intent.Status = domain.PaymentStatusPending
	intent.ExternalTransactionID = nil
	intent.CreatedAt = now
	intent.UpdatedAt = now
	m.intents[intent.ID] = cloneIntent(*intent)
	return nil
}

func (m *MemoryRepository) FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrPaymentIntentNotFound
	}
	clone := cloneIntent(intent)
	return &clone, nil
}

func (m *MemoryRepository) FindPaymentIntentByExternalID(ctx context.Context, externalTransactionID string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.externalIDs[externalTransactionID]
	if !ok {
		return nil, ErrPaymentIntentNotFound
	}
	clone := cloneIntent(m.intents[id])
	return &clone, nil
}

func (m *MemoryRepository) FindOpenPaymentIntent(ctx context.Context, learnerID string, courseID uuid.UUID, createdAfter time.Time) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newest *domain.PaymentIntent
	for _, intent := range m.intents {
		if intent.LearnerID != learnerID || intent.CourseID != courseID {
			continue
		}
		if intent.Status != domain.PaymentStatusPending || intent.RedirectURL == nil || !intent.CreatedAt.After(createdAfter) {
			continue
		}
		if newest == nil || intent.CreatedAt.After(newest.CreatedAt) {
			clone := cloneIntent(intent)
			newest = &clone
		}
	}
	if newest == nil {
		return nil, ErrPaymentIntentNotFound
	}
	return newest, nil
}

func (m *MemoryRepository) AttachExternalTransaction(ctx context.Context, intentID uuid.UUID, externalTransactionID, redirectURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok || intent.Status != domain.PaymentStatusPending {
		return ErrPaymentIntentNotPending
	}
	if intent.ExternalTransactionID != nil && *intent.ExternalTransactionID != externalTransactionID {
		return ErrPaymentIntentNotPending
	}
	if owner, taken := m.externalIDs[externalTransactionID]; taken && owner != intentID {
		return ErrDuplicateExternalTransactionID
	}

	ext := externalTransactionID
	redirect := redirectURL
	intent.ExternalTransactionID = &ext
	intent.RedirectURL = &redirect
	intent.UpdatedAt = m.now()
	m.intents[intentID] = intent
	m.externalIDs[externalTransactionID] = intentID
	return nil
}

func (m *MemoryRepository) MarkPaymentIntentFailed(ctx context.Context, intentID uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok || intent.Status != domain.PaymentStatusPending {
		return false, nil
	}
	r := truncateReason(reason)
	intent.Status = domain.PaymentStatusFailed
	intent.FailureReason = &r
	intent.UpdatedAt = m.now()
	m.intents[intentID] = intent
	return true, nil
}

func (m *MemoryRepository) CompletePaymentIntent(ctx context.Context, params CompletePaymentParams) (*CompletePaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[params.IntentID]
	if !ok {
		return nil, ErrPaymentIntentNotFound
	}
	attachedElsewhere := intent.ExternalTransactionID != nil && *intent.ExternalTransactionID != params.ExternalTransactionID
	if intent.Status != domain.PaymentStatusPending || attachedElsewhere {
		return &CompletePaymentResult{Intent: cloneIntent(intent)}, nil
	}
	if owner, taken := m.externalIDs[params.ExternalTransactionID]; taken && owner != params.IntentID {
		return nil, ErrDuplicateExternalTransactionID
	}

	ext := params.ExternalTransactionID
	completedAt := params.CompletedAt
	intent.ExternalTransactionID = &ext
	intent.Status = domain.PaymentStatusCompleted
	intent.CompletedAt = &completedAt
	intent.UpdatedAt = completedAt
	m.intents[intent.ID] = intent
	m.externalIDs[ext] = intent.ID

	record := domain.NewPaidEnrollment(intent.LearnerID, intent.CourseID, ext, params.Amount, completedAt)
	created := m.insertEnrollmentLocked(record)
	return &CompletePaymentResult{Intent: cloneIntent(intent), Transitioned: true, EnrollmentCreated: created}, nil
}

func (m *MemoryRepository) ExpireStalePaymentIntents(ctx context.Context, createdBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired int64
	now := m.now()
	for id, intent := range m.intents {
		if intent.Status == domain.PaymentStatusPending && intent.CreatedAt.Before(createdBefore) {
			intent.Status = domain.PaymentStatusExpired
			intent.UpdatedAt = now
			m.intents[id] = intent
			expired++
		}
	}
	return expired, nil
}

func (m *MemoryRepository) RecordModuleProgress(ctx context.Context, params RecordProgressParams) (*RecordProgressResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := progressKey{params.LearnerID, params.CourseID, params.ModuleID}
	p, ok := m.progress[key]
	if !ok {
		p = domain.ModuleProgress{LearnerID: params.LearnerID, CourseID: params.CourseID, ModuleID: params.ModuleID}
	}
	p.LastWatchedOffsetSeconds = params.OffsetSeconds
	if params.TotalSeconds > 0 {
		p.TotalDurationSeconds = params.TotalSeconds
	}
	p.UpdatedAt = params.RecordedAt

	completedNow := false
	if params.MarkComplete && !p.Completed {
		at := params.RecordedAt
		p.Completed = true
		p.CompletedAt = &at
		completedNow = true
		m.enqueueLocked(domain.RoutingKeyModuleCompleted, domain.ModuleCompletedEvent{
			LearnerID:   p.LearnerID,
			CourseID:    p.CourseID,
			ModuleID:    p.ModuleID,
			CompletedAt: at,
		})
	}
	m.progress[key] = p
	return &RecordProgressResult{Progress: p, CompletedNow: completedNow}, nil
}

func (m *MemoryRepository) ListModuleProgress(ctx context.Context, learnerID string, courseID uuid.UUID) ([]domain.ModuleProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.ModuleProgress, 0)
	for key, p := range m.progress {
		if key.learnerID == learnerID && key.courseID == courseID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ModuleID < items[j].ModuleID })
	return items, nil
}

func (m *MemoryRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	now := m.now()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)

	messages := make([]OutboxMessage, 0, limit)
	for _, row := range m.outbox {
		if len(messages) == limit {
			break
		}
		due := row.status == "pending" && !row.nextAttemptAt.After(now)
		stale := row.status == "processing" && row.processingSince.Before(staleBefore)
		if !due && !stale {
			continue
		}
		row.status = "processing"
		row.processingSince = now
		row.msg.Attempts++
		messages = append(messages, row.msg)
	}
	return messages, nil
}

func (m *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row := m.findOutboxLocked(id); row != nil {
		row.status = "published"
		row.lastError = ""
	}
	return nil
}

func (m *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if row := m.findOutboxLocked(id); row != nil {
		row.status = "pending"
		row.nextAttemptAt = m.now().Add(time.Duration(retryAfterSeconds) * time.Second)
		row.lastError = lastError
	}
	return nil
}

// PendingOutbox returns the routing keys of messages not yet published, oldest first.
func (m *MemoryRepository) PendingOutbox() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for _, row := range m.outbox {
		if row.status != "published" {
			keys = append(keys, row.msg.RoutingKey)
		}
	}
	return keys
}

// CountEnrollments returns how many enrollment records exist for a course.
func (m *MemoryRepository) CountEnrollments(courseID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.enrollments {
		if key.courseID == courseID {
			count++
		}
	}
	return count
}

func (m *MemoryRepository) findOutboxLocked(id int64) *memoryOutboxRow {
	for _, row := range m.outbox {
		if row.msg.ID == id {
			return row
		}
	}
	return nil
}

func (m *MemoryRepository) enqueueLocked(routingKey string, payload interface{}) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.nextOutbox++
	m.outbox = append(m.outbox, &memoryOutboxRow{
		msg: OutboxMessage{
			ID:         m.nextOutbox,
			Exchange:   m.eventsExchange,
			RoutingKey: routingKey,
			Payload:    blob,
		},
		status:        "pending",
		nextAttemptAt: m.now(),
	})
}

func cloneIntent(intent domain.PaymentIntent) domain.PaymentIntent {
	clone := intent
	if intent.ExternalTransactionID != nil {
		v := *intent.ExternalTransactionID
		clone.ExternalTransactionID = &v
	}
	if intent.RedirectURL != nil {
		v := *intent.RedirectURL
		clone.RedirectURL = &v
	}
	if intent.FailureReason != nil {
		v := *intent.FailureReason
		clone.FailureReason = &v
	}
	if intent.CompletedAt != nil {
		v := *intent.CompletedAt
		clone.CompletedAt = &v
	}
	return clone
}
