/**
 * @description
 * This file contains the HTTP handlers for the enrollment-service's learner endpoints.
 * Handlers parse the request, call the application services and map outcomes and
 * errors onto HTTP responses.
 *
 * @notes
 * - Learners never see raw store or processor errors. Failures surface as
 *   "enrollment pending", "enrollment required" or "temporarily unavailable, retry later".
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Error codes returned alongside error messages.
const (
	codeCourseNotFound     = "course_not_found"
	codeEnrollmentRequired = "enrollment_required"
	codeEnrollmentPending  = "enrollment_pending"
	codeRateLimited        = "rate_limited"
	codeUnavailable        = "temporarily_unavailable"
	codeInvalidRequest     = "invalid_request"
)

const retryLaterMessage = "temporarily unavailable, retry later"

// Services bundles the application services the handlers call.
type Services struct {
	Checkout   *app.CheckoutService
	Reconciler *app.Reconciler
	Gate       *app.AccessGate
	Progress   *app.ProgressTracker
	Catalog    *app.CatalogService
	Content    app.ContentResolver
	Jobs       *app.Jobs
}

// Handlers holds the application services that handlers use.
type Handlers struct {
	checkout   *app.CheckoutService
	reconciler *app.Reconciler
	gate       *app.AccessGate
	progress   *app.ProgressTracker
	catalog    *app.CatalogService
	content    app.ContentResolver
	jobs       *app.Jobs
	validator  *requestValidator
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(s Services) *Handlers {
	return &Handlers{
		checkout:   s.Checkout,
		reconciler: s.Reconciler,
		gate:       s.Gate,
		progress:   s.Progress,
		catalog:    s.Catalog,
		content:    s.Content,
		jobs:       s.Jobs,
		validator:  newRequestValidator(),
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type accessResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
	Pending bool   `json:"pending,omitempty"`
}

// CheckoutHandler starts a checkout for the course in the path.
func (h *Handlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	learnerID, courseID, ok := h.learnerAndCourse(w, r)
	if !ok {
		return
	}

	result, err := h.checkout.StartCheckout(r.Context(), learnerID, courseID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=checkout outcome=failed learner_id=%s course_id=%s err=%v", learnerID, courseID, err)
		h.writeServiceError(w, r, learnerID, courseID, err)
		return
	}

	log.Printf("level=info component=api endpoint=checkout outcome=%s learner_id=%s course_id=%s", result.Mode, learnerID, courseID)
	h.writeJSON(w, http.StatusOK, domain.CheckoutResponse{
		Mode:     result.Mode,
		Target:   result.Target,
		IntentID: result.IntentID,
	})
}

// AccessHandler reports the gate decision. A denial is a normal 200 response here.
func (h *Handlers) AccessHandler(w http.ResponseWriter, r *http.Request) {
	learnerID, courseID, ok := h.learnerAndCourse(w, r)
	if !ok {
		return
	}

	decision, err := h.gate.Check(r.Context(), learnerID, courseID)
	if err != nil {
		h.writeServiceError(w, r, learnerID, courseID, err)
		return
	}

	resp := accessResponse{Granted: decision.Granted, Reason: decision.Reason}
	if !decision.Granted {
		resp.Pending = h.checkout.HasPendingPayment(r.Context(), learnerID, courseID)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetProgressHandler lists the learner's module progress for resume.
func (h *Handlers) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	learnerID, courseID, ok := h.learnerAndCourse(w, r)
	if !ok {
		return
	}

	progress, err := h.progress.GetCourseProgress(r.Context(), learnerID, courseID)
	if err != nil {
		h.writeServiceError(w, r, learnerID, courseID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"modules": progress})
}

// UpdateProgressHandler records one playback report for a module.
func (h *Handlers) UpdateProgressHandler(w http.ResponseWriter, r *http.Request) {
	learnerID, courseID, ok := h.learnerAndCourse(w, r)
	if !ok {
		return
	}
	moduleID := chi.URLParam(r, "moduleID")

	var req domain.ProgressUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", codeInvalidRequest)
		return
	}
	if fields := h.validator.Struct(req); fields != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid progress report", Code: codeInvalidRequest, Fields: fields})
		return
	}

	result, err := h.progress.RecordProgress(r.Context(), app.ProgressUpdate{
		LearnerID:      learnerID,
		CourseID:       courseID,
		ModuleID:       moduleID,
		WatchedSeconds: *req.WatchedSeconds,
		TotalSeconds:   req.TotalSeconds,
		Ended:          req.Ended,
	})
	if err != nil {
		h.writeServiceError(w, r, learnerID, courseID, err)
		return
	}

	if result.CompletedNow {
		log.Printf("level=info component=api endpoint=progress outcome=module_completed learner_id=%s course_id=%s module_id=%s", learnerID, courseID, moduleID)
	}
	h.writeJSON(w, http.StatusOK, domain.ProgressUpdateResponse{CompletedNow: result.CompletedNow, Progress: result.Progress})
}

// learnerAndCourse reads the authenticated learner and the course path parameter,
// writing the error response itself when either is missing.
func (h *Handlers) learnerAndCourse(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	learnerID, ok := GetLearnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context", "")
		return "", uuid.Nil, false
	}
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid course ID", codeInvalidRequest)
		return "", uuid.Nil, false
	}
	return learnerID, courseID, true
}

// writeServiceError maps application errors onto learner-facing responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, learnerID string, courseID uuid.UUID, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.Is(err, app.ErrCourseNotFound):
		h.writeError(w, http.StatusNotFound, "course not found", codeCourseNotFound)
	case errors.Is(err, app.ErrEnrollmentRequired):
		h.writeEnrollmentDenied(w, r, learnerID, courseID)
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "too many checkout attempts, retry later", codeRateLimited)
	case errors.Is(err, app.ErrInvalidProgress), errors.Is(err, app.ErrInvalidCourse):
		h.writeError(w, http.StatusBadRequest, err.Error(), codeInvalidRequest)
	case errors.Is(err, app.ErrProcessorUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, retryLaterMessage, codeUnavailable)
	default:
		log.Printf("level=error component=api msg=\"request failed\" path=%s learner_id=%s course_id=%s err=%v", r.URL.Path, learnerID, courseID, err)
		h.writeError(w, http.StatusInternalServerError, retryLaterMessage, codeUnavailable)
	}
}

// writeEnrollmentDenied answers 402 and tells a learner with an open checkout that
// the enrollment is pending rather than missing.
func (h *Handlers) writeEnrollmentDenied(w http.ResponseWriter, r *http.Request, learnerID string, courseID uuid.UUID) {
	if h.checkout != nil && h.checkout.HasPendingPayment(r.Context(), learnerID, courseID) {
		h.writeError(w, http.StatusPaymentRequired, "enrollment pending", codeEnrollmentPending)
		return
	}
	h.writeError(w, http.StatusPaymentRequired, "enrollment required", codeEnrollmentRequired)
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSONError(w, status, message, code)
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
