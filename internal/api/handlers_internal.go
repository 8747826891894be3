package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SyncCourseHandler upserts the course snapshot pushed by the catalog application.
func (h *Handlers) SyncCourseHandler(w http.ResponseWriter, r *http.Request) {
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid course ID", codeInvalidRequest)
		return
	}

	var req domain.CourseSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", codeInvalidRequest)
		return
	}
	if fields := h.validator.Struct(req); fields != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid course snapshot", Code: codeInvalidRequest, Fields: fields})
		return
	}

	course, err := h.catalog.SyncCourse(r.Context(), courseID, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCourse) {
			h.writeError(w, http.StatusBadRequest, err.Error(), codeInvalidRequest)
			return
		}
		log.Printf("level=error component=api endpoint=internal_course_sync course_id=%s err=%v", courseID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to sync course", codeUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, course)
}

// InternalAccessHandler exposes the gate to other services.
func (h *Handlers) InternalAccessHandler(w http.ResponseWriter, r *http.Request) {
	learnerID := strings.TrimSpace(r.URL.Query().Get("learner_id"))
	courseID, err := uuid.Parse(r.URL.Query().Get("course_id"))
	if learnerID == "" || err != nil {
		h.writeError(w, http.StatusBadRequest, "learner_id and a valid course_id are required", codeInvalidRequest)
		return
	}

	decision, err := h.gate.Check(r.Context(), learnerID, courseID)
	if err != nil {
		if errors.Is(err, app.ErrCourseNotFound) {
			h.writeError(w, http.StatusNotFound, "course not found", codeCourseNotFound)
			return
		}
		log.Printf("level=error component=api endpoint=internal_access course_id=%s err=%v", courseID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to evaluate access", codeUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// ExpireIntentsHandler runs the payment intent expiry sweep on demand.
func (h *Handlers) ExpireIntentsHandler(w http.ResponseWriter, r *http.Request) {
	expired, err := h.jobs.RunIntentExpiry(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=internal_expire_intents err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to expire payment intents", codeUnavailable)
		return
	}
	log.Printf("level=info component=api endpoint=internal_expire_intents expired=%d", expired)
	h.writeJSON(w, http.StatusOK, map[string]int64{"expired": expired})
}
