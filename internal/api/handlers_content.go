package api

import (
	"log"
	"net/http"

	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RequireEnrollment rejects requests for gated course resources with 402 unless the
// access gate grants the authenticated learner access to the course in the path.
func (h *Handlers) RequireEnrollment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		learnerID, courseID, ok := h.learnerAndCourse(w, r)
		if !ok {
			return
		}

		granted, err := h.gate.CanAccess(r.Context(), learnerID, courseID)
		if err != nil {
			h.writeServiceError(w, r, learnerID, courseID, err)
			return
		}
		if !granted {
			log.Printf("level=info component=api msg=\"gated content denied\" path=%s learner_id=%s course_id=%s", r.URL.Path, learnerID, courseID)
			h.writeEnrollmentDenied(w, r, learnerID, courseID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ModuleVideoHandler returns where to stream a module's video.
func (h *Handlers) ModuleVideoHandler(w http.ResponseWriter, r *http.Request) {
	h.writeContentLocation(w, r, app.ContentKindVideo, chi.URLParam(r, "moduleID"))
}

// AssignmentAttachmentHandler returns where to download an assignment attachment.
func (h *Handlers) AssignmentAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	h.writeContentLocation(w, r, app.ContentKindAttachment, chi.URLParam(r, "assignmentID"))
}

// QAHandler returns the course Q&A location for both reading and posting.
func (h *Handlers) QAHandler(w http.ResponseWriter, r *http.Request) {
	h.writeContentLocation(w, r, app.ContentKindQA, "")
}

// CertificateHandler returns where the course certificate is issued.
func (h *Handlers) CertificateHandler(w http.ResponseWriter, r *http.Request) {
	h.writeContentLocation(w, r, app.ContentKindCertificate, "")
}

func (h *Handlers) writeContentLocation(w http.ResponseWriter, r *http.Request, kind, resourceID string) {
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid course ID", codeInvalidRequest)
		return
	}

	location, err := h.content.Resolve(courseID, kind, resourceID)
	if err != nil {
		log.Printf("level=error component=api msg=\"content resolution failed\" kind=%s course_id=%s err=%v", kind, courseID, err)
		h.writeError(w, http.StatusInternalServerError, retryLaterMessage, codeUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, location)
}
