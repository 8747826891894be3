package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
)

// startPaidCheckout opens a checkout over HTTP and returns the stored intent.
func startPaidCheckout(t *testing.T, env *testEnv, courseID uuid.UUID, learnerID string) *domain.PaymentIntent {
	t.Helper()
	rec := env.do(http.MethodPost, "/courses/"+courseID.String()+"/checkout", learnerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected checkout 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	decodeBody(t, rec, &resp)
	if resp.Mode != app.CheckoutModeRedirect || resp.Target == "" || resp.IntentID == nil {
		t.Fatalf("expected a redirect checkout, got %+v", resp)
	}

	intent, err := env.repo.FindPaymentIntentByID(context.Background(), *resp.IntentID)
	if err != nil {
		t.Fatalf("expected intent to be stored, got %v", err)
	}
	return intent
}

func completionPayload(t *testing.T, intent *domain.PaymentIntent) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.PaymentNotification{
		TransactionID: *intent.ExternalTransactionID,
		EventType:     "payment.completed",
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Reference:     intent.ID.String(),
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return payload
}

func sign(payload []byte) string {
	return "sha256=" + app.SignPayload([]byte(testWebhookSecret), payload)
}

func TestScenarioA_FreeCourseEnrollment(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(0)
	base := "/courses/" + courseID.String()

	rec := env.do(http.MethodPost, base+"/checkout", "user_learner", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var checkout domain.CheckoutResponse
	decodeBody(t, rec, &checkout)
	if checkout.Mode != app.CheckoutModeEnrolled {
		t.Fatalf("expected mode enrolled, got %q", checkout.Mode)
	}

	var access accessResponse
	decodeBody(t, env.do(http.MethodGet, base+"/access", "user_learner", nil), &access)
	if !access.Granted {
		t.Fatalf("expected access immediately, got %+v", access)
	}

	rec = env.do(http.MethodGet, base+"/modules/m1/video", "user_learner", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected video 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var location app.ContentLocation
	decodeBody(t, rec, &location)
	if location.Kind != app.ContentKindVideo || location.URL == "" {
		t.Fatalf("unexpected content location: %+v", location)
	}
	if env.repo.CountEnrollments(courseID) != 1 {
		t.Fatalf("expected 1 enrollment, got %d", env.repo.CountEnrollments(courseID))
	}
}

func TestScenarioB_PaidCourseCompletion(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(4999)
	base := "/courses/" + courseID.String()

	intent := startPaidCheckout(t, env, courseID, "user_learner")
	if intent.Status != domain.PaymentStatusPending || intent.Amount != 4999 {
		t.Fatalf("expected pending intent for 4999, got status=%s amount=%d", intent.Status, intent.Amount)
	}

	rec := env.do(http.MethodGet, base+"/modules/m1/video", "user_learner", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 before payment, got %d", rec.Code)
	}
	var denied errorResponse
	decodeBody(t, rec, &denied)
	if denied.Code != codeEnrollmentPending {
		t.Fatalf("expected enrollment_pending while checkout is open, got %+v", denied)
	}

	payload := completionPayload(t, intent)
	rec = env.postWebhook(payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := env.repo.FindPaymentIntentByID(context.Background(), intent.ID)
	if stored.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected intent completed, got %s", stored.Status)
	}
	record, err := env.repo.FindEnrollment(context.Background(), "user_learner", courseID)
	if err != nil || record.Source != domain.EnrollmentSourcePaid {
		t.Fatalf("expected paid enrollment, got %+v err=%v", record, err)
	}

	var access accessResponse
	decodeBody(t, env.do(http.MethodGet, base+"/access", "user_learner", nil), &access)
	if !access.Granted || access.Reason != app.AccessReasonEnrolled {
		t.Fatalf("expected enrolled access, got %+v", access)
	}
	if rec := env.do(http.MethodGet, base+"/modules/m1/video", "user_learner", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected video 200 after payment, got %d", rec.Code)
	}
}

func TestScenarioC_DuplicateCompletionDelivery(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(4999)
	intent := startPaidCheckout(t, env, courseID, "user_learner")
	payload := completionPayload(t, intent)

	for i := 0; i < 2; i++ {
		if rec := env.postWebhook(payload, sign(payload)); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	if got := env.repo.CountEnrollments(courseID); got != 1 {
		t.Fatalf("expected exactly 1 enrollment, got %d", got)
	}
}

func TestScenarioD_ForgedSignature(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(4999)
	intent := startPaidCheckout(t, env, courseID, "user_learner")
	payload := completionPayload(t, intent)

	forged := "sha256=" + app.SignPayload([]byte("attacker-secret"), payload)
	rec := env.postWebhook(payload, forged)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	stored, _ := env.repo.FindPaymentIntentByID(context.Background(), intent.ID)
	if stored.Status != domain.PaymentStatusPending {
		t.Fatalf("expected intent to remain pending, got %s", stored.Status)
	}
	if got := env.repo.CountEnrollments(courseID); got != 0 {
		t.Fatalf("expected no enrollment, got %d", got)
	}
}

func TestWebhook_AmountMismatchAndMalformed(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(4999)
	intent := startPaidCheckout(t, env, courseID, "user_learner")

	tampered, _ := json.Marshal(domain.PaymentNotification{
		TransactionID: *intent.ExternalTransactionID,
		EventType:     "completed",
		Amount:        1,
	})
	if rec := env.postWebhook(tampered, sign(tampered)); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for amount mismatch, got %d", rec.Code)
	}

	malformed := []byte(`{"event_type":"completed"}`)
	if rec := env.postWebhook(malformed, sign(malformed)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed notification, got %d", rec.Code)
	}

	if got := env.repo.CountEnrollments(courseID); got != 0 {
		t.Fatalf("expected no enrollment, got %d", got)
	}
}

func TestGatedContent_DeniedWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(4999)
	base := "/courses/" + courseID.String()

	paths := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: base + "/modules/m1/video"},
		{method: http.MethodGet, path: base + "/assignments/a1/attachment"},
		{method: http.MethodGet, path: base + "/qa"},
		{method: http.MethodPost, path: base + "/qa"},
		{method: http.MethodPost, path: base + "/certificate"},
		{method: http.MethodGet, path: base + "/progress"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := env.do(p.method, p.path, "user_stranger", nil)
			if rec.Code != http.StatusPaymentRequired {
				t.Fatalf("expected 402, got %d", rec.Code)
			}
			var body errorResponse
			decodeBody(t, rec, &body)
			if body.Code != codeEnrollmentRequired || body.Error != "enrollment required" {
				t.Fatalf("unexpected denial body: %+v", body)
			}
		})
	}

	if rec := env.do(http.MethodGet, base+"/qa", "user_instructor", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected the owning instructor to pass the gate, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/courses/"+uuid.NewString()+"/qa", "user_stranger", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown course, got %d", rec.Code)
	}
}

func TestProgressEndpoints(t *testing.T) {
	env := newTestEnv(t)
	courseID := env.seedCourse(0)
	base := "/courses/" + courseID.String()

	report := func(watched, total float64) domain.ProgressUpdateResponse {
		t.Helper()
		rec := env.do(http.MethodPut, base+"/modules/m1/progress", "user_learner", map[string]interface{}{
			"watched_seconds": watched,
			"total_seconds":   total,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp domain.ProgressUpdateResponse
		decodeBody(t, rec, &resp)
		return resp
	}

	if resp := report(540, 600); !resp.CompletedNow {
		t.Fatalf("expected completion at 90%%, got %+v", resp)
	}
	if resp := report(550, 600); resp.CompletedNow || !resp.Progress.Completed {
		t.Fatalf("expected completion to stay latched without flipping, got %+v", resp)
	}

	rec := env.do(http.MethodPut, base+"/modules/m1/progress", "user_learner", map[string]interface{}{
		"watched_seconds": -5,
		"total_seconds":   600,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative watched seconds, got %d", rec.Code)
	}
	var invalid errorResponse
	decodeBody(t, rec, &invalid)
	if _, ok := invalid.Fields["watched_seconds"]; !ok {
		t.Fatalf("expected a watched_seconds field error, got %+v", invalid)
	}

	rec = env.do(http.MethodGet, base+"/progress", "user_learner", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Modules []domain.ModuleProgress `json:"modules"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Modules) != 1 || !listed.Modules[0].Completed {
		t.Fatalf("expected one completed module, got %+v", listed.Modules)
	}
}

func TestCheckout_ProcessorDownReturnsRetryLater(t *testing.T) {
	env := newTestEnv(t)
	env.processor.err = context.DeadlineExceeded
	courseID := env.seedCourse(4999)

	rec := env.do(http.MethodPost, "/courses/"+courseID.String()+"/checkout", "user_learner", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Error != retryLaterMessage {
		t.Fatalf("expected the retry message, got %q", body.Error)
	}
}
