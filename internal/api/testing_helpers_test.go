package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/paymentclient"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testAllowedOrigin = "https://learn.example.com"
	testKID           = "test-key-1"
	testInternalKey   = "internal-secret"
	testWebhookSecret = "whsec_api_test"
)

type testIssuer struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}

	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kid": testKID,
			"kty": "RSA",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	return &testIssuer{key: key, server: server}
}

func (i *testIssuer) token(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	token.Header["kid"] = testKID
	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProcessor) CreateCheckout(ctx context.Context, req paymentclient.CheckoutRequest) (*paymentclient.CheckoutResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	txID := fmt.Sprintf("tx_%d_%s", p.calls, req.Reference)
	return &paymentclient.CheckoutResponse{TransactionID: txID, RedirectURL: "https://pay.example.com/c/" + txID}, nil
}

type testEnv struct {
	t         *testing.T
	repo      *store.MemoryRepository
	processor *fakeProcessor
	issuer    *testIssuer
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewMemoryRepository("")
	processor := &fakeProcessor{}
	gate := app.NewAccessGate(repo, nil)

	h := NewHandlers(Services{
		Checkout: app.NewCheckoutService(repo, processor, nil, app.CheckoutConfig{
			SuccessURL: "https://learn.example.com/success",
			CancelURL:  "https://learn.example.com/cancel",
			IntentTTL:  24 * time.Hour,
		}),
		Reconciler: app.NewReconciler(repo, testWebhookSecret, app.NewBrokerAlerter(nil, "", logger), logger),
		Gate:       gate,
		Progress:   app.NewProgressTracker(repo, gate, 0.9),
		Catalog:    app.NewCatalogService(repo, "USD"),
		Content:    app.NewStaticContentResolver("https://cdn.example.com"),
		Jobs:       app.NewJobs(repo, 24*time.Hour, logger),
	})

	issuer := newTestIssuer(t)
	return &testEnv{
		t:         t,
		repo:      repo,
		processor: processor,
		issuer:    issuer,
		handler:   NewRouter(h, issuer.server.URL, testInternalKey, []string{testAllowedOrigin}),
	}
}

func (e *testEnv) seedCourse(price int64) uuid.UUID {
	e.t.Helper()
	course, err := e.repo.UpsertCourse(context.Background(), domain.Course{
		ID:           uuid.New(),
		Title:        "Intro",
		Price:        price,
		Currency:     "USD",
		InstructorID: "user_instructor",
	})
	if err != nil {
		e.t.Fatalf("failed to seed course: %v", err)
	}
	return course.ID
}

// do sends a request as learnerID; an empty learnerID sends no Authorization header.
func (e *testEnv) do(method, path, learnerID string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(blob)
	}
	req := httptest.NewRequest(method, path, reader)
	if learnerID != "" {
		req.Header.Set("Authorization", "Bearer "+e.issuer.token(e.t, learnerID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postWebhook(payload []byte, signature string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(paymentSignatureHeader, signature)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}
