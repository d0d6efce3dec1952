package api_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/modelforge/scoregate/internal/api"
	"github.com/modelforge/scoregate/internal/api/handler"
	mw "github.com/modelforge/scoregate/internal/api/middleware"
	"github.com/modelforge/scoregate/internal/identity"
	"github.com/modelforge/scoregate/internal/store"
	"github.com/modelforge/scoregate/pkg/models"
)

type stubScorer struct {
	jobs map[string]*models.Job
}

func (s *stubScorer) Submit(_ context.Context, jobID, submissionType, content string) (*models.Job, error) {
	job := &models.Job{ID: jobID, SubmissionType: submissionType, Content: content, Status: models.JobStatusReceived}
	s.jobs[jobID] = job
	return job, nil
}

func (s *stubScorer) Get(_ context.Context, jobID string) (*models.Job, error) {
	if job, ok := s.jobs[jobID]; ok {
		return job, nil
	}
	return nil, store.ErrNotFound
}

func newTestRouter(t *testing.T, authEnabled bool) (http.Handler, string, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pubHex := hex.EncodeToString(pub)

	var auth *mw.Auth
	if authEnabled {
		v, err := identity.NewVerifier([]string{pubHex}, time.Minute)
		if err != nil {
			t.Fatalf("verifier: %v", err)
		}
		auth = mw.NewAuth(v, true)
	} else {
		auth = mw.NewAuth(nil, false)
	}

	svc := &stubScorer{jobs: map[string]*models.Job{}}
	router := api.NewRouter(api.Dependencies{
		Auth:          auth,
		HealthHandler: handler.NewHealthHandler(),
		SubmitHandler: handler.NewSubmitHandler(svc),
		GetJobHandler: handler.NewGetJobHandler(svc),
	})
	return router, pubHex, priv
}

func signHeaders(r *http.Request, pubHex string, priv ed25519.PrivateKey, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	r.Header.Set(mw.HeaderIdentity, pubHex)
	r.Header.Set(mw.HeaderTimestamp, ts)
	r.Header.Set(mw.HeaderSignature, identity.Sign(priv, ts, body))
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router, _, _ := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", rec.Code)
	}
}

func TestRouter_ScoreRequiresAuth(t *testing.T) {
	router, _, _ := newTestRouter(t, true)

	body := []byte(`{"job_id":"j-1","submission_type":"link","content":"x"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature headers, got %d", rec.Code)
	}
}

func TestRouter_SignedSubmitThenGet(t *testing.T) {
	router, pubHex, priv := newTestRouter(t, true)

	body := []byte(`{"job_id":"j-1","submission_type":"link","content":"https://hub.example/m"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewReader(body))
	signHeaders(req, pubHex, priv, body)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	get := httptest.NewRequest(http.MethodGet, "/api/v1/score/j-1", nil)
	signHeaders(get, pubHex, priv, nil)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var job models.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != "j-1" || job.Status != models.JobStatusReceived {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestRouter_OpenModeSkipsSignatures(t *testing.T) {
	router, _, _ := newTestRouter(t, false)

	body := []byte(`{"job_id":"j-open","submission_type":"text","content":"payload"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 in open mode, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
