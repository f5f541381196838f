package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/timeseal/timeseal-go/internal/crypto"
	"github.com/timeseal/timeseal-go/internal/middleware"
	"github.com/timeseal/timeseal-go/internal/model"
	"github.com/timeseal/timeseal-go/internal/repository"
	"github.com/timeseal/timeseal-go/internal/service"
)

// memStore is a minimal in-memory CapsuleStore for handler tests.
type memStore struct {
	capsules map[string]*model.Capsule
}

func newMemStore() *memStore {
	return &memStore{capsules: make(map[string]*model.Capsule)}
}

func (m *memStore) Create(_ context.Context, c *model.Capsule) error {
	cp := *c
	m.capsules[c.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.Capsule, error) {
	c, ok := m.capsules[id]
	if !ok {
		return nil, repository.ErrCapsuleNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetByOwner(_ context.Context, ownerID int64) (*model.Capsule, error) {
	for _, c := range m.capsules {
		if c.OwnerID == ownerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrCapsuleNotFound
}

func (m *memStore) GetByOwnerEmail(_ context.Context, email string) (*model.Capsule, error) {
	for _, c := range m.capsules {
		if c.OwnerEmail == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrCapsuleNotFound
}

func (m *memStore) ListByOwner(_ context.Context, ownerID int64, limit, offset int) ([]model.Capsule, error) {
	var out []model.Capsule
	for _, c := range m.capsules {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context) (int64, error) {
	return int64(len(m.capsules)), nil
}

func (m *memStore) Rename(_ context.Context, id, name string) error {
	c, ok := m.capsules[id]
	if !ok {
		return repository.ErrCapsuleNotFound
	}
	c.Name = name
	return nil
}

func (m *memStore) MarkOpened(_ context.Context, id, plaintext string) (bool, error) {
	c, ok := m.capsules[id]
	if !ok || c.IsOpened {
		return false, nil
	}
	c.IsOpened = true
	c.Message = plaintext
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	if _, ok := m.capsules[id]; !ok {
		return repository.ErrCapsuleNotFound
	}
	delete(m.capsules, id)
	return nil
}

// seedCapsule stores a capsule sealed with the given code and unlock date.
func seedCapsule(t *testing.T, store *memStore, id, code string, lockedUntil time.Time) {
	t.Helper()

	codeHash, err := crypto.HashSecret(code)
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}
	ciphertext, err := crypto.EncryptMessage("Hello future me", code)
	if err != nil {
		t.Fatalf("EncryptMessage() unexpected error: %v", err)
	}

	store.capsules[id] = &model.Capsule{
		ID:          id,
		OwnerID:     1,
		OwnerEmail:  "me@example.com",
		Name:        "test capsule",
		Message:     ciphertext,
		CodeHash:    codeHash,
		LockedUntil: lockedUntil,
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestHandler(store *memStore) *CapsuleHandler {
	return NewCapsuleHandler(service.NewCapsuleService(store, 0, 100), nil)
}

func newTestRouter(h *CapsuleHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/capsules", h.HandleSeal)
	r.Post("/api/v1/capsules/{capsule_id}/unlock", h.HandleUnlock)
	r.Post("/api/v1/unlock", h.HandleUnlockByEmail)
	r.Get("/api/v1/stats", h.HandleStats)
	return r
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithUser(req.Context(), 1, "me@example.com"))
}

func TestHandleSealCreated(t *testing.T) {
	h := newTestHandler(newMemStore())
	w := httptest.NewRecorder()

	body := `{"name":"my capsule","message":"Hello future me","code":"123456","years_locked":1}`
	newTestRouter(h).ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/capsules", body))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp model.SealCapsuleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Capsule.ID == "" || resp.Capsule.IsOpened {
		t.Errorf("unexpected capsule in response: %+v", resp.Capsule)
	}
	if resp.Capsule.Message != "" {
		t.Error("seal response leaked a message")
	}
}

func TestHandleSealValidationError(t *testing.T) {
	h := newTestHandler(newMemStore())
	w := httptest.NewRecorder()

	body := `{"name":"ab","message":"hi","code":"123456","years_locked":1}`
	newTestRouter(h).ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/capsules", body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleSealUnauthenticated(t *testing.T) {
	h := newTestHandler(newMemStore())
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules", strings.NewReader(`{}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleUnlockNotFound(t *testing.T) {
	h := newTestHandler(newMemStore())
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules/missing/unlock", strings.NewReader(`{"code":"123456"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleUnlockStillLocked(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(24*time.Hour))
	h := newTestHandler(store)
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules/cap-1/unlock", strings.NewReader(`{"code":"123456"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusLocked {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusLocked)
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := resp["locked_until"]; !ok {
		t.Error("still-locked response missing locked_until")
	}
}

func TestHandleUnlockWrongCode(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(-time.Hour))
	h := newTestHandler(store)
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules/cap-1/unlock", strings.NewReader(`{"code":"000000"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleUnlockSuccess(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(-time.Hour))
	h := newTestHandler(store)
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules/cap-1/unlock", strings.NewReader(`{"code":"123456"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp model.CapsuleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Message != "Hello future me" {
		t.Errorf("message = %q, want plaintext", resp.Message)
	}
	if !resp.IsOpened {
		t.Error("capsule not marked opened in response")
	}
}

func TestHandleUnlockGeofenced(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(-time.Hour))
	store.capsules["cap-1"].Footprint = &model.Footprint{Latitude: 51.5074, Longitude: -0.1278, Accuracy: 10}
	h := newTestHandler(store)
	router := newTestRouter(h)

	// Correct code, no fix.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capsules/cap-1/unlock", strings.NewReader(`{"code":"123456"}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusPreconditionRequired {
		t.Errorf("status without fix = %d, want %d", w.Code, http.StatusPreconditionRequired)
	}

	// Correct code, fix far away: response carries the distance.
	w = httptest.NewRecorder()
	body := `{"code":"123456","footprint":{"latitude":48.8566,"longitude":2.3522,"accuracy":10}}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/capsules/cap-1/unlock", strings.NewReader(body))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status far away = %d, want %d", w.Code, http.StatusForbidden)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if d, ok := resp["distance_m"].(float64); !ok || d <= 0 {
		t.Errorf("distance_m = %v, want positive number", resp["distance_m"])
	}
}

func TestHandleUnlockByEmail(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(-time.Hour))
	h := newTestHandler(store)
	w := httptest.NewRecorder()

	body := `{"email":"me@example.com","code":"123456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/unlock", strings.NewReader(body))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestHandleStats(t *testing.T) {
	store := newMemStore()
	seedCapsule(t, store, "cap-1", "123456", time.Now().Add(24*time.Hour))
	h := NewCapsuleHandler(service.NewCapsuleService(store, 100, 100), nil)
	w := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var stats model.StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.Total != 1 || stats.Remaining != 99 {
		t.Errorf("stats = %+v", stats)
	}
}
