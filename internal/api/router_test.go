package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printagent/internal/api/handlers"
	"github.com/orrn/printagent/internal/api/middleware"
	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
	"github.com/orrn/printagent/internal/db"
)

type fakeStore struct {
	runs       []*core.Run
	lastStatus core.RunStatus
	lastLimit  int
	lastDays   int
}

func (f *fakeStore) ListRuns(_ context.Context, status core.RunStatus, limit, _ int) ([]*core.Run, error) {
	f.lastStatus = status
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeStore) GetRun(_ context.Context, id int64) (*db.RunDetail, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return &db.RunDetail{Run: *r, Submissions: []core.Submission{{RunID: id, Printer: "Zebra", Status: core.SubmissionPrinted}}}, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) GetRunStats(context.Context) (*db.RunStats, error) {
	return &db.RunStats{Completed: len(f.runs), Total: len(f.runs)}, nil
}

func (f *fakeStore) ListCounters(_ context.Context, days int) ([]db.PrintCounter, error) {
	f.lastDays = days
	return []db.PrintCounter{{Printer: "Zebra", Date: "2025-03-14", Count: 3}, {Printer: "Zebra", Date: "2025-03-13", Count: 2}}, nil
}

type fakeLister struct {
	printer string
	err     error
}

func (f *fakeLister) Options(_ context.Context, printer string) ([]core.PrinterOption, error) {
	f.printer = printer
	if f.err != nil {
		return nil, f.err
	}
	return []core.PrinterOption{{Key: "PageSize", Description: "Media Size", Default: "A4", Choices: []string{"A4", "Letter"}}}, nil
}

func newTestRouter(t *testing.T, auth *middleware.AuthMiddleware) (*gin.Engine, *fakeStore, *fakeLister) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := &fakeStore{runs: []*core.Run{{ID: 1, Kind: core.RunKindOrder, OrderID: "o1", Status: core.RunStatusCompleted}}}
	lister := &fakeLister{}
	r := NewRouter(RouterOptions{Serial: "b827eb000001", Printer: "Zebra", Auth: auth, Runs: store, Options: lister})
	return r, store, lister
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := get(r, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "b827eb000001", resp.Serial)
	assert.True(t, resp.Journal)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := get(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRuns(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	w := get(r, "/api/runs?status=completed&limit=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "o1", list.Runs[0].OrderID)
	assert.Equal(t, 1, list.Stats.Total)
	assert.Equal(t, core.RunStatusCompleted, store.lastStatus)
	assert.Equal(t, 100, store.lastLimit)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/runs?status=bogus", "").Code)

	w = get(r, "/api/runs/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail db.RunDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, int64(1), detail.ID)
	assert.Len(t, detail.Submissions, 1)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/runs/abc", "").Code)
}

func TestCounters(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	w := get(r, "/api/counters?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.CountersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Total)
	assert.Equal(t, 7, store.lastDays)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/counters?days=0", "").Code)
}

func TestPrinterOptions(t *testing.T) {
	r, _, lister := newTestRouter(t, nil)

	w := get(r, "/api/printer/options", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Zebra", lister.printer)
	var resp handlers.PrinterOptionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Options, 1)
	assert.Equal(t, "A4", resp.Options[0].Default)

	get(r, "/api/printer/options?printer=Office", "")
	assert.Equal(t, "Office", lister.printer)

	lister.err = errors.New("lpoptions failed")
	assert.Equal(t, http.StatusBadGateway, get(r, "/api/printer/options", "").Code)
}

func TestProtectedRoutes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := middleware.NewAuthMiddleware(&config.ServerConfig{PasswordHash: string(hash), JWTSecret: "0123456789abcdef0123"})
	r, _, _ := newTestRouter(t, auth)

	assert.Equal(t, http.StatusOK, get(r, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/runs", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"hunter22"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp middleware.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, http.StatusOK, get(r, "/api/runs", resp.Token).Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/printer/options", resp.Token).Code)
}

func TestRouterWithoutJournal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterOptions{Printer: "Zebra"})

	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/healthz", "").Code)
}
