package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
)

type fakeService struct {
	logins      atomic.Int32
	loginStatus int
	login       string
	token       string

	mu          sync.Mutex
	pollBody    string
	pollStatus  int
	actions     []string
	actionCodes []int
	downloads   []string
	lastAuth    string
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
			return
		}
		want := f.login
		if want == "" {
			want = "b827eb000001"
		}
		if req.Login != want || req.Password != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(loginResponse{Token: f.token})
	})
	mux.HandleFunc("GET /nextorder/{serial}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		if r.PathValue("serial") != "b827eb000001" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if f.pollStatus != 0 {
			w.WriteHeader(f.pollStatus)
			return
		}
		io.WriteString(w, f.pollBody)
	})
	mux.HandleFunc("GET /devicedownload/{product}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.downloads = append(f.downloads, r.PathValue("product")+"?"+r.URL.RawQuery)
		f.mu.Unlock()
		if r.PathValue("product") == "missing" {
			http.Error(w, "no such product", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="flyer.pdf"`)
		io.WriteString(w, "%PDF-1.7 body")
	})
	mux.HandleFunc("PUT /deviceaction/{order}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.actions = append(f.actions, r.PathValue("order")+":"+r.URL.Query().Get("action"))
		if len(f.actionCodes) > 0 {
			code := f.actionCodes[0]
			f.actionCodes = f.actionCodes[1:]
			w.WriteHeader(code)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService) *Client {
	t.Helper()
	if f.token == "" {
		f.token = "opaque-token"
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return NewClient(&config.RemoteConfig{
		BaseURL:          srv.URL + "/",
		Login:            f.login,
		Secret:           "s3cret",
		RequestTimeout:   5 * time.Second,
		TokenTTL:         24 * time.Hour,
		ActionRetries:    2,
		ActionRetryDelay: time.Millisecond,
	}, "b827eb000001")
}

func TestClient_NextWork(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		empty   bool
		orderID string
	}{
		{"empty body", "", true, ""},
		{"null", "null", true, ""},
		{"empty object", "{}", true, ""},
		{"absent fields", `{"order":null,"cmd":null}`, true, ""},
		{"order", `{"order":{"id":"o1","productId":"p9","serials":[{"serial":"S1"}]}}`, false, "o1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeService{pollBody: tt.body}
			c := newTestClient(t, f)

			unit, err := c.NextWork(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.empty, unit.Empty())
			if tt.orderID != "" {
				assert.Equal(t, tt.orderID, unit.Order.ID)
			}
			assert.Equal(t, "Bearer opaque-token", f.lastAuth)
		})
	}
}

func TestClient_LoginOverrideStillPollsBySerial(t *testing.T) {
	f := &fakeService{login: "kiosk-operator", pollBody: `{"order":{"id":"o1","productId":"p9"}}`}
	c := newTestClient(t, f)

	unit, err := c.NextWork(context.Background())
	require.NoError(t, err)
	require.NotNil(t, unit.Order)
	assert.Equal(t, "o1", unit.Order.ID)
	assert.Equal(t, int32(1), f.logins.Load())
	assert.Equal(t, "Bearer opaque-token", f.lastAuth)
}

func TestClient_NextWorkErrors(t *testing.T) {
	f := &fakeService{pollStatus: http.StatusInternalServerError}
	c := newTestClient(t, f)

	_, err := c.NextWork(context.Background())
	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusInternalServerError, e.Status)

	f.mu.Lock()
	f.pollStatus = 0
	f.pollBody = "{not json"
	f.mu.Unlock()
	_, err = c.NextWork(context.Background())
	assert.Error(t, err)
}

func TestClient_UnauthorizedInvalidatesSession(t *testing.T) {
	f := &fakeService{pollStatus: http.StatusUnauthorized}
	c := newTestClient(t, f)

	_, err := c.NextWork(context.Background())
	assert.True(t, errors.Is(err, core.ErrAuth))
	assert.EqualValues(t, 1, f.logins.Load())

	f.mu.Lock()
	f.pollStatus = 0
	f.mu.Unlock()
	_, err = c.NextWork(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestClient_LoginFailure(t *testing.T) {
	f := &fakeService{loginStatus: http.StatusForbidden}
	c := newTestClient(t, f)

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAuth))

	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusForbidden, e.Status)

	_, err = c.NextWork(context.Background())
	assert.True(t, errors.Is(err, core.ErrAuth))
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestClient_LoginWithoutToken(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)
	f.token = ""

	err := c.Authenticate(context.Background())
	assert.True(t, errors.Is(err, core.ErrAuth))
}

func TestClient_Download(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)

	dl, err := c.Download(context.Background(), "p9", true)
	require.NoError(t, err)
	defer dl.Body.Close()

	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(body))
	assert.Equal(t, `attachment; filename="flyer.pdf"`, dl.ContentDisposition)

	dl2, err := c.Download(context.Background(), "p10", false)
	require.NoError(t, err)
	dl2.Body.Close()

	assert.Equal(t, []string{"p9?capa=true", "p10?"}, f.downloads)
}

func TestClient_DownloadStatusError(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)

	_, err := c.Download(context.Background(), "missing", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDownload))

	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Contains(t, err.Error(), "no such product")
}

func TestClient_Notify(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)

	require.NoError(t, c.Notify(context.Background(), "o1", core.ActionDownloadStart))
	assert.Equal(t, []string{"o1:downloadstart"}, f.actions)
}

func TestClient_NotifyRetriesServerErrors(t *testing.T) {
	f := &fakeService{actionCodes: []int{http.StatusBadGateway, http.StatusServiceUnavailable}}
	c := newTestClient(t, f)

	require.NoError(t, c.Notify(context.Background(), "o1", core.ActionPrintEnd))
	assert.Len(t, f.actions, 3)
}

func TestClient_NotifyGivesUp(t *testing.T) {
	f := &fakeService{actionCodes: []int{500, 500, 500, 500}}
	c := newTestClient(t, f)

	err := c.Notify(context.Background(), "o1", core.ActionDownloadEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, f.actions, 3)
}

func TestClient_NotifyDoesNotRetryClientErrors(t *testing.T) {
	f := &fakeService{actionCodes: []int{http.StatusNotFound}}
	c := newTestClient(t, f)

	err := c.Notify(context.Background(), "o1", core.ActionDownloadError)
	require.Error(t, err)
	assert.True(t, isClientError(err))
	assert.Len(t, f.actions, 1)
}
