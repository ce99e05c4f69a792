// Package remote talks to the print-management service: login, work polling,
// document download and order state notifications.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
	applog "github.com/orrn/printagent/internal/log"
)

const maxErrorBody = 512

var errPoll = errors.New("poll failed")

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error: %d", e.Code)
	}
	return fmt.Sprintf("http error: %d: %s", e.Code, e.Body)
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

type Client struct {
	baseURL    string
	serial     string
	login      string
	secret     string
	httpClient *http.Client
	dlClient   *http.Client
	session    *Session
	retries    int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewClient builds a client for the service at cfg.BaseURL. The device logs
// in as cfg.Login when set, otherwise as serial, and always polls for work
// under serial.
func NewClient(cfg *config.RemoteConfig, serial string) *Client {
	login := serial
	if cfg.Login != "" {
		login = cfg.Login
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serial:     serial,
		login:      login,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		// Streamed bodies are bounded by the caller's context.
		dlClient:   &http.Client{},
		retries:    cfg.ActionRetries,
		retryDelay: cfg.ActionRetryDelay,
		logger:     applog.WithComponent("remote"),
	}
	c.session = NewSession(c.createSession, cfg.TokenTTL)
	return c
}

func (c *Client) Session() *Session {
	return c.session
}

// Authenticate makes sure a session token is available.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.session.Token(ctx)
	return err
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *Client) createSession(ctx context.Context) (string, error) {
	body, err := json.Marshal(loginRequest{Login: c.login, Password: c.secret})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := core.NewError(core.ErrAuth, "login", readStatusError(resp))
		e.Status = resp.StatusCode
		return "", e
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}

// NextWork polls for this device's next work unit. An empty or null body
// means there is no work.
func (c *Client) NextWork(ctx context.Context) (*core.WorkUnit, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/nextorder/"+url.PathEscape(c.serial), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := error(errPoll)
		if resp.StatusCode == http.StatusUnauthorized {
			kind = core.ErrAuth
		}
		e := core.NewError(kind, "poll next work", readStatusError(resp))
		e.Status = resp.StatusCode
		return nil, e
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read poll response: %w", err)
	}
	unit := &core.WorkUnit{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return unit, nil
	}
	if err := json.Unmarshal(data, unit); err != nil {
		return nil, fmt.Errorf("decode work unit: %w", err)
	}
	return unit, nil
}

// Download opens the document stream for productID. The caller closes the
// body.
func (c *Client) Download(ctx context.Context, productID string, cover bool) (*core.Download, error) {
	var query url.Values
	if cover {
		query = url.Values{"capa": {"true"}}
	}

	resp, err := c.do(ctx, c.dlClient, http.MethodGet, "/devicedownload/"+url.PathEscape(productID), query)
	if err != nil {
		return nil, core.NewError(core.ErrDownload, "download "+productID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		e := core.NewError(core.ErrDownload, "download "+productID, readStatusError(resp))
		e.Status = resp.StatusCode
		return nil, e
	}

	return &core.Download{
		Body:               resp.Body,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}, nil
}

// Notify reports an order state transition. Transport errors and server
// errors are retried with exponential backoff; client errors are not.
func (c *Client) Notify(ctx context.Context, orderID string, action core.Action) error {
	attempts := c.retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.sendAction(ctx, orderID, action)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := c.retryDelay * time.Duration(1<<(attempt-1))
		c.logger.Debug().Err(err).
			Str(applog.FieldOrderID, orderID).
			Str(applog.FieldAction, string(action)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retrying state notification")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("notify %s: %w", action, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("notify %s after %d attempts: %w", action, attempts, lastErr)
}

func (c *Client) sendAction(ctx context.Context, orderID string, action core.Action) error {
	query := url.Values{"action": {string(action)}}
	resp, err := c.do(ctx, c.httpClient, http.MethodPut, "/deviceaction/"+url.PathEscape(orderID), query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// do sends an authenticated request. A 401 response drops the cached token.
func (c *Client) do(ctx context.Context, client *http.Client, method, path string, query url.Values) (*http.Response, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn().Str("path", path).Msg("session rejected, logging in again on next call")
		c.session.Invalidate()
	}
	return resp, nil
}

func readStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
