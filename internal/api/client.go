// Package api is the HTTP client for the remote search and chat API.
package api

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/conthunt/streamcore/internal/auth"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/pkg/logger"
)

// StatusTokenExpired is the backend's "refresh token and retry once" status.
const StatusTokenExpired = 419

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     auth.Source
	Limiter    *rate.Limiter
	Logger     *logger.Logger

	// OnSessionInvalid is called when the backend answers 401.
	OnSessionInvalid func()
}

// Client talks to the remote API.
type Client struct {
	baseURL          *url.URL
	http             *http.Client
	tokens           auth.Source
	limiter          *rate.Limiter
	logger           *logger.Logger
	onSessionInvalid func()
}

// New creates a client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:          base,
		http:             httpClient,
		tokens:           opts.Tokens,
		limiter:          opts.Limiter,
		logger:           opts.Logger.OrNop(),
		onSessionInvalid: opts.OnSessionInvalid,
	}, nil
}

// SearchStreamPath is the SSE endpoint of a search.
func SearchStreamPath(searchID string) string {
	return "/search/" + url.PathEscape(searchID) + "/stream"
}

// MoreStreamPath is the SSE endpoint of a load-more round.
func MoreStreamPath(searchID string) string {
	return "/search/" + url.PathEscape(searchID) + "/more/stream"
}

// ChatStreamPath is the SSE endpoint of a chat.
func ChatStreamPath(chatID string) string {
	return "/chats/" + url.PathEscape(chatID) + "/stream"
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + path
}

// Token returns a bearer token or an *model.AuthError.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", &model.AuthError{Err: model.ErrNoToken}
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", &model.AuthError{Err: err}
	}
	return tok, nil
}

// StartSearch issues POST /search.
func (c *Client) StartSearch(ctx context.Context, req *model.SearchRequest) (*model.StartSearchResponse, error) {
	var resp model.StartSearchResponse
	if err := c.do(ctx, http.MethodPost, "/search", req, &resp); err != nil {
		return nil, err
	}
	if resp.SearchID == "" {
		return nil, &model.ProtocolError{Err: errors.New("search response without search_id")}
	}
	return &resp, nil
}

// Snapshot issues GET /searches/{id}.
func (c *Client) Snapshot(ctx context.Context, searchID string) (*model.SearchSnapshot, error) {
	var snap model.SearchSnapshot
	if err := c.do(ctx, http.MethodGet, "/searches/"+url.PathEscape(searchID), nil, &snap); err != nil {
		return nil, err
	}
	if snap.ID == "" {
		snap.ID = searchID
	}
	return &snap, nil
}

// RequestMore issues POST /search/{id}/more.
func (c *Client) RequestMore(ctx context.Context, searchID string, req *model.LoadMoreRequest) error {
	return c.do(ctx, http.MethodPost, "/search/"+url.PathEscape(searchID)+"/more", req, nil)
}

// SendChat issues POST /chats/{id}/send. The reply is streamed separately.
func (c *Client) SendChat(ctx context.Context, chatID string, req *model.SendChatRequest) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/send", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == StatusTokenExpired {
		resp.Body.Close()
		c.logger.Info("token expired, refreshing", zap.String("path", path))

		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return &model.AuthError{Status: StatusTokenExpired, Err: err}
		}
		resp, err = c.send(ctx, method, path, payload, token)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("session invalid", zap.String("path", path))
		if c.onSessionInvalid != nil {
			c.onSessionInvalid()
		}
		return &model.AuthError{Status: resp.StatusCode, Err: model.ErrSessionInvalid}
	case resp.StatusCode == StatusTokenExpired:
		return &model.AuthError{Status: resp.StatusCode, Err: errors.New("token rejected after refresh")}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &model.TransportError{Op: "request", Status: resp.StatusCode, Err: errors.New(errorMessage(resp.Body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.ProtocolError{Err: fmt.Errorf("failed to decode %s %s: %w", method, path, err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.TransportError{Op: "request", Err: err}
	}
	return resp, nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "unexpected response"
}
