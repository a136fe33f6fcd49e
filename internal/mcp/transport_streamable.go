package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tmaxmax/go-sse"

	"github.com/simple-efficient/toolfactory/internal/config"
)

const sessionIDHeader = "Mcp-Session-Id"

// streamableTransport speaks the streamable HTTP flavor of the protocol:
// every request is its own POST, the server assigns a session id on
// initialize, and responses arrive either as plain JSON or as a short
// per-request event stream.
type streamableTransport struct {
	serverName string
	endpoint   string
	httpClient *http.Client
	headers    map[string]string

	sessionMu sync.Mutex
	sessionID string

	nextID    atomic.Int64
	closeOnce sync.Once
}

func newStreamableTransport(serverName string, cfg config.ServerConfig) (*streamableTransport, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("streamable transport requires url")
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid streamable url %q: %w", rawURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported streamable url scheme: %q", parsedURL.Scheme)
	}

	return &streamableTransport{
		serverName: serverName,
		endpoint:   parsedURL.String(),
		httpClient: &http.Client{},
		headers:    cloneHeaders(cfg.Headers),
	}, nil
}

func (t *streamableTransport) invoke(ctx context.Context, method string, params any) (any, error) {
	id := t.nextID.Add(1)
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json-rpc request: %w", err)
	}

	payload, err := t.post(ctx, reqBody, id)
	if err != nil {
		return nil, fmt.Errorf("mcp streamable invoke %s failed: %w", method, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("mcp streamable invoke %s failed: no response for request %d", method, id)
	}
	result, _, err := decodeRPCResponse(payload, id)
	return result, err
}

func (t *streamableTransport) notify(ctx context.Context, method string, params any) error {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode json-rpc notification: %w", err)
	}
	if _, err := t.post(ctx, reqBody, 0); err != nil {
		return fmt.Errorf("mcp streamable notify %s failed: %w", method, err)
	}
	return nil
}

// post sends one request and returns the raw response payload for expectID,
// or nil when the server produced no matching body (notifications, 202s).
func (t *streamableTransport) post(ctx context.Context, body []byte, expectID int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(req.Header, t.headers)
	if session := t.currentSession(); session != "" {
		req.Header.Set(sessionIDHeader, session)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if session := strings.TrimSpace(resp.Header.Get(sessionIDHeader)); session != "" {
		t.setSession(session)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("request failed: %s", msg)
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil, nil
		}
		return payload, nil
	case strings.HasPrefix(contentType, "text/event-stream"):
		return readStreamedResponse(resp.Body, expectID)
	default:
		return nil, nil
	}
}

// readStreamedResponse drains a per-request event stream until it carries the
// response for expectID or ends.
func readStreamedResponse(body io.Reader, expectID int64) ([]byte, error) {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return nil, fmt.Errorf("read response stream: %w", err)
		}
		if ev.Type != "" && ev.Type != "message" {
			continue
		}
		var envelope struct {
			ID any `json:"id"`
		}
		payload := []byte(ev.Data)
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == nil {
			continue
		}
		if normalizeRPCID(envelope.ID) == normalizeRPCID(expectID) {
			return payload, nil
		}
	}
	return nil, nil
}

func (t *streamableTransport) currentSession() string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	return t.sessionID
}

func (t *streamableTransport) setSession(id string) {
	t.sessionMu.Lock()
	t.sessionID = id
	t.sessionMu.Unlock()
}

func (t *streamableTransport) close() error {
	t.closeOnce.Do(func() {
		if session := t.currentSession(); session != "" {
			req, err := http.NewRequest(http.MethodDelete, t.endpoint, nil)
			if err == nil {
				req.Header.Set(sessionIDHeader, session)
				applyHeaders(req.Header, t.headers)
				if resp, err := t.httpClient.Do(req); err == nil {
					resp.Body.Close()
				}
			}
		}
		t.httpClient.CloseIdleConnections()
	})
	return nil
}
