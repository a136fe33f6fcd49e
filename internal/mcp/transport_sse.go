package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/simple-efficient/toolfactory/internal/config"
)

const defaultSSEReadTimeout = 300 * time.Second

// sseTransport holds one event-stream channel to a tool server: a long-lived
// GET stream carrying the server's responses plus a POST endpoint, announced
// by the stream's first "endpoint" event, for outgoing requests.
type sseTransport struct {
	serverName string
	httpClient *http.Client
	headers    map[string]string
	messageURL string

	cancel    context.CancelFunc
	done      chan struct{}
	streamErr atomic.Value // error

	mu      sync.Mutex
	pending map[string]chan []byte

	nextID    atomic.Int64
	closeOnce sync.Once
}

func newSSETransport(ctx context.Context, serverName string, cfg config.ServerConfig) (*sseTransport, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("sse transport requires url")
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sse url %q: %w", rawURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported sse url scheme: %q", parsedURL.Scheme)
	}

	readTimeout := defaultSSEReadTimeout
	if cfg.SSEReadTimeout > 0 {
		readTimeout = time.Duration(cfg.SSEReadTimeout) * time.Second
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t := &sseTransport{
		serverName: serverName,
		httpClient: &http.Client{},
		headers:    cloneHeaders(cfg.Headers),
		cancel:     cancel,
		done:       make(chan struct{}),
		pending:    make(map[string]chan []byte),
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	applyHeaders(req.Header, t.headers)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect sse server %q: %w", serverName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connect sse server %q: unexpected status %s", serverName, resp.Status)
	}
	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connect sse server %q: unexpected content type %q", serverName, contentType)
	}

	endpointCh := make(chan string, 1)
	go t.readStream(parsedURL, resp.Body, endpointCh, readTimeout)

	select {
	case endpoint := <-endpointCh:
		t.messageURL = endpoint
	case <-t.done:
		// The endpoint event may have arrived just before the stream ended.
		select {
		case endpoint := <-endpointCh:
			t.messageURL = endpoint
		default:
			cancel()
			return nil, fmt.Errorf("sse stream for %q closed before endpoint event: %w", serverName, t.loadStreamErr())
		}
	case <-ctx.Done():
		t.close()
		return nil, ctx.Err()
	}

	return t, nil
}

// readStream consumes the event stream until it fails or the transport is
// closed. Inactivity beyond the configured read timeout cancels the stream,
// which surfaces to callers as a dead session.
func (t *sseTransport) readStream(base *url.URL, body io.ReadCloser, endpointCh chan<- string, readTimeout time.Duration) {
	defer close(t.done)
	defer body.Close()

	idleTimer := time.AfterFunc(readTimeout, t.cancel)
	defer idleTimer.Stop()

	endpointSent := false
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("sse stream read failed", "server", t.serverName, "error", err)
			}
			t.streamErr.Store(fmt.Errorf("sse stream closed: %w", err))
			return
		}
		idleTimer.Reset(readTimeout)

		switch ev.Type {
		case "endpoint":
			if endpointSent {
				continue
			}
			resolved, err := base.Parse(strings.TrimSpace(ev.Data))
			if err != nil {
				t.streamErr.Store(fmt.Errorf("invalid endpoint event %q: %w", ev.Data, err))
				return
			}
			endpointSent = true
			endpointCh <- resolved.String()
		case "message", "":
			t.route([]byte(ev.Data))
		default:
			slog.Debug("unhandled sse event type", "server", t.serverName, "type", ev.Type)
		}
	}
	t.streamErr.Store(errors.New("sse stream closed"))
}

func (t *sseTransport) route(payload []byte) {
	var envelope struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == nil {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[normalizeRPCID(envelope.ID)]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

func (t *sseTransport) loadStreamErr() error {
	if err, ok := t.streamErr.Load().(error); ok && err != nil {
		return err
	}
	return errors.New("sse stream closed")
}

func (t *sseTransport) invoke(ctx context.Context, method string, params any) (any, error) {
	id := t.nextID.Add(1)
	key := normalizeRPCID(id)

	replyCh := make(chan []byte, 1)
	t.mu.Lock()
	t.pending[key] = replyCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()

	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json-rpc request: %w", err)
	}

	inline, err := t.post(ctx, reqBody)
	if err != nil {
		return nil, fmt.Errorf("mcp sse invoke %s failed: %w", method, err)
	}
	// Some servers answer the POST inline instead of over the stream.
	if len(inline) > 0 {
		result, matched, err := decodeRPCResponse(inline, id)
		if err != nil {
			return nil, err
		}
		if matched {
			return result, nil
		}
	}

	select {
	case payload := <-replyCh:
		result, _, err := decodeRPCResponse(payload, id)
		return result, err
	case <-t.done:
		return nil, t.loadStreamErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sseTransport) notify(ctx context.Context, method string, params any) error {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode json-rpc notification: %w", err)
	}
	if _, err := t.post(ctx, reqBody); err != nil {
		return fmt.Errorf("mcp sse notify %s failed: %w", method, err)
	}
	return nil
}

func (t *sseTransport) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.messageURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(req.Header, t.headers)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("request failed: %s", msg)
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type"))), "application/json") {
		return payload, nil
	}
	return nil, nil
}

func (t *sseTransport) close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		select {
		case <-t.done:
		case <-time.After(time.Second):
		}
		t.httpClient.CloseIdleConnections()
	})
	return nil
}

func applyHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		dst.Set(trimmedKey, value)
	}
}

func cloneHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(src))
	for key, value := range src {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	return out
}
