package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrRemoteTimeout means the call did not complete before its deadline.
	ErrRemoteTimeout = errors.New("remote service timed out")
	// ErrRemoteUnavailable means the service could not be reached or answered
	// with a non-success status.
	ErrRemoteUnavailable = errors.New("remote service unavailable")
	// ErrBadResponse means the service answered but the body had an unexpected shape.
	ErrBadResponse = errors.New("unexpected response from remote service")
)

// Client talks JSON over HTTP to the interpreter and tracker.
// Timeouts come from the caller's context; the http.Client carries none.
type Client struct {
	httpClient *http.Client
}

// NewClient wraps httpClient; nil uses a client with no global timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Interpret asks the interpreter at addr to interpret a question.
func (c *Client) Interpret(ctx context.Context, addr string, req InterpretRequest) (*InterpretResponse, error) {
	var out InterpretResponse
	if err := c.PostJSON(ctx, endpoint(addr, "/process-question"), req, &out); err != nil {
		return nil, err
	}
	if out.Response == "" && len(out.DetectedChords) == 0 {
		return nil, fmt.Errorf("%w: interpreter returned an empty answer", ErrBadResponse)
	}
	return &out, nil
}

// Track asks the tracker at addr for overlay geometry.
func (c *Client) Track(ctx context.Context, addr string, req TrackRequest) (*TrackResponse, error) {
	var out TrackResponse
	if err := c.PostJSON(ctx, endpoint(addr, "/detect"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe performs the full liveness check (GET /health).
func (c *Client) Probe(ctx context.Context, addr string) error {
	return c.getStatus(ctx, endpoint(addr, "/health"))
}

// Pulse performs the lightweight liveness check (GET /ping).
func (c *Client) Pulse(ctx context.Context, addr string) error {
	return c.getStatus(ctx, endpoint(addr, "/ping"))
}

// PostJSON posts body as JSON to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: http %s: %d", ErrRemoteUnavailable, url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classify(ctx, url, err)
		}
		return fmt.Errorf("%w: decode %s: %v", ErrBadResponse, url, err)
	}
	return nil
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %s: %d", ErrRemoteUnavailable, url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrBadResponse, url, err)
	}
	return nil
}

func (c *Client) getStatus(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrRemoteUnavailable, url, resp.StatusCode)
	}
	return nil
}

// classify maps transport errors onto ErrRemoteTimeout / ErrRemoteUnavailable.
func classify(ctx context.Context, url string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrRemoteTimeout, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrRemoteTimeout, url, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, url, err)
}

// endpoint joins addr and path, accepting both full URLs and host:port.
func endpoint(addr, path string) string {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/") + path
}
