// Package device is the HTTP client for the lamp's settings API.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// API paths relative to the base URL
const (
	PathStatus    = "/status"
	PathUpdate    = "/update"
	PathDiscover  = "/discover"
	PathWiFi      = "/wifi"      // reserved for the configuration UI
	PathBluetooth = "/bluetooth" // reserved for the configuration UI
)

// StatusError is returned when the lamp answers with a non-2xx code
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status code: %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Path, e.Code, e.Body)
}

// Client talks to a single lamp endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new lamp client. The timeout bounds every request;
// callers may pass shorter deadlines through the context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the lamp API base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	return resp, nil
}

// Status fetches the lamp's current pattern, brightness and speed
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.request(ctx, http.MethodGet, PathStatus, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

// Update pushes settings to the lamp. The response body is ignored.
func (c *Client) Update(ctx context.Context, settings Settings) error {
	bodyBytes, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, PathUpdate, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().
		Int("pattern", settings.Pattern).
		Int("brightness", settings.Brightness).
		Int("speed", settings.Speed).
		Msg("Settings pushed")

	return nil
}

// Discover asks the lamp to scan for peers
func (c *Client) Discover(ctx context.Context) ([]Descriptor, error) {
	resp, err := c.request(ctx, http.MethodPost, PathDiscover, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var devices []Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}
	return devices, nil
}
