// ABOUTME: HTTP client for talking to boostd over its unix socket.
// ABOUTME: Mirrors the control API request/response shapes used by the CLI.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultSocketPath = "/run/boostd/boostd.sock"

const (
	defaultRequestTimeout = 10 * time.Second
	maxJSONOutputBytes    = 4 << 20 // 4MB maximum JSON response size
)

// apiClient is an HTTP client for communicating with boostd over a Unix socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
	timeout    time.Duration
}

// apiError is the error body returned by boostd.
type apiError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *apiError) Error() string {
	if e.Details != "" && e.Details != e.Message {
		return e.Details
	}
	return e.Message
}

type perfRequest struct {
	Cmd int    `json:"cmd"`
	Msg string `json:"msg,omitempty"`
}

type toggleRequest struct {
	Cmd int    `json:"cmd"`
	On  bool   `json:"on"`
	Msg string `json:"msg,omitempty"`
}

type limitBoostRequest struct {
	On  bool   `json:"on"`
	Msg string `json:"msg,omitempty"`
}

type limitRequest struct {
	Client    string   `json:"client"`
	Resources []string `json:"resources"`
	Values    []int64  `json:"values"`
	Msg       string   `json:"msg,omitempty"`
}

type enabledRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

type thermalLevelRequest struct {
	Level int `json:"level"`
}

type deviceModeRequest struct {
	Mode   string `json:"mode"`
	Active bool   `json:"active"`
}

type acceptedResponse struct {
	RequestID string `json:"request_id"`
}

type cmdCountsResponse struct {
	Counts string `json:"counts"`
}

type statusResponse struct {
	Version           string                      `json:"version"`
	Enabled           bool                        `json:"enabled"`
	ThermalLevel      int                         `json:"thermal_level"`
	Modes             []string                    `json:"modes"`
	PowerLimitBoost   bool                        `json:"power_limit_boost"`
	ThermalLimitBoost bool                        `json:"thermal_limit_boost"`
	Clamps            map[string]map[string]int64 `json:"clamps"`
	Toggles           []int                       `json:"toggles"`
	Store             bool                        `json:"store"`
	Metrics           bool                        `json:"metrics"`
}

type resourceResponse struct {
	ID                int              `json:"id"`
	Name              string           `json:"name"`
	Partition         int              `json:"partition"`
	Default           int64            `json:"default"`
	Final             int64            `json:"final"`
	Current           int64            `json:"current"`
	CurrentExpiry     string           `json:"current_expiry,omitempty"`
	Candidates        map[string]int64 `json:"candidates,omitempty"`
	Active            map[string]int   `json:"active,omitempty"`
	PowerLimitBoost   bool             `json:"power_limit_boost"`
	ThermalLimitBoost bool             `json:"thermal_limit_boost"`
}

type resourcesResponse struct {
	Resources []resourceResponse `json:"resources"`
}

type eventResponse struct {
	ID        int64           `json:"id"`
	Timestamp string          `json:"ts"`
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	CmdID     *int            `json:"cmd_id,omitempty"`
	Client    string          `json:"client,omitempty"`
	Message   string          `json:"msg,omitempty"`
	Payload   json.RawMessage `json:"json,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

type reportResponse struct {
	ID         int64  `json:"id"`
	Timestamp  string `json:"ts"`
	Batch      int64  `json:"batch"`
	ResourceID int    `json:"resource_id"`
	Value      int64  `json:"value"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type reportsResponse struct {
	Reports []reportResponse `json:"reports"`
}

func newAPIClient(socketPath string, timeout time.Duration) *apiClient {
	path := socketPath
	if path == "" {
		path = defaultSocketPath
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &apiClient{
		socketPath: path,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
	}
}

// doJSON sends payload (when non-nil) and returns the raw response body.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		if err := enc.Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s via %s: %w", method, path, c.socketPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *apiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func parseAPIError(status int, data []byte) error {
	if len(data) > 0 {
		apiErr := &apiError{Status: status}
		if err := json.Unmarshal(data, apiErr); err == nil && apiErr.Message != "" {
			return apiErr
		}
	}
	return fmt.Errorf("request failed with status %d", status)
}

func errorCode(err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func prettyPrintJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
