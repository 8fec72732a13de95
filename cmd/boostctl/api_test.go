package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestNewAPIClientDefaults(t *testing.T) {
	client := newAPIClient("", 0)
	if client.socketPath != defaultSocketPath {
		t.Fatalf("socketPath = %q, want %q", client.socketPath, defaultSocketPath)
	}
	if client.httpClient == nil {
		t.Fatalf("expected httpClient to be set")
	}
}

func TestAPIClientWithTimeout(t *testing.T) {
	ctx := context.Background()
	var nilClient *apiClient
	ctxNoTimeout, cancel := nilClient.withTimeout(ctx)
	defer cancel()
	if ctxNoTimeout != ctx {
		t.Fatalf("expected context to be unchanged")
	}

	client := &apiClient{timeout: 25 * time.Millisecond}
	ctxWithTimeout, cancelWithTimeout := client.withTimeout(ctx)
	defer cancelWithTimeout()
	if _, ok := ctxWithTimeout.Deadline(); !ok {
		t.Fatalf("expected deadline for timeout context")
	}
}

func TestAPIClientDoJSON(t *testing.T) {
	var gotMethod, gotPath, gotContentType string
	var gotBody map[string]any
	client := &apiClient{
		socketPath: "test.sock",
		httpClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			gotMethod = req.Method
			gotPath = req.URL.Path
			gotContentType = req.Header.Get("Content-Type")
			if err := json.NewDecoder(req.Body).Decode(&gotBody); err != nil {
				t.Fatalf("decode request body: %v", err)
			}
			return newTestResponse(http.StatusAccepted, `{"request_id":"abc"}`), nil
		})},
	}

	data, err := client.doJSON(context.Background(), http.MethodPost, "/v1/perf", perfRequest{Cmd: 100})
	if err != nil {
		t.Fatalf("doJSON() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/perf" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotBody["cmd"] != float64(100) {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["msg"]; ok {
		t.Fatalf("empty msg should be omitted: %v", gotBody)
	}
	if strings.TrimSpace(string(data)) != `{"request_id":"abc"}` {
		t.Fatalf("data = %s", data)
	}
}

func TestAPIClientDoJSONError(t *testing.T) {
	client := &apiClient{
		httpClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return newTestResponse(http.StatusBadRequest, `{"error":"unknown command","code":"v1/request/unknown_command","details":"unknown command: 999"}`), nil
		})},
	}
	_, err := client.doJSON(context.Background(), http.MethodPost, "/v1/perf", perfRequest{Cmd: 999})
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", apiErr.Status)
	}
	if err.Error() != "unknown command: 999" {
		t.Fatalf("error = %q", err.Error())
	}
	if errorCode(err) != "v1/request/unknown_command" {
		t.Fatalf("code = %q", errorCode(err))
	}
}

func TestParseAPIErrorFallback(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("<html>"))
	if err == nil || err.Error() != "request failed with status 502" {
		t.Fatalf("parseAPIError() = %v", err)
	}
	if errorCode(err) != "" {
		t.Fatalf("expected no code")
	}
}

func TestPrettyPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := prettyPrintJSON(&buf, []byte(`{"a":1}`+"\n")); err != nil {
		t.Fatalf("prettyPrintJSON() error = %v", err)
	}
	if buf.String() != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("output = %q", buf.String())
	}

	buf.Reset()
	if err := prettyPrintJSON(&buf, []byte("not json")); err != nil {
		t.Fatalf("prettyPrintJSON() error = %v", err)
	}
	if buf.String() != "not json" {
		t.Fatalf("raw output = %q", buf.String())
	}
}
