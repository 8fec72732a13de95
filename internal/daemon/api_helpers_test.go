package daemon

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boostd/boostd/internal/db"
	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/models"
	boosttest "github.com/boostd/boostd/internal/testing"
)

type decodePayload struct {
	Name string `json:"name"`
}

func TestDecodeJSONBodySuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	var payload decodePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if payload.Name != "ok" {
		t.Fatalf("payload.Name = %q, want %q", payload.Name, "ok")
	}
}

func TestDecodeJSONBodyEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var payload decodePayload
	err := decodeJSON(w, r, &payload)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("decodeJSON() error = %v, want EOF", err)
	}
}

func TestDecodeJSONBodyNil(t *testing.T) {
	w := httptest.NewRecorder()
	r := &http.Request{Body: nil}
	var payload decodePayload
	err := decodeJSON(w, r, &payload)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "request body is required" {
		t.Fatalf("error = %q, want %q", err.Error(), "request body is required")
	}
}

func TestDecodeJSONTrailingData(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"} trailing`))
	var payload decodePayload
	err := decodeJSON(w, r, &payload)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "unexpected trailing data" {
		t.Fatalf("error = %q, want %q", err.Error(), "unexpected trailing data")
	}
}

func TestDecodeJSONUnknownField(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok","extra":1}`))
	var payload decodePayload
	if err := decodeJSON(w, r, &payload); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	body := `{"name":"` + strings.Repeat("x", maxJSONBytes) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var payload decodePayload
	err := decodeJSON(w, r, &payload)
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("decodeJSON() error = %v, want MaxBytesError", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "  ", want: 0},
		{in: "25", want: 25},
		{in: "-3", want: -3},
		{in: "ten", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseQueryInt(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseQueryInt(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseQueryInt(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestResourceToV1(t *testing.T) {
	snap := engine.ResourceSnapshot{
		ID:            boosttest.CPUMinFreq,
		Name:          "cpu_min_freq",
		Default:       500,
		Final:         1200,
		Current:       1200,
		CurrentExpiry: boosttest.FixedTime.Add(3 * time.Second),
	}
	for i := range snap.Candidates {
		snap.Candidates[i] = models.InvalidValue
	}
	snap.Candidates[models.CategoryPerf] = 1200
	snap.Active[models.CategoryPerf] = 2

	got := resourceToV1(snap)
	if got.CurrentExpiry != "2024-01-01T12:00:03Z" {
		t.Fatalf("current_expiry = %q", got.CurrentExpiry)
	}
	if len(got.Candidates) != 1 || got.Candidates[models.CategoryPerf.String()] != 1200 {
		t.Fatalf("candidates = %v", got.Candidates)
	}
	if got.Active[models.CategoryPerf.String()] != 2 {
		t.Fatalf("active = %v", got.Active)
	}

	snap.CurrentExpiry = models.Forever
	if got := resourceToV1(snap); got.CurrentExpiry != "" {
		t.Fatalf("forever expiry rendered as %q", got.CurrentExpiry)
	}
}

func TestEventToV1WrapsNonJSONPayload(t *testing.T) {
	cmd := 100
	got := eventToV1(db.Event{ID: 7, Kind: "perf", CmdID: &cmd, JSON: "not json", Message: " hi "})
	if string(got.Payload) != `"not json"` {
		t.Fatalf("payload = %s", got.Payload)
	}
	if got.Message != "hi" {
		t.Fatalf("message = %q", got.Message)
	}
	if got.CmdID == nil || *got.CmdID != 100 {
		t.Fatalf("cmd id = %v", got.CmdID)
	}
}
