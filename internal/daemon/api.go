package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/boostd/boostd/internal/buildinfo"
	"github.com/boostd/boostd/internal/db"
	"github.com/boostd/boostd/internal/dispatch"
	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/models"
)

const (
	maxJSONBytes       = 64 << 10 // Maximum size for JSON request bodies (64KiB)
	defaultEventsLimit = 100      // Default events returned per query
	maxEventsLimit     = 1000     // Maximum events allowed per query
	requestIDHeader    = "X-Request-ID"
)

// Snapshotter reads the arbitration state of every resource.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]engine.ResourceSnapshot, error)
}

// ControlAPI serves the local control socket.
type ControlAPI struct {
	dispatcher     *dispatch.Dispatcher
	engine         Snapshotter
	store          *db.Store
	logger         logr.Logger
	metricsEnabled bool
}

// NewControlAPI builds the control API. store may be nil, in which case the
// journal and report endpoints answer 503.
func NewControlAPI(d *dispatch.Dispatcher, eng Snapshotter, store *db.Store, logger logr.Logger) *ControlAPI {
	return &ControlAPI{
		dispatcher: d,
		engine:     eng,
		store:      store,
		logger:     logger.WithName("api"),
	}
}

// WithMetricsEnabled reports the metrics listener in status responses.
func (api *ControlAPI) WithMetricsEnabled(enabled bool) *ControlAPI {
	if api == nil {
		return api
	}
	api.metricsEnabled = enabled
	return api
}

// Handler returns the chi router with every control route mounted.
func (api *ControlAPI) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(api.requestID)
	r.Use(api.accessLog)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", healthHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/perf", api.handlePerf)
		r.Post("/perf/toggle", api.handleToggle)
		r.Post("/limit-boost/{kind}", api.handleLimitBoost)
		r.Post("/limits", api.handleLimits)
		r.Post("/enabled", api.handleEnabled)
		r.Post("/thermal-level", api.handleThermalLevel)
		r.Post("/device-modes", api.handleDeviceMode)
		r.Get("/cmd-counts", api.handleCmdCounts)
		r.Get("/status", api.handleStatus)
		r.Get("/resources", api.handleResources)
		r.Get("/events", api.handleEvents)
		r.Get("/reports", api.handleReports)
	})
	return r
}

// requestID tags every request with a uuid. A valid client-supplied id is
// kept so callers can correlate journal rows.
func (api *ControlAPI) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(dispatch.WithRequestID(r.Context(), id)))
	})
}

func (api *ControlAPI) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		api.logger.V(1).Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", dispatch.RequestID(r.Context()))
	})
}

func (api *ControlAPI) handlePerf(w http.ResponseWriter, r *http.Request) {
	var req V1PerfRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	api.respond(w, r, api.dispatcher.SubmitPerfRequest(r.Context(), req.Cmd, req.Msg))
}

func (api *ControlAPI) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req V1ToggleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.On == nil {
		writeError(w, r, http.StatusBadRequest, "on is required")
		return
	}
	api.respond(w, r, api.dispatcher.SubmitPerfRequestToggle(r.Context(), req.Cmd, *req.On, req.Msg))
}

func (api *ControlAPI) handleLimitBoost(w http.ResponseWriter, r *http.Request) {
	var req V1LimitBoostRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.On == nil {
		writeError(w, r, http.StatusBadRequest, "on is required")
		return
	}
	switch kind := chi.URLParam(r, "kind"); kind {
	case "power":
		api.respond(w, r, api.dispatcher.SubmitPowerLimitBoost(r.Context(), *req.On, req.Msg))
	case "thermal":
		api.respond(w, r, api.dispatcher.SubmitThermalLimitBoost(r.Context(), *req.On, req.Msg))
	default:
		writeError(w, r, http.StatusBadRequest, "limit boost kind must be power or thermal")
	}
}

func (api *ControlAPI) handleLimits(w http.ResponseWriter, r *http.Request) {
	var req V1LimitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Client) == "" {
		writeError(w, r, http.StatusBadRequest, "client is required")
		return
	}
	api.respond(w, r, api.dispatcher.SubmitLimitRequest(r.Context(), req.Client, req.Resources, req.Values, req.Msg))
}

func (api *ControlAPI) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req V1EnabledRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, "enabled is required")
		return
	}
	api.respond(w, r, api.dispatcher.SetEnabled(r.Context(), *req.Enabled, req.Reason))
}

func (api *ControlAPI) handleThermalLevel(w http.ResponseWriter, r *http.Request) {
	var req V1ThermalLevelRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Level == nil {
		writeError(w, r, http.StatusBadRequest, "level is required")
		return
	}
	api.respond(w, r, api.dispatcher.SetThermalLevel(r.Context(), *req.Level))
}

func (api *ControlAPI) handleDeviceMode(w http.ResponseWriter, r *http.Request) {
	var req V1DeviceModeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "active is required")
		return
	}
	api.respond(w, r, api.dispatcher.SetDeviceMode(r.Context(), req.Mode, *req.Active))
}

func (api *ControlAPI) handleCmdCounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, V1CmdCountsResponse{Counts: api.dispatcher.CmdIDCounts()})
}

func (api *ControlAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := api.dispatcher.Status()
	resp := V1StatusResponse{
		Version:           buildinfo.Short(),
		Enabled:           st.Enabled,
		ThermalLevel:      st.ThermalLevel,
		Modes:             st.Modes,
		PowerLimitBoost:   st.PowerLimitBoost,
		ThermalLimitBoost: st.ThermalLimitBoost,
		Clamps:            make(map[string]map[string]int64, len(st.Clamps)),
		Toggles:           st.Toggles,
		Store:             api.store != nil,
		Metrics:           api.metricsEnabled,
	}
	if resp.Toggles == nil {
		resp.Toggles = []int{}
	}
	for client, clamps := range st.Clamps {
		out := make(map[string]int64, len(clamps))
		for id, v := range clamps {
			out[strconv.Itoa(id)] = v
		}
		resp.Clamps[client] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleResources(w http.ResponseWriter, r *http.Request) {
	snaps, err := api.engine.Snapshot(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, r, status, "engine unavailable", err)
		return
	}
	resp := V1ResourcesResponse{Resources: make([]V1Resource, 0, len(snaps))}
	for _, s := range snaps {
		resp.Resources = append(resp.Resources, resourceToV1(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	if api.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	events, err := api.store.ListEventsTail(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	resp := V1EventsResponse{Events: make([]V1Event, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, eventToV1(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	if api.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "report store unavailable")
		return
	}
	rows, err := api.store.ListReportsTail(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list reports", err)
		return
	}
	resp := V1ReportsResponse{Reports: make([]V1Report, 0, len(rows))}
	for _, row := range rows {
		resp.Reports = append(resp.Reports, reportToV1(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// respond answers an operation: 202 with the request id, 400 for rejected
// requests, 500 otherwise.
func (api *ControlAPI) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, http.StatusAccepted, V1AcceptedResponse{RequestID: dispatch.RequestID(r.Context())})
		return
	}
	var reqErr *dispatch.RequestError
	if errors.As(err, &reqErr) {
		writeError(w, r, http.StatusBadRequest, reqErr.Kind.Error(), err)
		return
	}
	api.logger.Error(err, "request failed", "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, "request failed", err)
}

func resourceToV1(s engine.ResourceSnapshot) V1Resource {
	resp := V1Resource{
		ID:                s.ID,
		Name:              s.Name,
		Partition:         s.Partition,
		Default:           s.Default,
		Final:             s.Final,
		Current:           s.Current,
		PowerLimitBoost:   s.PowerLimitBoost,
		ThermalLimitBoost: s.ThermalLimitBoost,
	}
	if !s.CurrentExpiry.IsZero() && !s.CurrentExpiry.Equal(models.Forever) {
		resp.CurrentExpiry = s.CurrentExpiry.UTC().Format(time.RFC3339Nano)
	}
	for _, c := range models.Categories {
		if v := s.Candidates[c]; v != models.InvalidValue {
			if resp.Candidates == nil {
				resp.Candidates = make(map[string]int64)
			}
			resp.Candidates[c.String()] = v
		}
		if n := s.Active[c]; n > 0 {
			if resp.Active == nil {
				resp.Active = make(map[string]int)
			}
			resp.Active[c.String()] = n
		}
	}
	return resp
}

func eventToV1(ev db.Event) V1Event {
	resp := V1Event{
		ID:        ev.ID,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID: ev.RequestID,
		CmdID:     ev.CmdID,
		Client:    ev.Client,
		Message:   strings.TrimSpace(ev.Message),
	}
	if strings.TrimSpace(ev.JSON) != "" {
		payload := []byte(ev.JSON)
		if !json.Valid(payload) {
			payload, _ = json.Marshal(ev.JSON)
		}
		resp.Payload = json.RawMessage(payload)
	}
	return resp
}

func reportToV1(row db.ReportRow) V1Report {
	resp := V1Report{
		ID:         row.ID,
		Timestamp:  row.Timestamp.UTC().Format(time.RFC3339Nano),
		Batch:      row.Batch,
		ResourceID: row.ResourceID,
		Value:      row.Value,
	}
	if row.Expiry != nil {
		resp.ExpiresAt = row.Expiry.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := parseQueryInt(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	if limit == 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	return limit, true
}

// decodeRequest decodes the body into dest and answers the error itself.
func decodeRequest(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := decodeJSON(w, r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case err.Error() == "request body is required" || errors.Is(err, io.EOF):
		writeError(w, r, http.StatusBadRequest, "request body is required")
	case err.Error() == "unexpected trailing data":
		writeError(w, r, http.StatusBadRequest, "unexpected trailing data")
	default:
		writeError(w, r, http.StatusBadRequest, "invalid request body", err)
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err ...error) {
	var cause error
	if len(err) > 0 {
		cause = err[0]
	}
	payload := V1ErrorResponse{
		Error:     msg,
		Code:      daemonErrorCode(status, msg, cause),
		RequestID: dispatch.RequestID(r.Context()),
	}
	if cause != nil {
		payload.Details = cause.Error()
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func parseQueryInt(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
