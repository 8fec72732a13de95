package daemon

import "encoding/json"

type V1ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type V1AcceptedResponse struct {
	RequestID string `json:"request_id"`
}

type V1PerfRequest struct {
	Cmd int    `json:"cmd"`
	Msg string `json:"msg,omitempty"`
}

type V1ToggleRequest struct {
	Cmd int    `json:"cmd"`
	On  *bool  `json:"on"`
	Msg string `json:"msg,omitempty"`
}

type V1LimitBoostRequest struct {
	On  *bool  `json:"on"`
	Msg string `json:"msg,omitempty"`
}

type V1LimitRequest struct {
	Client    string   `json:"client"`
	Resources []string `json:"resources"`
	Values    []int64  `json:"values"`
	Msg       string   `json:"msg,omitempty"`
}

type V1EnabledRequest struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

type V1ThermalLevelRequest struct {
	Level *int `json:"level"`
}

type V1DeviceModeRequest struct {
	Mode   string `json:"mode"`
	Active *bool  `json:"active"`
}

type V1CmdCountsResponse struct {
	Counts string `json:"counts"`
}

type V1StatusResponse struct {
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

type V1Resource struct {
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

type V1ResourcesResponse struct {
	Resources []V1Resource `json:"resources"`
}

type V1Event struct {
	ID        int64           `json:"id"`
	Timestamp string          `json:"ts"`
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	CmdID     *int            `json:"cmd_id,omitempty"`
	Client    string          `json:"client,omitempty"`
	Message   string          `json:"msg,omitempty"`
	Payload   json.RawMessage `json:"json,omitempty"`
}

type V1EventsResponse struct {
	Events []V1Event `json:"events"`
}

type V1Report struct {
	ID         int64  `json:"id"`
	Timestamp  string `json:"ts"`
	Batch      int64  `json:"batch"`
	ResourceID int    `json:"resource_id"`
	Value      int64  `json:"value"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type V1ReportsResponse struct {
	Reports []V1Report `json:"reports"`
}
