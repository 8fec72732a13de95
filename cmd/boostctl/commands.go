// ABOUTME: boostctl subcommands, one per control API operation.
// ABOUTME: Write commands print the accepted request id, read commands render tables or JSON.

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPerfCmd(a *app) *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "perf <cmd>",
		Short: "Fire a timed performance boost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCmdID(args[0])
			if err != nil {
				return err
			}
			return a.submit(cmd, "/v1/perf", perfRequest{Cmd: id, Msg: msg})
		},
	}
	cmd.Flags().StringVar(&msg, "msg", "", "free-form note recorded with the request")
	return cmd
}

func newToggleCmd(a *app) *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "toggle <cmd> on|off",
		Short: "Start or release a held performance boost",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCmdID(args[0])
			if err != nil {
				return err
			}
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return a.submit(cmd, "/v1/perf/toggle", toggleRequest{Cmd: id, On: on, Msg: msg})
		},
	}
	cmd.Flags().StringVar(&msg, "msg", "", "free-form note recorded with the request")
	return cmd
}

func newLimitBoostCmd(a *app) *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:       "limit-boost power|thermal on|off",
		Short:     "Let power or thermal limits win over performance requests",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"power", "thermal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(strings.TrimSpace(args[0]))
			if kind != "power" && kind != "thermal" {
				return newCLIError(fmt.Sprintf("unknown limit boost %q", args[0]), "", "use power or thermal")
			}
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return a.submit(cmd, "/v1/limit-boost/"+kind, limitBoostRequest{On: on, Msg: msg})
		},
	}
	cmd.Flags().StringVar(&msg, "msg", "", "free-form note recorded with the request")
	return cmd
}

func newLimitCmd(a *app) *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "limit <client> <resource>=<value>...",
		Short: "Replace the clamps held by a limit client",
		Long: `Replace the clamps held by a limit client (power or thermal). Resources
are names or numeric ids. A negative value releases the clamp on that resource.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := limitRequest{Client: args[0], Msg: msg}
			for _, arg := range args[1:] {
				res, value, err := parseAssignment(arg)
				if err != nil {
					return err
				}
				req.Resources = append(req.Resources, res)
				req.Values = append(req.Values, value)
			}
			return a.submit(cmd, "/v1/limits", req)
		},
	}
	cmd.Flags().StringVar(&msg, "msg", "", "free-form note recorded with the request")
	return cmd
}

func newEnableCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Accept performance requests again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.submit(cmd, "/v1/enabled", enabledRequest{Enabled: true, Reason: reason})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the change")
	return cmd
}

func newDisableCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Drop all performance requests and refuse new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.submit(cmd, "/v1/enabled", enabledRequest{Enabled: false, Reason: reason})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the change")
	return cmd
}

func newThermalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "thermal <level>",
		Short: "Set the device thermal level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || level < 0 {
				return newCLIError(fmt.Sprintf("invalid thermal level %q", args[0]), "", "levels are non-negative integers")
			}
			return a.submit(cmd, "/v1/thermal-level", thermalLevelRequest{Level: level})
		},
	}
}

func newModeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <name> on|off",
		Short: "Activate or deactivate a device mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return a.submit(cmd, "/v1/device-modes", deviceModeRequest{Mode: args[0], Active: on})
		},
	}
}

func newCountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show how often each command was accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.client().doJSON(cmd.Context(), http.MethodGet, "/v1/cmd-counts", nil)
			if err != nil {
				return err
			}
			if !a.table() {
				return prettyPrintJSON(a.stdout, data)
			}
			var resp cmdCountsResponse
			if err := decode(data, &resp); err != nil {
				return err
			}
			return printCounts(a.stdout, resp)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dispatcher policy state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.client().doJSON(cmd.Context(), http.MethodGet, "/v1/status", nil)
			if err != nil {
				return err
			}
			if !a.table() {
				return prettyPrintJSON(a.stdout, data)
			}
			var resp statusResponse
			if err := decode(data, &resp); err != nil {
				return err
			}
			return printStatus(a.stdout, resp)
		},
	}
}

func newResourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "resources",
		Aliases: []string{"res"},
		Short:   "Show arbitrated resource values",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.client().doJSON(cmd.Context(), http.MethodGet, "/v1/resources", nil)
			if err != nil {
				return err
			}
			if !a.table() {
				return prettyPrintJSON(a.stdout, data)
			}
			var resp resourcesResponse
			if err := decode(data, &resp); err != nil {
				return err
			}
			return printResources(a.stdout, resp.Resources)
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the request journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.client().doJSON(cmd.Context(), http.MethodGet, "/v1/events"+limitQuery(limit), nil)
			if err != nil {
				return err
			}
			if !a.table() {
				return prettyPrintJSON(a.stdout, data)
			}
			var resp eventsResponse
			if err := decode(data, &resp); err != nil {
				return err
			}
			return printEvents(a.stdout, resp.Events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of newest events to show (default 100)")
	return cmd
}

func newReportsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Show values handed to the report sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.client().doJSON(cmd.Context(), http.MethodGet, "/v1/reports"+limitQuery(limit), nil)
			if err != nil {
				return err
			}
			if !a.table() {
				return prettyPrintJSON(a.stdout, data)
			}
			var resp reportsResponse
			if err := decode(data, &resp); err != nil {
				return err
			}
			return printReports(a.stdout, resp.Reports)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of newest reports to show (default 100)")
	return cmd
}

// submit posts a write operation and prints the accepted request id.
func (a *app) submit(cmd *cobra.Command, path string, payload any) error {
	data, err := a.client().doJSON(cmd.Context(), http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if !a.table() {
		return prettyPrintJSON(a.stdout, data)
	}
	var resp acceptedResponse
	if err := decode(data, &resp); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "accepted (request %s)\n", resp.RequestID)
	return err
}

func parseCmdID(value string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, newCLIError(fmt.Sprintf("invalid command id %q", value), "", "command ids are integers from the boost definitions")
	}
	return id, nil
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, newCLIError(fmt.Sprintf("expected on or off, got %q", value), "")
}

func parseAssignment(arg string) (string, int64, error) {
	res, raw, ok := strings.Cut(arg, "=")
	res = strings.TrimSpace(res)
	if !ok || res == "" {
		return "", 0, newCLIError(fmt.Sprintf("invalid clamp %q", arg), "", "use <resource>=<value>, e.g. cpu_max_freq=1200000")
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", 0, newCLIError(fmt.Sprintf("invalid clamp value in %q", arg), "", "values are integers; negative releases the clamp")
	}
	return res, value, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
}
