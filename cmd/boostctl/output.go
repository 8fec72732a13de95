// ABOUTME: Table rendering for boostctl read commands.
// ABOUTME: Used when stdout is a terminal and --json is not set.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

func decode(data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printCounts(w io.Writer, resp cmdCountsResponse) error {
	if resp.Counts == "" {
		_, err := fmt.Fprintln(w, "No commands accepted yet.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CMD\tCOUNT")
	for _, pair := range strings.Split(resp.Counts, ",") {
		cmd, count, _ := strings.Cut(pair, ":")
		fmt.Fprintf(tw, "%s\t%s\n", cmd, count)
	}
	return tw.Flush()
}

func printStatus(w io.Writer, resp statusResponse) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Version:\t%s\n", resp.Version)
	fmt.Fprintf(tw, "Enabled:\t%t\n", resp.Enabled)
	fmt.Fprintf(tw, "Thermal level:\t%d\n", resp.ThermalLevel)
	fmt.Fprintf(tw, "Modes:\t%s\n", listOrDash(resp.Modes))
	fmt.Fprintf(tw, "Power limit boost:\t%t\n", resp.PowerLimitBoost)
	fmt.Fprintf(tw, "Thermal limit boost:\t%t\n", resp.ThermalLimitBoost)
	toggles := make([]string, 0, len(resp.Toggles))
	for _, id := range resp.Toggles {
		toggles = append(toggles, strconv.Itoa(id))
	}
	fmt.Fprintf(tw, "Held toggles:\t%s\n", listOrDash(toggles))
	clients := make([]string, 0, len(resp.Clamps))
	for client := range resp.Clamps {
		clients = append(clients, client)
	}
	sort.Strings(clients)
	if len(clients) == 0 {
		fmt.Fprintf(tw, "Clamps:\t-\n")
	}
	for _, client := range clients {
		fmt.Fprintf(tw, "Clamps (%s):\t%s\n", client, formatValues(resp.Clamps[client]))
	}
	fmt.Fprintf(tw, "Journal store:\t%t\n", resp.Store)
	fmt.Fprintf(tw, "Metrics:\t%t\n", resp.Metrics)
	return tw.Flush()
}

func printResources(w io.Writer, resources []resourceResponse) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tPARTITION\tCURRENT\tDEFAULT\tEXPIRES\tACTIVE")
	for _, r := range resources {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Partition, r.Current, r.Default,
			orDash(r.CurrentExpiry), formatCounts(r.Active))
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []eventResponse) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTIME\tKIND\tCMD\tCLIENT\tMSG")
	for _, ev := range events {
		cmd := "-"
		if ev.CmdID != nil {
			cmd = strconv.Itoa(*ev.CmdID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.Timestamp, ev.Kind, cmd, orDash(ev.Client), orDash(ev.Message))
	}
	return tw.Flush()
}

func printReports(w io.Writer, reports []reportResponse) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No reports recorded.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTIME\tBATCH\tRESOURCE\tVALUE\tEXPIRES")
	for _, r := range reports {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Timestamp, r.Batch, r.ResourceID, r.Value, orDash(r.ExpiresAt))
	}
	return tw.Flush()
}

func formatValues(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return listOrDash(parts)
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
	}
	return listOrDash(parts)
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
