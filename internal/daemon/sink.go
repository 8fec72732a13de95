package daemon

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/boostd/boostd/internal/models"
)

// LogReporter is the report sink used when report_sink is "log".
type LogReporter struct {
	Logger logr.Logger
}

func (r LogReporter) Report(_ context.Context, entries []models.ReportEntry) error {
	for _, e := range entries {
		kv := []any{"resource", e.ResourceID, "value", e.Value}
		if !e.Expiry.Equal(models.Forever) {
			kv = append(kv, "expires", e.Expiry)
		}
		r.Logger.Info("report", kv...)
	}
	return nil
}
