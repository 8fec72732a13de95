package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/models"
	boosttest "github.com/boostd/boostd/internal/testing"
)

// startEngine runs an engine over the fixture model. The returned stop
// function cancels it and returns Run's error; it is also called on cleanup.
func startEngine(t *testing.T, writer *boosttest.RecordingWriter, opts ...Option) (*Engine, func() error) {
	t.Helper()
	opts = append([]Option{WithClock(testclock.NewFakeClock(boosttest.FixedTime)), WithLogger(logr.Discard())}, opts...)
	e := New(boosttest.Model(t), writer, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx)
	}()
	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errCh:
			case <-time.After(5 * time.Second):
				runErr = errors.New("engine did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return e, stop
}

func TestEngineSubmitFlushSnapshot(t *testing.T) {
	writer := boosttest.NewRecordingWriter()
	e, _ := startEngine(t, writer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Submit([]Request{
		{ResourceID: boosttest.CPUMinFreq, Value: 800, Category: models.CategoryPerf, OnOff: models.OnOffOn, CmdID: boosttest.CmdScrollHold},
		{ResourceID: boosttest.GPUGovernor, Value: 2, Category: models.CategoryPerf, OnOff: models.OnOffOn, CmdID: boosttest.CmdScrollHold},
	})
	require.NoError(t, e.Flush(ctx))

	last, ok := writer.Last(boosttest.CPUMinPath)
	require.True(t, ok)
	require.Equal(t, "800", last)

	snaps, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 6)
	for i := 1; i < len(snaps); i++ {
		require.Less(t, snaps[i-1].ID, snaps[i].ID)
	}

	inv := models.InvalidValue
	want := ResourceSnapshot{
		ID:            boosttest.CPUMinFreq,
		Name:          "cpu_min_freq",
		Partition:     1,
		Default:       500,
		Final:         800,
		Current:       800,
		CurrentExpiry: models.Forever,
		Candidates:    [models.NumCategories]int64{800, inv, inv, inv},
		Active:        [models.NumCategories]int{1, 0, 0, 0},
	}
	if diff := cmp.Diff(want, snaps[0]); diff != "" {
		t.Fatalf("cpu_min_freq snapshot mismatch (-want +got):\n%s", diff)
	}

	gov := snaps[3]
	if diff := cmp.Diff(ResourceSnapshot{ID: boosttest.GPUGovernor, Current: 2}, gov,
		cmpopts.IgnoreFields(ResourceSnapshot{}, "Name", "Partition", "Default", "Final", "CurrentExpiry", "Candidates", "Active")); diff != "" {
		t.Fatalf("gpu_governor snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineBroadcastReachesEveryPartition(t *testing.T) {
	e, _ := startEngine(t, boosttest.NewRecordingWriter())
	ctx := context.Background()

	e.SetLimitBoost(models.CategoryThermal, true)
	require.NoError(t, e.Flush(ctx))

	snaps, err := e.Snapshot(ctx)
	require.NoError(t, err)
	for _, s := range snaps {
		if !s.ThermalLimitBoost || s.PowerLimitBoost {
			t.Fatalf("resource %d: thermal=%v power=%v", s.ID, s.ThermalLimitBoost, s.PowerLimitBoost)
		}
	}
}

func TestEngineStopsOnCancel(t *testing.T) {
	e, stop := startEngine(t, boosttest.NewRecordingWriter())
	require.NoError(t, e.Flush(context.Background()))
	require.NoError(t, stop())

	_, err := e.Snapshot(context.Background())
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Snapshot after stop = %v, want ErrStopped", err)
	}
	require.ErrorIs(t, e.Flush(context.Background()), ErrStopped)

	// submitting after stop must not block
	e.Submit([]Request{{ResourceID: boosttest.CPUMinFreq, Value: 800, Category: models.CategoryPerf, OnOff: models.OnOffOn}})
}

func TestEngineMetrics(t *testing.T) {
	m := metrics.New()
	writer := boosttest.NewRecordingWriter()
	writer.FailPath(boosttest.CPUBoostPath)
	e, _ := startEngine(t, writer, WithMetrics(m))

	e.Submit([]Request{{ResourceID: boosttest.CPUMinFreq, Value: 800, Category: models.CategoryPerf, OnOff: models.OnOffOn, CmdID: 1}})
	require.NoError(t, e.Flush(context.Background()))

	// five default writes at start, one of them failing, then one request
	expected := `
# HELP boostd_engine_node_writes_total Total hardware node writes by result.
# TYPE boostd_engine_node_writes_total counter
boostd_engine_node_writes_total{result="error"} 1
boostd_engine_node_writes_total{result="ok"} 5
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "boostd_engine_node_writes_total"))
}

// gatedReporter blocks every Report until release is closed.
type gatedReporter struct {
	boosttest.RecordingReporter
	started chan struct{}
	release chan struct{}
}

func (r *gatedReporter) Report(ctx context.Context, entries []models.ReportEntry) error {
	r.started <- struct{}{}
	<-r.release
	return r.RecordingReporter.Report(ctx, entries)
}

func TestSlowReporterDoesNotStallPartitions(t *testing.T) {
	rep := &gatedReporter{started: make(chan struct{}, 4), release: make(chan struct{})}
	e, _ := startEngine(t, boosttest.NewRecordingWriter(), WithReporter(rep))
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(rep.release) }) }
	t.Cleanup(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hint := func(id int, v int64) Request {
		return Request{ResourceID: id, Value: v, Category: models.CategoryPerf, OnOff: models.OnOffOn, CmdID: 1}
	}
	e.Submit([]Request{hint(boosttest.SchedHint, 3)})
	select {
	case <-rep.started:
	case <-ctx.Done():
		t.Fatalf("reporter never called")
	}

	// the partition keeps arbitrating while the first report is in flight
	e.Submit([]Request{hint(boosttest.FrameHint, 60)})
	snaps, err := e.Snapshot(ctx)
	require.NoError(t, err)
	for _, s := range snaps {
		if s.ID == boosttest.FrameHint && s.Current != 60 {
			t.Fatalf("frame_hint current = %d, want 60", s.Current)
		}
	}

	release()
	require.NoError(t, e.Flush(ctx))
	want := [][]models.ReportEntry{
		{{ResourceID: boosttest.SchedHint, Value: 3, Expiry: models.Forever}},
		{{ResourceID: boosttest.FrameHint, Value: 60, Expiry: models.Forever}},
	}
	if diff := cmp.Diff(want, rep.Batches()); diff != "" {
		t.Fatalf("report batches mismatch (-want +got):\n%s", diff)
	}
}
