package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/models"
	boosttest "github.com/boostd/boostd/internal/testing"
)

func runEngine(t *testing.T, writer *boosttest.RecordingWriter, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithClock(testclock.NewFakeClock(boosttest.FixedTime)),
		engine.WithLogger(logr.Discard()),
	}, opts...)
	eng := engine.New(boosttest.Model(t), writer, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("engine did not stop")
		}
	})
	return eng
}

func snapshotByID(t *testing.T, eng *engine.Engine) map[int]engine.ResourceSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Flush(ctx))
	snaps, err := eng.Snapshot(ctx)
	require.NoError(t, err)
	out := make(map[int]engine.ResourceSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.ID] = s
	}
	return out
}

// Disabling while perf requests hold several resources drops every Perf
// entry and lets limits or defaults win again.
func TestDisableClearsPerfAcrossResources(t *testing.T) {
	ctx := context.Background()
	writer := boosttest.NewRecordingWriter()
	eng := runEngine(t, writer)
	d := New(boosttest.Model(t), eng)

	require.NoError(t, d.SubmitPerfRequestToggle(ctx, boosttest.CmdScrollHold, true, ""))
	require.NoError(t, d.SubmitPerfRequest(ctx, boosttest.CmdTouchBoost, ""))
	require.NoError(t, d.SubmitLimitRequest(ctx, "power", []string{"cpu_max_freq"}, []int64{1000000}, ""))

	before := snapshotByID(t, eng)
	require.Equal(t, int64(800), before[boosttest.CPUMinFreq].Current)
	require.Equal(t, int64(1), before[boosttest.CPUBoost].Current)
	require.Equal(t, int64(1000000), before[boosttest.CPUMaxFreq].Current)

	require.NoError(t, d.SetEnabled(ctx, false, "battery saver"))
	after := snapshotByID(t, eng)

	for id, s := range after {
		if s.Active[models.CategoryPerf] != 0 {
			t.Fatalf("resource %d still has %d perf requests", id, s.Active[models.CategoryPerf])
		}
		if s.Candidates[models.CategoryPerf] != models.InvalidValue {
			t.Fatalf("resource %d perf candidate = %d", id, s.Candidates[models.CategoryPerf])
		}
	}
	require.Equal(t, int64(500), after[boosttest.CPUMinFreq].Current)
	require.Equal(t, int64(0), after[boosttest.CPUBoost].Current)
	require.Equal(t, int64(1000000), after[boosttest.CPUMaxFreq].Current, "power clamp survives")

	last, ok := writer.Last(boosttest.CPUBoostPath)
	require.True(t, ok)
	require.Equal(t, "0", last)

	// releasing the forgotten toggle afterwards is harmless
	require.NoError(t, d.SubmitPerfRequestToggle(ctx, boosttest.CmdScrollHold, false, ""))
	require.Equal(t, int64(500), snapshotByID(t, eng)[boosttest.CPUMinFreq].Current)
}

func TestLimitReplacementThroughEngine(t *testing.T) {
	ctx := context.Background()
	eng := runEngine(t, boosttest.NewRecordingWriter())
	d := New(boosttest.Model(t), eng)

	require.NoError(t, d.SubmitLimitRequest(ctx, "power", []string{"1001"}, []int64{999000}, ""))
	require.NoError(t, d.SubmitLimitRequest(ctx, "power", []string{"1001"}, []int64{1325000}, ""))

	s := snapshotByID(t, eng)[boosttest.CPUMaxFreq]
	require.Equal(t, int64(1325000), s.Current)
	require.Equal(t, 1, s.Active[models.CategoryPower], "replaced clamp is released")
}

func TestPerfRequestReportsHintsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	writer := boosttest.NewRecordingWriter()
	reporter := &boosttest.RecordingReporter{}
	eng := runEngine(t, writer, engine.WithReporter(reporter))
	d := New(boosttest.Model(t), eng)
	snapshotByID(t, eng)
	writer.Reset()

	require.NoError(t, d.SubmitPerfRequest(ctx, boosttest.CmdAppLaunch, "launch"))
	s := snapshotByID(t, eng)
	require.Equal(t, int64(3), s[boosttest.SchedHint].Current)

	batches := reporter.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, []models.ReportEntry{{
		ResourceID: boosttest.SchedHint,
		Value:      3,
		Expiry:     boosttest.FixedTime.Add(3 * time.Second),
	}}, batches[0])

	if got := writer.WritesTo(boosttest.CPUMinPath); len(got) != 1 || got[0] != "1200" {
		t.Fatalf("cpu_min writes = %v, want [1200]", got)
	}
	for _, w := range writer.Writes() {
		switch w.Path {
		case boosttest.CPUMinPath, boosttest.GPUGovPath, boosttest.GPUMinFreqPath:
		default:
			t.Fatalf("unexpected node write %s=%s", w.Path, w.Value)
		}
	}
}

func TestOneShotHoldBundleExpiresImmediately(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewFakeClock(boosttest.FixedTime)
	writer := boosttest.NewRecordingWriter()
	eng := runEngine(t, writer, engine.WithClock(clk))
	d := New(boosttest.Model(t), eng)

	require.NoError(t, d.SubmitPerfRequest(ctx, boosttest.CmdScrollHold, ""))
	s := snapshotByID(t, eng)[boosttest.CPUMinFreq]
	require.Equal(t, int64(800), s.Current)
	require.Equal(t, 1, s.Active[models.CategoryPerf])

	// the zero-duration expiry is due as soon as the clock is observed
	clk.Step(0)
	s = snapshotByID(t, eng)[boosttest.CPUMinFreq]
	require.Equal(t, int64(500), s.Current)
	require.Zero(t, s.Active[models.CategoryPerf])
	require.Equal(t, []string{"500", "800", "500"}, writer.WritesTo(boosttest.CPUMinPath))
}
