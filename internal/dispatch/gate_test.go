package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/models"
	boosttest "github.com/boostd/boostd/internal/testing"
)

// orderEngine logs engine calls in arrival order.
type orderEngine struct {
	mu    sync.Mutex
	calls []string
}

func (e *orderEngine) Submit(reqs []engine.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range reqs {
		if r.Category == models.CategoryPerf && r.OnOff != models.OnOffOff {
			e.calls = append(e.calls, "perf")
			return
		}
	}
	e.calls = append(e.calls, "other")
}

func (e *orderEngine) SetLimitBoost(models.Category, bool) {}

func (e *orderEngine) ClearCategory(c models.Category) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "clear_"+c.String())
}

// perfAfterClear reports whether a perf submit arrived after the perf clear.
func (e *orderEngine) perfAfterClear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cleared := false
	for _, c := range e.calls {
		switch c {
		case "clear_" + models.CategoryPerf.String():
			cleared = true
		case "perf":
			if cleared {
				return true
			}
		}
	}
	return false
}

func TestDisableRacingRequestsLeavesNoPerfWork(t *testing.T) {
	model := boosttest.Model(t)
	trials := 2000
	if testing.Short() {
		trials = 200
	}
	submit := map[string]func(context.Context, *Dispatcher) error{
		"toggle": func(ctx context.Context, d *Dispatcher) error {
			return d.SubmitPerfRequestToggle(ctx, boosttest.CmdScrollHold, true, "")
		},
		"one-shot": func(ctx context.Context, d *Dispatcher) error {
			return d.SubmitPerfRequest(ctx, boosttest.CmdTouchBoost, "")
		},
	}
	for name, fn := range submit {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < trials; i++ {
				eng := &orderEngine{}
				d := New(model, eng, WithLogger(logr.Discard()))

				var wg sync.WaitGroup
				var reqErr error
				wg.Add(2)
				go func() {
					defer wg.Done()
					reqErr = fn(ctx, d)
				}()
				go func() {
					defer wg.Done()
					_ = d.SetEnabled(ctx, false, "")
				}()
				wg.Wait()

				if reqErr != nil {
					require.ErrorIs(t, reqErr, ErrDisabled)
				}
				if eng.perfAfterClear() {
					t.Fatalf("trial %d: perf work submitted after the disable clear: %v", i, eng.calls)
				}
				if held := d.Status().Toggles; len(held) != 0 {
					t.Fatalf("trial %d: toggles held while disabled: %v", i, held)
				}
			}
		})
	}
}
