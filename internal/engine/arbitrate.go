package engine

import (
	"time"

	"github.com/boostd/boostd/internal/models"
)

// selectCandidate picks the winning value of one category. Perf-like
// categories take the maximum, limiting categories the minimum; ties go to
// the later expiry.
func selectCandidate(actions []*models.ResAction, prefersHigh bool) (int64, time.Time) {
	if len(actions) == 0 {
		return models.InvalidValue, models.Forever
	}
	value := actions[0].Value
	expiry := actions[0].Expiry
	for _, a := range actions[1:] {
		switch {
		case a.Value == value:
			if a.Expiry.After(expiry) {
				expiry = a.Expiry
			}
		case prefersHigh && a.Value > value, !prefersHigh && a.Value < value:
			value = a.Value
			expiry = a.Expiry
		}
	}
	return value, expiry
}

// limitBoost carries the two global flags that let a limiting category win
// over performance requests.
type limitBoost struct {
	power   bool
	thermal bool
}

func (b limitBoost) any() bool {
	return b.power || b.thermal
}

// finalCandidate reconciles the four category candidates of one resource.
func finalCandidate(cand [models.NumCategories]int64, exp [models.NumCategories]time.Time, def int64, boost limitBoost) (int64, time.Time) {
	perf := cand[models.CategoryPerf]
	power := cand[models.CategoryPower]
	thermal := cand[models.CategoryThermal]
	perfLevel := cand[models.CategoryPerfLevel]
	const invalid = models.InvalidValue

	if perf == invalid && power == invalid && thermal == invalid && perfLevel == invalid {
		return def, models.Forever
	}

	var value int64
	switch {
	case !boost.power && !boost.thermal:
		if perf != invalid {
			value = maxPresent(perf, power, thermal)
		} else {
			value = minPresent(power, thermal)
		}
	case boost.thermal && !boost.power:
		if thermal != invalid {
			value = thermal
		} else {
			value = maxPresent(perf, power)
		}
	case boost.power && !boost.thermal:
		if power != invalid {
			value = power
		} else {
			value = maxPresent(perf, thermal)
		}
	default:
		if power == invalid && thermal == invalid {
			value = perf
		} else {
			value = minPresent(power, thermal)
		}
	}
	if value == invalid {
		value = def
	}
	expiry := earliest(exp[models.CategoryPerf], exp[models.CategoryPower], exp[models.CategoryThermal])

	if perfLevel != invalid {
		value = perfLevel
		expiry = earliest(expiry, exp[models.CategoryPerfLevel])
	}
	return value, expiry
}

// resolvePair keeps min <= max for a paired resource. Inverted pairs
// collapse to the lower value while something is limiting and to the higher
// value otherwise.
func resolvePair(lo, hi int64, limited bool) (int64, int64) {
	if lo <= hi {
		return lo, hi
	}
	if limited {
		return hi, hi
	}
	return lo, lo
}

func maxPresent(values ...int64) int64 {
	out := models.InvalidValue
	for _, v := range values {
		if v != models.InvalidValue && (out == models.InvalidValue || v > out) {
			out = v
		}
	}
	return out
}

func minPresent(values ...int64) int64 {
	out := models.InvalidValue
	for _, v := range values {
		if v != models.InvalidValue && (out == models.InvalidValue || v < out) {
			out = v
		}
	}
	return out
}

func earliest(times ...time.Time) time.Time {
	out := models.Forever
	for _, t := range times {
		if t.Before(out) {
			out = t
		}
	}
	return out
}
