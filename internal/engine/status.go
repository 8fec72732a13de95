package engine

import (
	"time"

	"github.com/boostd/boostd/internal/models"
)

// resourceStatus is the live state of one resource. It is owned by exactly
// one partition worker and never touched from another goroutine.
type resourceStatus struct {
	desc *models.ResourceDescriptor

	active          [models.NumCategories][]*models.ResAction
	candidate       [models.NumCategories]int64
	candidateExpiry [models.NumCategories]time.Time

	final       int64
	finalExpiry time.Time

	current       int64
	currentExpiry time.Time

	// previous is the last value handed to the report sink.
	previous       int64
	previousExpiry time.Time
}

func newResourceStatus(desc *models.ResourceDescriptor) *resourceStatus {
	st := &resourceStatus{
		desc:           desc,
		final:          desc.Default,
		finalExpiry:    models.Forever,
		current:        desc.Default,
		currentExpiry:  models.Forever,
		previous:       desc.Default,
		previousExpiry: models.Forever,
	}
	for _, c := range models.Categories {
		st.candidate[c] = models.InvalidValue
		st.candidateExpiry[c] = models.Forever
	}
	return st
}

func (s *resourceStatus) add(a *models.ResAction) {
	s.active[a.Category] = append(s.active[a.Category], a)
}

// removeExact drops the entry that is a itself. Removing an entry that is
// already gone is a no-op.
func (s *resourceStatus) removeExact(a *models.ResAction) bool {
	return s.removeFirst(a.Category, func(x *models.ResAction) bool { return x == a })
}

func (s *resourceStatus) removeTotallySame(a *models.ResAction) bool {
	return s.removeFirst(a.Category, a.TotallySame)
}

// removeMatchingOn releases the first On entry paired with off.
func (s *resourceStatus) removeMatchingOn(off *models.ResAction) bool {
	return s.removeFirst(off.Category, func(x *models.ResAction) bool {
		return x.OnOff == models.OnOffOn && x.PartlySame(off)
	})
}

func (s *resourceStatus) removeFirst(c models.Category, match func(*models.ResAction) bool) bool {
	list := s.active[c]
	for i, x := range list {
		if !match(x) {
			continue
		}
		copy(list[i:], list[i+1:])
		list[len(list)-1] = nil
		s.active[c] = list[:len(list)-1]
		return true
	}
	return false
}

func (s *resourceStatus) clear(c models.Category) int {
	n := len(s.active[c])
	s.active[c] = nil
	return n
}

// recompute refreshes the candidate of c and reports whether it changed.
func (s *resourceStatus) recompute(c models.Category) bool {
	value, expiry := selectCandidate(s.active[c], c.PrefersHigh())
	changed := value != s.candidate[c] || !expiry.Equal(s.candidateExpiry[c])
	s.candidate[c] = value
	s.candidateExpiry[c] = expiry
	return changed
}

func (s *resourceStatus) has(c models.Category) bool {
	return s.candidate[c] != models.InvalidValue
}

func (s *resourceStatus) activeCount(c models.Category) int {
	return len(s.active[c])
}
