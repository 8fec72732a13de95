// Package models provides the data structures shared by boostd components.
//
// This package contains the core domain models:
//   - ResourceDescriptor: one controllable hardware tunable
//   - ActionBundle: a numbered multi-resource command template
//   - ResAction: one concrete, time-stamped request against one resource
//
// Descriptors and bundles are built once at load time and never mutated.
package models

import (
	"math"
	"time"
)

// Category is an independent lane of requests with its own direction of
// preference.
type Category int

const (
	// CategoryPerf requests want the highest value.
	CategoryPerf Category = iota
	// CategoryPower requests cap the value for power reasons.
	CategoryPower
	// CategoryThermal requests cap the value for thermal reasons.
	CategoryThermal
	// CategoryPerfLevel requests force a level and outrank every other lane.
	CategoryPerfLevel

	NumCategories = 4
)

// Categories lists every category in arbitration order.
var Categories = [NumCategories]Category{CategoryPerf, CategoryPower, CategoryThermal, CategoryPerfLevel}

func (c Category) String() string {
	switch c {
	case CategoryPerf:
		return "perf"
	case CategoryPower:
		return "power"
	case CategoryThermal:
		return "thermal"
	case CategoryPerfLevel:
		return "perf_level"
	default:
		return "unknown"
	}
}

// PrefersHigh reports whether the category picks the maximum active value.
// Limiting categories pick the minimum.
func (c Category) PrefersHigh() bool {
	return c == CategoryPerf || c == CategoryPerfLevel
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	return c >= CategoryPerf && c <= CategoryPerfLevel
}

// ParseCategory maps a category name as written in definition files.
func ParseCategory(name string) (Category, bool) {
	switch name {
	case "perf":
		return CategoryPerf, true
	case "power":
		return CategoryPower, true
	case "thermal":
		return CategoryThermal, true
	case "perf_level", "perflevel":
		return CategoryPerfLevel, true
	default:
		return 0, false
	}
}

// OnOff is the toggle state carried by a ResAction.
type OnOff int

const (
	// OnOffInvalid marks a fire-and-auto-expire request.
	OnOffInvalid OnOff = iota
	// OnOffOn starts an explicit long-running toggle.
	OnOffOn
	// OnOffOff releases a matching On.
	OnOffOff
)

func (o OnOff) String() string {
	switch o {
	case OnOffOn:
		return "on"
	case OnOffOff:
		return "off"
	default:
		return "invalid"
	}
}

// InvalidValue is the candidate sentinel for a category with no active request.
const InvalidValue int64 = math.MinInt64

// Forever is the expiry of requests that never time out.
var Forever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// PersistMode selects how an applied value leaves the daemon.
type PersistMode int

const (
	// PersistWriteToNode writes the value to the resource's node paths.
	PersistWriteToNode PersistMode = iota
	// PersistReportExternally batches the value to the external report sink.
	PersistReportExternally
)

func (p PersistMode) String() string {
	if p == PersistReportExternally {
		return "report"
	}
	return "node"
}

// NodeSpec describes where a resource's value is written. It is either a
// PlainNode or a GovernorNode.
type NodeSpec interface {
	nodeSpec()
}

// PlainNode is a numeric node written as a decimal string.
type PlainNode struct {
	// Path is empty for ReportExternally resources.
	Path string
	// PairedID is the min/max partner, 0 when unpaired.
	PairedID int
}

// GovernorNode maps symbolic levels to one string per node path.
type GovernorNode struct {
	Paths  []string
	Levels map[int64][]string
}

func (PlainNode) nodeSpec()    {}
func (GovernorNode) nodeSpec() {}

// ResourceDescriptor identifies one tunable.
type ResourceDescriptor struct {
	ID                int
	Name              string
	Default           int64
	MaxValueSemantics bool
	Persist           PersistMode
	// Available is sorted; empty means unconstrained.
	Available []int64
	Node      NodeSpec
}

// IsGovernor reports whether the resource writes governor level strings.
func (d *ResourceDescriptor) IsGovernor() bool {
	_, ok := d.Node.(GovernorNode)
	return ok
}

// PairedID returns the min/max partner of a plain resource.
func (d *ResourceDescriptor) PairedID() (int, bool) {
	plain, ok := d.Node.(PlainNode)
	if !ok || plain.PairedID == 0 {
		return 0, false
	}
	return plain.PairedID, true
}

// Allows reports whether v is inside the legal value domain.
func (d *ResourceDescriptor) Allows(v int64) bool {
	if len(d.Available) == 0 {
		return true
	}
	lo, hi := 0, len(d.Available)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case d.Available[mid] == v:
			return true
		case d.Available[mid] < v:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// Setting is one (resource, value) pair of an ActionStep.
type Setting struct {
	ResourceID int
	Value      int64
}

// ActionStep is one step of an ActionBundle.
type ActionStep struct {
	// Duration of zero holds until explicitly turned off.
	Duration time.Duration
	// ThermalLevel tags the step inside a thermal-trigger bundle; -1 when untagged.
	ThermalLevel int
	// ThermalTriggerCmdID names a bundle whose level-tagged steps escalate
	// this step; 0 when absent.
	ThermalTriggerCmdID int
	Settings            []Setting
}

// ModeOverride substitutes CmdID while Mode is an active device mode.
type ModeOverride struct {
	Mode  string
	CmdID int
}

// ActionBundle is a named, numbered command.
type ActionBundle struct {
	ID            int
	Name          string
	Category      Category
	Steps         []ActionStep
	ModeOverrides []ModeOverride
}

// LongRunning reports whether any step holds until turned off.
func (b *ActionBundle) LongRunning() bool {
	for _, step := range b.Steps {
		if step.Duration == 0 {
			return true
		}
	}
	return false
}

// ResAction is one concrete request instance against one resource.
type ResAction struct {
	Value    int64
	Duration time.Duration
	Category Category
	OnOff    OnOff
	CmdID    int
	// Expiry is Forever when Duration is zero.
	Expiry time.Time
}

// TotallySame reports whether every identifying field matches.
func (a *ResAction) TotallySame(b *ResAction) bool {
	return a.PartlySame(b) && a.OnOff == b.OnOff
}

// PartlySame ignores OnOff, pairing an Off with its On.
func (a *ResAction) PartlySame(b *ResAction) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Value == b.Value &&
		a.Duration == b.Duration &&
		a.Category == b.Category &&
		a.CmdID == b.CmdID
}

// ReportEntry is one changed value pushed to the external report sink.
type ReportEntry struct {
	ResourceID int
	Value      int64
	Expiry     time.Time
}
