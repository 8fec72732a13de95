// Package perfconfig builds the immutable configuration model: resource
// descriptors, their value domains and pairing, and the numbered action
// bundles clients trigger.
package perfconfig

import (
	"sort"
	"strconv"
	"strings"

	"github.com/boostd/boostd/internal/models"
)

// Resource id layout. Node resources and ReportExternally resources live in
// separate ranges with separate strides so they never share a partition.
const (
	NodeIDMin      = 1000
	NodeIDMax      = 9999
	NodeIDStride   = 1000
	ReportIDMin    = 10000
	ReportIDMax    = 99999
	ReportIDStride = 10000

	reportPartitionBase = NodeIDMax/NodeIDStride + 1
)

// ResourceIDNumsPerType returns the partition stride for a resource id.
func ResourceIDNumsPerType(id int) int {
	if id >= ReportIDMin {
		return ReportIDStride
	}
	return NodeIDStride
}

// Partition returns the index of the engine partition that owns id.
func Partition(id int) int {
	stride := ResourceIDNumsPerType(id)
	if stride == ReportIDStride {
		return reportPartitionBase + id/stride
	}
	return id / stride
}

func validIDFor(id int, persist models.PersistMode) bool {
	if persist == models.PersistReportExternally {
		return id >= ReportIDMin && id <= ReportIDMax
	}
	return id >= NodeIDMin && id <= NodeIDMax
}

// Model is the validated, read-only configuration shared by the dispatcher
// and every engine partition.
type Model struct {
	resources  map[int]*models.ResourceDescriptor
	byName     map[string]int
	bundles    map[int]*models.ActionBundle
	ids        []int
	cmdIDs     []int
	partitions []int
}

// Resource returns the descriptor for id.
func (m *Model) Resource(id int) (*models.ResourceDescriptor, bool) {
	desc, ok := m.resources[id]
	return desc, ok
}

// ResourceByName returns the descriptor registered under name.
func (m *Model) ResourceByName(name string) (*models.ResourceDescriptor, bool) {
	id, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.resources[id], true
}

// ResolveResource accepts a resource name or a decimal resource id.
func (m *Model) ResolveResource(tag string) (*models.ResourceDescriptor, bool) {
	tag = strings.TrimSpace(tag)
	if desc, ok := m.ResourceByName(tag); ok {
		return desc, true
	}
	id, err := strconv.Atoi(tag)
	if err != nil {
		return nil, false
	}
	return m.Resource(id)
}

// IsValidResource reports whether id names a configured resource.
func (m *Model) IsValidResource(id int) bool {
	_, ok := m.resources[id]
	return ok
}

// IsGovResource reports whether id names a governor-style resource.
func (m *Model) IsGovResource(id int) bool {
	desc, ok := m.resources[id]
	return ok && desc.IsGovernor()
}

// Bundle returns the action bundle for cmdID.
func (m *Model) Bundle(cmdID int) (*models.ActionBundle, bool) {
	b, ok := m.bundles[cmdID]
	return b, ok
}

// ResourceIDs returns every configured resource id in ascending order.
func (m *Model) ResourceIDs() []int {
	return append([]int(nil), m.ids...)
}

// CmdIDs returns every bundle id in ascending order.
func (m *Model) CmdIDs() []int {
	return append([]int(nil), m.cmdIDs...)
}

// Partitions returns the distinct partitions that own at least one resource.
func (m *Model) Partitions() []int {
	return append([]int(nil), m.partitions...)
}

// ResourcesIn returns the ids owned by partition p in ascending order.
func (m *Model) ResourcesIn(p int) []int {
	var out []int
	for _, id := range m.ids {
		if Partition(id) == p {
			out = append(out, id)
		}
	}
	return out
}

// New validates descriptors and bundles and builds a Model. Bundle settings
// must already reference resources by id.
func New(resources []models.ResourceDescriptor, bundles []models.ActionBundle) (*Model, error) {
	m, err := newResourceModel(resources)
	if err != nil {
		return nil, err
	}
	if err := m.addBundles(bundles); err != nil {
		return nil, err
	}
	return m, nil
}

func newResourceModel(resources []models.ResourceDescriptor) (*Model, error) {
	m := &Model{
		resources: make(map[int]*models.ResourceDescriptor, len(resources)),
		byName:    make(map[string]int, len(resources)),
		bundles:   make(map[int]*models.ActionBundle),
	}
	for i := range resources {
		desc := resources[i]
		if err := validateDescriptor(&desc); err != nil {
			return nil, err
		}
		if _, exists := m.resources[desc.ID]; exists {
			return nil, configErrorf(ErrMalformedStructure, "duplicate resource id %d", desc.ID)
		}
		if _, exists := m.byName[desc.Name]; exists {
			return nil, configErrorf(ErrMalformedStructure, "duplicate resource name %q", desc.Name)
		}
		m.resources[desc.ID] = &desc
		m.byName[desc.Name] = desc.ID
		m.ids = append(m.ids, desc.ID)
	}
	sort.Ints(m.ids)
	if err := m.validatePairs(); err != nil {
		return nil, err
	}
	seen := make(map[int]struct{})
	for _, id := range m.ids {
		p := Partition(id)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		m.partitions = append(m.partitions, p)
	}
	sort.Ints(m.partitions)
	return m, nil
}

func (m *Model) addBundles(bundles []models.ActionBundle) error {
	for i := range bundles {
		b := bundles[i]
		if b.ID <= 0 {
			return configErrorf(ErrMalformedStructure, "action %q has non-positive id %d", b.Name, b.ID)
		}
		if _, exists := m.bundles[b.ID]; exists {
			return configErrorf(ErrMalformedStructure, "duplicate action id %d", b.ID)
		}
		m.bundles[b.ID] = &b
		m.cmdIDs = append(m.cmdIDs, b.ID)
	}
	sort.Ints(m.cmdIDs)
	for _, id := range m.cmdIDs {
		if err := m.validateBundle(m.bundles[id]); err != nil {
			return err
		}
	}
	return nil
}

func validateDescriptor(desc *models.ResourceDescriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return configErrorf(ErrMalformedStructure, "resource %d missing name", desc.ID)
	}
	if !validIDFor(desc.ID, desc.Persist) {
		return configErrorf(ErrInvalidResourceID, "resource %q id %d outside the %s range", desc.Name, desc.ID, desc.Persist)
	}
	desc.Available = sortedUnique(desc.Available)
	switch node := desc.Node.(type) {
	case models.PlainNode:
		if desc.Persist == models.PersistWriteToNode && strings.TrimSpace(node.Path) == "" {
			return configErrorf(ErrMalformedStructure, "resource %q missing node path", desc.Name)
		}
	case models.GovernorNode:
		if desc.Persist != models.PersistWriteToNode {
			return configErrorf(ErrMalformedStructure, "governor resource %q must write to nodes", desc.Name)
		}
		if len(node.Paths) == 0 {
			return configErrorf(ErrMalformedStructure, "governor resource %q has no node paths", desc.Name)
		}
		if len(node.Levels) == 0 {
			return configErrorf(ErrMalformedStructure, "governor resource %q has no levels", desc.Name)
		}
		for level, strs := range node.Levels {
			if len(strs) != len(node.Paths) {
				return configErrorf(ErrMalformedStructure, "governor resource %q level %d has %d strings for %d paths", desc.Name, level, len(strs), len(node.Paths))
			}
		}
		if len(desc.Available) == 0 {
			for level := range node.Levels {
				desc.Available = append(desc.Available, level)
			}
			desc.Available = sortedUnique(desc.Available)
		}
		for _, v := range desc.Available {
			if _, ok := node.Levels[v]; !ok {
				return configErrorf(ErrMalformedStructure, "governor resource %q allows level %d without strings", desc.Name, v)
			}
		}
	default:
		return configErrorf(ErrMalformedStructure, "resource %q has no node description", desc.Name)
	}
	if !desc.Allows(desc.Default) {
		return configErrorf(ErrInvalidDefault, "resource %q default %d not in available values", desc.Name, desc.Default)
	}
	return nil
}

func (m *Model) validatePairs() error {
	for _, id := range m.ids {
		desc := m.resources[id]
		pairID, ok := desc.PairedID()
		if !ok {
			continue
		}
		partner, exists := m.resources[pairID]
		if !exists {
			return configErrorf(ErrDanglingPair, "resource %q pairs with unknown id %d", desc.Name, pairID)
		}
		back, ok := partner.PairedID()
		if !ok || back != id {
			return configErrorf(ErrDanglingPair, "resource %q pairs with %q which does not pair back", desc.Name, partner.Name)
		}
		if desc.MaxValueSemantics == partner.MaxValueSemantics {
			return configErrorf(ErrDanglingPair, "pair %q/%q needs exactly one max-value side", desc.Name, partner.Name)
		}
		if Partition(id) != Partition(pairID) {
			return configErrorf(ErrDanglingPair, "pair %q/%q spans partitions", desc.Name, partner.Name)
		}
		lo, hi := desc, partner
		if desc.MaxValueSemantics {
			lo, hi = partner, desc
		}
		if lo.Default > hi.Default {
			return configErrorf(ErrInvalidDefault, "pair %q/%q defaults %d > %d", lo.Name, hi.Name, lo.Default, hi.Default)
		}
	}
	return nil
}

func (m *Model) validateBundle(b *models.ActionBundle) error {
	if strings.TrimSpace(b.Name) == "" {
		return configErrorf(ErrMalformedStructure, "action %d missing name", b.ID)
	}
	if !b.Category.Valid() {
		return configErrorf(ErrMalformedStructure, "action %q has unknown category", b.Name)
	}
	if len(b.Steps) == 0 {
		return configErrorf(ErrInvalidAction, "action %q has no steps", b.Name)
	}
	for i, step := range b.Steps {
		if step.Duration < 0 {
			return configErrorf(ErrInvalidAction, "action %q step %d has negative duration", b.Name, i)
		}
		for _, s := range step.Settings {
			desc, ok := m.resources[s.ResourceID]
			if !ok {
				return configErrorf(ErrInvalidAction, "action %q references unknown resource %d", b.Name, s.ResourceID)
			}
			if desc.Persist == models.PersistReportExternally {
				continue
			}
			if !desc.Allows(s.Value) {
				return configErrorf(ErrInvalidAction, "action %q sets %q to %d outside its domain", b.Name, desc.Name, s.Value)
			}
		}
		if step.ThermalTriggerCmdID != 0 {
			trigger, ok := m.bundles[step.ThermalTriggerCmdID]
			if !ok {
				return configErrorf(ErrInvalidAction, "action %q step %d triggers unknown action %d", b.Name, i, step.ThermalTriggerCmdID)
			}
			for j, ts := range trigger.Steps {
				if ts.ThermalLevel < 0 {
					return configErrorf(ErrInvalidAction, "thermal action %q step %d has no thermal level", trigger.Name, j)
				}
			}
		}
	}
	for _, o := range b.ModeOverrides {
		if strings.TrimSpace(o.Mode) == "" {
			return configErrorf(ErrInvalidAction, "action %q has a mode override without a mode", b.Name)
		}
		if _, ok := m.bundles[o.CmdID]; !ok {
			return configErrorf(ErrInvalidAction, "action %q mode %q substitutes unknown action %d", b.Name, o.Mode, o.CmdID)
		}
	}
	return nil
}

func sortedUnique(values []int64) []int64 {
	if len(values) == 0 {
		return nil
	}
	out := append([]int64(nil), values...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
