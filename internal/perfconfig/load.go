package perfconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boostd/boostd/internal/models"
	"gopkg.in/yaml.v3"
)

type resourceFileSpec struct {
	Resources []resourceSpec `yaml:"resources"`
}

type resourceSpec struct {
	ID        int           `yaml:"id"`
	Name      string        `yaml:"name"`
	Default   int64         `yaml:"default"`
	MaxValue  bool          `yaml:"max_value"`
	Persist   string        `yaml:"persist"`
	Available []int64       `yaml:"available"`
	Node      string        `yaml:"node"`
	Pair      int           `yaml:"pair"`
	Governor  *governorSpec `yaml:"governor"`
}

type governorSpec struct {
	Paths  []string           `yaml:"paths"`
	Levels map[int64][]string `yaml:"levels"`
}

type boostFileSpec struct {
	Category string       `yaml:"category"`
	Actions  []actionSpec `yaml:"actions"`
}

type actionSpec struct {
	ID            int                `yaml:"id"`
	Name          string             `yaml:"name"`
	Category      string             `yaml:"category"`
	Steps         []stepSpec         `yaml:"steps"`
	ModeOverrides []modeOverrideSpec `yaml:"mode_overrides"`
}

type stepSpec struct {
	DurationMs     int64         `yaml:"duration_ms"`
	ThermalLevel   *int          `yaml:"thermal_level"`
	ThermalTrigger int           `yaml:"thermal_trigger"`
	Settings       []settingSpec `yaml:"settings"`
}

type settingSpec struct {
	Resource string `yaml:"resource"`
	Value    int64  `yaml:"value"`
}

type modeOverrideSpec struct {
	Mode string `yaml:"mode"`
	Cmd  int    `yaml:"cmd"`
}

// Load reads the resource definition file and every boost file, then
// validates the result.
func Load(resourcePath string, boostPaths ...string) (*Model, error) {
	if strings.TrimSpace(resourcePath) == "" {
		return nil, configErrorf(ErrMalformedStructure, "resource definition path is required")
	}
	resourceData, err := os.ReadFile(resourcePath)
	if err != nil {
		return nil, fmt.Errorf("read resources %s: %w", resourcePath, err)
	}
	sources := make([]source, 0, len(boostPaths))
	for _, path := range boostPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read boosts %s: %w", path, err)
		}
		sources = append(sources, source{name: path, data: data})
	}
	return parse(source{name: resourcePath, data: resourceData}, sources)
}

// BoostFiles lists the YAML files of dir in name order.
func BoostFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read boosts dir %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Parse builds a Model from in-memory definitions.
func Parse(resourceData []byte, boostData ...[]byte) (*Model, error) {
	sources := make([]source, 0, len(boostData))
	for i, data := range boostData {
		sources = append(sources, source{name: fmt.Sprintf("boosts[%d]", i), data: data})
	}
	return parse(source{name: "resources", data: resourceData}, sources)
}

type source struct {
	name string
	data []byte
}

func parse(resourceSrc source, boostSrcs []source) (*Model, error) {
	var resFile resourceFileSpec
	if err := decodeStrict(resourceSrc.data, &resFile); err != nil {
		return nil, withSource(configErrorf(ErrMalformedStructure, "%v", err), resourceSrc.name)
	}
	if len(resFile.Resources) == 0 {
		return nil, withSource(configErrorf(ErrMalformedStructure, "no resources defined"), resourceSrc.name)
	}
	descs := make([]models.ResourceDescriptor, 0, len(resFile.Resources))
	for _, spec := range resFile.Resources {
		desc, err := spec.descriptor()
		if err != nil {
			return nil, withSource(err, resourceSrc.name)
		}
		descs = append(descs, desc)
	}
	m, err := newResourceModel(descs)
	if err != nil {
		return nil, withSource(err, resourceSrc.name)
	}

	var bundles []models.ActionBundle
	var boostNames []string
	for _, src := range boostSrcs {
		boostNames = append(boostNames, src.name)
		var boostFile boostFileSpec
		if err := decodeStrict(src.data, &boostFile); err != nil {
			return nil, withSource(configErrorf(ErrMalformedStructure, "%v", err), src.name)
		}
		for _, spec := range boostFile.Actions {
			b, err := spec.bundle(boostFile.Category, m)
			if err != nil {
				return nil, withSource(err, src.name)
			}
			bundles = append(bundles, b)
		}
	}
	if err := m.addBundles(bundles); err != nil {
		return nil, withSource(err, strings.Join(boostNames, ","))
	}
	return m, nil
}

func decodeStrict(data []byte, dest any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty document")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dest); err != nil {
		return err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected trailing document")
	}
	return nil
}

func (s resourceSpec) descriptor() (models.ResourceDescriptor, error) {
	desc := models.ResourceDescriptor{
		ID:                s.ID,
		Name:              strings.TrimSpace(s.Name),
		Default:           s.Default,
		MaxValueSemantics: s.MaxValue,
		Available:         s.Available,
	}
	switch strings.ToLower(strings.TrimSpace(s.Persist)) {
	case "", "node":
		desc.Persist = models.PersistWriteToNode
	case "report":
		desc.Persist = models.PersistReportExternally
	default:
		return desc, configErrorf(ErrMalformedStructure, "resource %q has unknown persist mode %q", s.Name, s.Persist)
	}
	if s.Governor != nil {
		if s.Node != "" || s.Pair != 0 {
			return desc, configErrorf(ErrMalformedStructure, "governor resource %q cannot set node or pair", s.Name)
		}
		desc.Node = models.GovernorNode{Paths: s.Governor.Paths, Levels: s.Governor.Levels}
		return desc, nil
	}
	desc.Node = models.PlainNode{Path: strings.TrimSpace(s.Node), PairedID: s.Pair}
	return desc, nil
}

func (s actionSpec) bundle(fileCategory string, m *Model) (models.ActionBundle, error) {
	categoryName := s.Category
	if categoryName == "" {
		categoryName = fileCategory
	}
	if categoryName == "" {
		categoryName = "perf"
	}
	category, ok := models.ParseCategory(strings.ToLower(strings.TrimSpace(categoryName)))
	if !ok {
		return models.ActionBundle{}, configErrorf(ErrMalformedStructure, "action %q has unknown category %q", s.Name, categoryName)
	}
	b := models.ActionBundle{
		ID:       s.ID,
		Name:     strings.TrimSpace(s.Name),
		Category: category,
	}
	for _, st := range s.Steps {
		if st.DurationMs < 0 {
			return b, configErrorf(ErrInvalidAction, "action %q has negative duration_ms", s.Name)
		}
		step := models.ActionStep{
			Duration:            time.Duration(st.DurationMs) * time.Millisecond,
			ThermalLevel:        -1,
			ThermalTriggerCmdID: st.ThermalTrigger,
		}
		if st.ThermalLevel != nil {
			if *st.ThermalLevel < 0 {
				return b, configErrorf(ErrInvalidAction, "action %q has negative thermal_level", s.Name)
			}
			step.ThermalLevel = *st.ThermalLevel
		}
		for _, setting := range st.Settings {
			desc, ok := m.ResolveResource(setting.Resource)
			if !ok {
				return b, configErrorf(ErrInvalidAction, "action %q references unknown resource %q", s.Name, setting.Resource)
			}
			step.Settings = append(step.Settings, models.Setting{ResourceID: desc.ID, Value: setting.Value})
		}
		b.Steps = append(b.Steps, step)
	}
	for _, o := range s.ModeOverrides {
		b.ModeOverrides = append(b.ModeOverrides, models.ModeOverride{Mode: strings.TrimSpace(o.Mode), CmdID: o.Cmd})
	}
	return b, nil
}

func isYAML(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
