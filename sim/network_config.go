package sim

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkConfig describes a facility network, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML" and take the documented default.
type NetworkConfig struct {
	Version    string           `yaml:"version"`
	Seed       *int64           `yaml:"seed,omitempty"`
	StartHour  int              `yaml:"start_hour"`
	Flow       FlowConfig       `yaml:"flow"`
	Scenario   *ScenarioConfig  `yaml:"scenario,omitempty"`
	Facilities []FacilityConfig `yaml:"facilities"`
}

// FlowConfig holds FlowManager coefficients.
type FlowConfig struct {
	Gravity   float64 `yaml:"gravity"`
	Lateral   float64 `yaml:"lateral"`
	Threshold float64 `yaml:"threshold"`
}

// FacilityConfig describes one facility. Flow overrides the network default.
type FacilityConfig struct {
	Name  string      `yaml:"name"`
	Flow  *FlowConfig `yaml:"flow,omitempty"`
	Units []UnitSpec  `yaml:"units"`
	Links [][2]string `yaml:"links,omitempty"` // symmetric unit adjacency
}

// UnitSpec is the YAML form of UnitConfig.
type UnitSpec struct {
	Name           string   `yaml:"name"`
	Altitude       float64  `yaml:"altitude"`
	Obstacle       bool     `yaml:"obstacle"`
	StaffCapacity  int      `yaml:"staff_capacity"`
	MaxCapacity    int      `yaml:"max_capacity"`
	AbsorptionRate float64  `yaml:"absorption_rate"`
	MortalityRate  *float64 `yaml:"mortality_rate,omitempty"`
}

// Config converts the spec to a UnitConfig.
func (s UnitSpec) Config() UnitConfig {
	return UnitConfig{
		Name:           s.Name,
		Altitude:       s.Altitude,
		Obstacle:       s.Obstacle,
		StaffCapacity:  s.StaffCapacity,
		MaxCapacity:    s.MaxCapacity,
		AbsorptionRate: s.AbsorptionRate,
		MortalityRate:  s.MortalityRate,
	}
}

// LoadNetworkConfig reads and parses a YAML network file.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network config: %w", err)
	}
	return ParseNetworkConfig(data)
}

// ParseNetworkConfig parses YAML with strict field checking: unknown keys
// are errors so typos do not silently fall back to defaults.
func ParseNetworkConfig(data []byte) (*NetworkConfig, error) {
	var cfg NetworkConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing network config: %w", err)
	}
	return &cfg, nil
}

// ScenarioConfigOrDefault returns the configured scenario or the built-in one.
func (c *NetworkConfig) ScenarioConfigOrDefault() ScenarioConfig {
	if c.Scenario == nil {
		return DefaultScenarioConfig()
	}
	return *c.Scenario
}

// Validate checks names, ranges and link endpoints.
func (c *NetworkConfig) Validate() error {
	if c.StartHour < 0 || c.StartHour >= HoursPerDay {
		return fmt.Errorf("%w: start_hour must be in [0,23], got %d", ErrInvalidConfig, c.StartHour)
	}
	if _, err := c.Flow.manager(); err != nil {
		return fmt.Errorf("network flow: %w", err)
	}
	if err := c.ScenarioConfigOrDefault().Validate(); err != nil {
		return err
	}
	if len(c.Facilities) == 0 {
		return fmt.Errorf("%w: no facilities defined", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Facilities))
	for _, f := range c.Facilities {
		if f.Name == "" {
			return fmt.Errorf("%w: facility name is empty", ErrInvalidConfig)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate facility %q", ErrInvalidConfig, f.Name)
		}
		seen[key] = true
		if err := f.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f FacilityConfig) validate() error {
	if f.Flow != nil {
		if _, err := f.Flow.manager(); err != nil {
			return fmt.Errorf("facility %q flow: %w", f.Name, err)
		}
	}
	units := make(map[string]bool, len(f.Units))
	for _, u := range f.Units {
		if err := u.Config().Validate(); err != nil {
			return fmt.Errorf("facility %q: %w", f.Name, err)
		}
		key := strings.ToLower(u.Name)
		if units[key] {
			return fmt.Errorf("facility %q: %w: %q", f.Name, ErrDuplicateUnit, u.Name)
		}
		units[key] = true
	}
	for _, l := range f.Links {
		for _, end := range l {
			if !units[strings.ToLower(end)] {
				return fmt.Errorf("facility %q link %v: %w: %q", f.Name, l, ErrUnitNotFound, end)
			}
		}
	}
	return nil
}

func (fc FlowConfig) manager() (*FlowManager, error) {
	return NewFlowManager(fc.Gravity, fc.Lateral, fc.Threshold)
}

// Build validates the configuration and creates the registry, with every
// facility linked to every other, and the arrival scenario.
func (c *NetworkConfig) Build(rng *PartitionedRNG) (*Registry, *ArrivalScenario, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	flow, err := c.Flow.manager()
	if err != nil {
		return nil, nil, err
	}
	reg := NewRegistry(flow, rng)
	for _, fc := range c.Facilities {
		var fflow *FlowManager
		if fc.Flow != nil {
			if fflow, err = fc.Flow.manager(); err != nil {
				return nil, nil, err
			}
		}
		_, err := reg.CreateFacility(fc.Name, fflow, func(f *Facility) error {
			for _, us := range fc.Units {
				if _, err := f.NewUnit(us.Config()); err != nil {
					return err
				}
			}
			for _, l := range fc.Links {
				if err := f.ConnectUnits(l[0], l[1]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	scenario, err := NewArrivalScenario(c.ScenarioConfigOrDefault(), reg.rng.ForSubsystem(SubsystemScenario))
	if err != nil {
		return nil, nil, err
	}
	return reg, scenario, nil
}
