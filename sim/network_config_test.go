package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNetworkYAML = `
version: "1"
seed: 7
start_hour: 21
flow:
  gravity: 1.0
  lateral: 0.3
  threshold: 2.0
scenario:
  min_gap: 4
  max_gap: 8
  min_event_len: 1
  max_event_len: 2
  policies:
    urgences:
      day:   {urgent: {min: 1, max: 2}, normal: {min: 2, max: 3}, low: {min: 2, max: 3}}
      night: {urgent: {min: 0, max: 1}, normal: {min: 0, max: 2}, low: {min: 0, max: 1}}
      event: {urgent: {min: 3, max: 6}, normal: {min: 5, max: 10}, low: {min: 3, max: 6}}
facilities:
  - name: A
    flow: {gravity: 22, lateral: 4.4, threshold: 3}
    units:
      - {name: Urgences, altitude: 5, staff_capacity: 10, max_capacity: 30, absorption_rate: 0.05}
      - {name: Cardiologie, altitude: 1, staff_capacity: 4, max_capacity: 20, mortality_rate: 0.1}
    links:
      - [Urgences, cardiologie]
  - name: B
    units:
      - {name: Urgences, staff_capacity: 5, max_capacity: 10}
`

func TestParseNetworkConfig_Fields(t *testing.T) {
	cfg, err := ParseNetworkConfig([]byte(testNetworkYAML))
	require.NoError(t, err)

	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(7), *cfg.Seed)
	assert.Equal(t, 21, cfg.StartHour)
	assert.Equal(t, FlowConfig{Gravity: 1, Lateral: 0.3, Threshold: 2}, cfg.Flow)
	require.NotNil(t, cfg.Scenario)
	assert.Equal(t, Range{5, 10}, cfg.Scenario.Policies["urgences"].Event.Normal)
	require.Len(t, cfg.Facilities, 2)
	assert.Equal(t, [][2]string{{"Urgences", "cardiologie"}}, cfg.Facilities[0].Links)
	require.NotNil(t, cfg.Facilities[0].Units[1].MortalityRate)
	assert.Equal(t, 0.1, *cfg.Facilities[0].Units[1].MortalityRate)
	assert.Nil(t, cfg.Facilities[0].Units[0].MortalityRate)
	require.NoError(t, cfg.Validate())
}

func TestParseNetworkConfig_UnknownFieldRejected(t *testing.T) {
	_, err := ParseNetworkConfig([]byte("flow: {gravity: 1, lateral: 0.5, threshold: 1, gravty: 3}\n"))
	assert.Error(t, err)
}

func TestNetworkConfig_ScenarioDefault(t *testing.T) {
	cfg := &NetworkConfig{}
	assert.Equal(t, DefaultScenarioConfig(), cfg.ScenarioConfigOrDefault())
}

func TestNetworkConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NetworkConfig)
		target error
	}{
		{"start hour out of range", func(c *NetworkConfig) { c.StartHour = 24 }, ErrInvalidConfig},
		{"lateral above gravity", func(c *NetworkConfig) { c.Flow.Lateral = 5 }, ErrInvalidConfig},
		{"no facilities", func(c *NetworkConfig) { c.Facilities = nil }, ErrInvalidConfig},
		{"empty facility name", func(c *NetworkConfig) { c.Facilities[1].Name = "" }, ErrInvalidConfig},
		{"duplicate facility", func(c *NetworkConfig) { c.Facilities[1].Name = "a" }, ErrInvalidConfig},
		{"bad facility flow", func(c *NetworkConfig) { c.Facilities[0].Flow.Gravity = -1 }, ErrInvalidConfig},
		{"duplicate unit", func(c *NetworkConfig) { c.Facilities[0].Units[1].Name = "URGENCES" }, ErrDuplicateUnit},
		{"bad unit", func(c *NetworkConfig) { c.Facilities[1].Units[0].MaxCapacity = -1 }, ErrInvalidConfig},
		{"unknown link endpoint", func(c *NetworkConfig) { c.Facilities[0].Links[0][1] = "Ghost" }, ErrUnitNotFound},
		{"bad scenario", func(c *NetworkConfig) { c.Scenario.MinGap = 0 }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseNetworkConfig([]byte(testNetworkYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.target)
		})
	}
}

func TestNetworkConfig_Build(t *testing.T) {
	// GIVEN a parsed network
	cfg, err := ParseNetworkConfig([]byte(testNetworkYAML))
	require.NoError(t, err)

	// WHEN built
	reg, scenario, err := cfg.Build(NewPartitionedRNG(NewSimulationKey(*cfg.Seed)))
	require.NoError(t, err)
	require.NotNil(t, scenario)

	// THEN facilities, units, links, flows and mortality are wired
	require.Equal(t, 2, reg.Len())
	a, err := reg.Facility(1)
	require.NoError(t, err)
	b, err := reg.Facility(2)
	require.NoError(t, err)
	assert.Equal(t, "A", a.Name())
	assert.Equal(t, []*Facility{b}, a.Neighbors())
	assert.Equal(t, 22.0, a.FlowManager().GravityCoefficient())
	assert.Equal(t, 1.0, b.FlowManager().GravityCoefficient())

	er, ok := a.FindUnitByName("urgences")
	require.True(t, ok)
	card, ok := a.FindUnitByName("Cardiologie")
	require.True(t, ok)
	assert.Equal(t, []*Unit{card}, er.Neighbors())
	assert.Equal(t, []*Unit{er}, card.Neighbors())
	assert.Equal(t, DefaultMortalityRate, er.MortalityRate())
	assert.Equal(t, 0.1, card.MortalityRate())
	assert.Equal(t, 5.0, er.Altitude())
	assert.Equal(t, 0.05, er.AbsorptionRate())
}

func TestNetworkConfig_BuildRejectsInvalid(t *testing.T) {
	cfg := &NetworkConfig{Flow: FlowConfig{Gravity: 1}}
	_, _, err := cfg.Build(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadNetworkConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testNetworkYAML), 0o600))

	cfg, err := LoadNetworkConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Facilities, 2)

	_, err = LoadNetworkConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
