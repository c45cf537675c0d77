package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical network
// configuration MUST produce identical patient movements.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemScenario drives event-state dwell times and arrival counts.
	// Uses master seed directly so --seed alone reproduces the arrival stream.
	SubsystemScenario = "scenario"

	// Per-unit concerns. Combined with the facility and unit name by SubsystemUnit.
	ConcernAdmission  = "admission"
	ConcernMortality  = "mortality"
	ConcernAbsorption = "absorption"
	ConcernTransfer   = "transfer"
)

// SubsystemUnit returns the subsystem name for one randomness concern of one unit.
func SubsystemUnit(facility, unit, concern string) string {
	return fmt.Sprintf("unit/%s/%s/%s", facility, unit, concern)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemScenario: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemScenario {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// UnitRandom holds the independent random streams a Unit draws from.
// Keeping them apart means, for example, that changing the mortality rate
// does not shift which patients get absorbed.
type UnitRandom struct {
	Admission  *rand.Rand // time-to-treat draws for new patients
	Mortality  *rand.Rand // one draw per treated patient
	Absorption *rand.Rand // natural-discharge selection
	Transfer   *rand.Rand // patient selection for inter-facility moves
}

// UnitRandomFor derives the four streams of one unit from a PartitionedRNG.
func UnitRandomFor(p *PartitionedRNG, facility, unit string) UnitRandom {
	return UnitRandom{
		Admission:  p.ForSubsystem(SubsystemUnit(facility, unit, ConcernAdmission)),
		Mortality:  p.ForSubsystem(SubsystemUnit(facility, unit, ConcernMortality)),
		Absorption: p.ForSubsystem(SubsystemUnit(facility, unit, ConcernAbsorption)),
		Transfer:   p.ForSubsystem(SubsystemUnit(facility, unit, ConcernTransfer)),
	}
}

// withDefaults fills any nil stream from a key-0 partition named after the unit.
func (r UnitRandom) withDefaults(unit string) UnitRandom {
	if r.Admission != nil && r.Mortality != nil && r.Absorption != nil && r.Transfer != nil {
		return r
	}
	def := UnitRandomFor(NewPartitionedRNG(NewSimulationKey(0)), "", unit)
	if r.Admission == nil {
		r.Admission = def.Admission
	}
	if r.Mortality == nil {
		r.Mortality = def.Mortality
	}
	if r.Absorption == nil {
		r.Absorption = def.Absorption
	}
	if r.Transfer == nil {
		r.Transfer = def.Transfer
	}
	return r
}

// randIntRange draws uniformly from [lo, hi] inclusive.
// Returns lo when lo >= hi rather than failing.
func randIntRange(rng *rand.Rand, lo, hi int) int {
	if lo >= hi {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
