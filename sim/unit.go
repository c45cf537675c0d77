package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// DefaultMortalityRate is the per-treatment probability of a forced discharge.
const DefaultMortalityRate = 0.02

// UnitConfig groups the static parameters of a Unit.
type UnitConfig struct {
	Name           string
	Altitude       float64  // base height, >= 0
	Obstacle       bool     // true: never sends or receives flow
	StaffCapacity  int      // patients treated per tick
	MaxCapacity    int      // beds
	AbsorptionRate float64  // fraction naturally discharged per tick, in [0,1]
	MortalityRate  *float64 // nil means DefaultMortalityRate
}

// Rate returns a pointer to v, for the optional rate fields of UnitConfig.
func Rate(v float64) *float64 { return &v }

// Validate checks the configuration invariants.
func (c UnitConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: unit name is empty", ErrInvalidConfig)
	}
	if c.Altitude < 0 {
		return fmt.Errorf("%w: unit %q altitude must be non-negative, got %f", ErrInvalidConfig, c.Name, c.Altitude)
	}
	if c.StaffCapacity < 0 {
		return fmt.Errorf("%w: unit %q staff capacity must be non-negative, got %d", ErrInvalidConfig, c.Name, c.StaffCapacity)
	}
	if c.MaxCapacity < 0 {
		return fmt.Errorf("%w: unit %q max capacity must be non-negative, got %d", ErrInvalidConfig, c.Name, c.MaxCapacity)
	}
	if c.AbsorptionRate < 0 || c.AbsorptionRate > 1 {
		return fmt.Errorf("%w: unit %q absorption rate must be in [0,1], got %f", ErrInvalidConfig, c.Name, c.AbsorptionRate)
	}
	if c.MortalityRate != nil && (*c.MortalityRate < 0 || *c.MortalityRate > 1) {
		return fmt.Errorf("%w: unit %q mortality rate must be in [0,1], got %f", ErrInvalidConfig, c.Name, *c.MortalityRate)
	}
	return nil
}

// PendingArrivals are the external arrivals waiting for the next admission pass.
// Generic is the legacy priority-less bucket; its patients are admitted as Normal.
type PendingArrivals struct {
	Urgent  int
	Normal  int
	Low     int
	Generic int
}

// Total returns the number of pending patients across all buckets.
func (p PendingArrivals) Total() int {
	return p.Urgent + p.Normal + p.Low + p.Generic
}

// AdmissionOutcome summarizes one admission pass.
type AdmissionOutcome struct {
	Accepted   int // placed locally or at a neighbor
	Overflowed int // subset of Accepted placed at a neighbor unit
	Lost       int // could not be placed anywhere
}

// TreatmentOutcome summarizes one treatment pass.
type TreatmentOutcome struct {
	Treated   int // patients that received staff time
	Recovered int // left with treatment complete
	Died      int // left through the mortality draw
}

// Discharged is the number of patients that left the unit.
func (o TreatmentOutcome) Discharged() int { return o.Recovered + o.Died }

// UnitView is the read-only projection handed to reporting layers.
type UnitView struct {
	Name        string
	MaxCapacity int
	CurrentLoad int
	Obstacle    bool
}

// Unit is a capacitated service node holding patients.
type Unit struct {
	name           string
	altitude       float64
	obstacle       bool
	staffCapacity  int
	maxCapacity    int
	absorptionRate float64
	mortalityRate  float64

	patients  []*Patient
	neighbors []*Unit
	pending   PendingArrivals
	rng       UnitRandom
}

// NewUnit validates cfg and returns an empty unit. Nil streams in rng are
// replaced with deterministic defaults derived from the unit name.
func NewUnit(cfg UnitConfig, rng UnitRandom) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mortality := DefaultMortalityRate
	if cfg.MortalityRate != nil {
		mortality = *cfg.MortalityRate
	}
	return &Unit{
		name:           cfg.Name,
		altitude:       cfg.Altitude,
		obstacle:       cfg.Obstacle,
		staffCapacity:  cfg.StaffCapacity,
		maxCapacity:    cfg.MaxCapacity,
		absorptionRate: cfg.AbsorptionRate,
		mortalityRate:  mortality,
		rng:            rng.withDefaults(cfg.Name),
	}, nil
}

func (u *Unit) Name() string            { return u.name }
func (u *Unit) Altitude() float64       { return u.altitude }
func (u *Unit) IsObstacle() bool        { return u.obstacle }
func (u *Unit) StaffCapacity() int      { return u.staffCapacity }
func (u *Unit) MaxCapacity() int        { return u.maxCapacity }
func (u *Unit) AbsorptionRate() float64 { return u.absorptionRate }
func (u *Unit) MortalityRate() float64  { return u.mortalityRate }

// Pending returns the arrivals waiting for the next admission pass.
func (u *Unit) Pending() PendingArrivals { return u.pending }

// CurrentLoad is the number of patients in the unit.
func (u *Unit) CurrentLoad() int { return len(u.patients) }

// Height is altitude plus load, the potential driving inter-unit flow.
func (u *Unit) Height() float64 { return u.altitude + float64(len(u.patients)) }

// Room is the number of free beds, never negative.
func (u *Unit) Room() int { return max(0, u.maxCapacity-len(u.patients)) }

// Surplus is the number of patients above capacity, never negative.
func (u *Unit) Surplus() int { return max(0, len(u.patients)-u.maxCapacity) }

// Neighbors returns the adjacency list in insertion order.
func (u *Unit) Neighbors() []*Unit { return u.neighbors }

// Patients returns a copy of the patient list.
func (u *Unit) Patients() []*Patient {
	out := make([]*Patient, len(u.patients))
	copy(out, u.patients)
	return out
}

// CountByPriority returns the number of patients per priority class.
func (u *Unit) CountByPriority() map[Priority]int {
	counts := make(map[Priority]int, len(Priorities))
	for _, p := range u.patients {
		counts[p.Priority]++
	}
	return counts
}

// View returns the reporting projection of the unit.
func (u *Unit) View() UnitView {
	return UnitView{Name: u.name, MaxCapacity: u.maxCapacity, CurrentLoad: len(u.patients), Obstacle: u.obstacle}
}

// SetMaxCapacity changes the bed count. Patients already above the new
// capacity stay; they become surplus for the overflow pass.
func (u *Unit) SetMaxCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: unit %q max capacity must be non-negative, got %d", ErrInvalidConfig, u.name, n)
	}
	u.maxCapacity = n
	return nil
}

// SetObstacle toggles the obstacle flag.
func (u *Unit) SetObstacle(obstacle bool) { u.obstacle = obstacle }

// AddNeighbor appends other to the adjacency list once. Links are one-way;
// use ConnectUnits for a symmetric link.
func (u *Unit) AddNeighbor(other *Unit) {
	if other == nil || other == u {
		return
	}
	for _, n := range u.neighbors {
		if n == other {
			return
		}
	}
	u.neighbors = append(u.neighbors, other)
}

// ConnectUnits links a and b in both directions.
func ConnectUnits(a, b *Unit) {
	a.AddNeighbor(b)
	b.AddNeighbor(a)
}

// SetPendingArrivals replaces the three priority buckets.
func (u *Unit) SetPendingArrivals(urgent, normal, low int) {
	u.pending.Urgent = max(0, urgent)
	u.pending.Normal = max(0, normal)
	u.pending.Low = max(0, low)
}

// AddGenericArrivals adds to the legacy priority-less bucket.
func (u *Unit) AddGenericArrivals(n int) {
	u.pending.Generic += max(0, n)
}

// AddPatient inserts p if the unit has a free bed.
func (u *Unit) AddPatient(p *Patient) bool {
	if len(u.patients) >= u.maxCapacity {
		return false
	}
	u.patients = append(u.patients, p)
	return true
}

// AcceptExternalArrivals admits the pending buckets patient by patient,
// Urgent first. A patient refused locally is offered to each non-obstacle
// neighbor in adjacency order; if nobody takes it, it is lost. The pending
// buckets are cleared whatever the outcome.
func (u *Unit) AcceptExternalArrivals() AdmissionOutcome {
	var out AdmissionOutcome
	buckets := []struct {
		priority Priority
		count    int
	}{
		{PriorityUrgent, u.pending.Urgent},
		{PriorityNormal, u.pending.Normal},
		{PriorityLow, u.pending.Low},
		{PriorityNormal, u.pending.Generic},
	}
	for _, b := range buckets {
		for i := 0; i < b.count; i++ {
			p := newRandomPatient(b.priority, u.rng.Admission)
			switch {
			case u.AddPatient(p):
				out.Accepted++
			case u.overflowToNeighbors(p):
				out.Accepted++
				out.Overflowed++
			default:
				out.Lost++
			}
		}
	}
	u.pending = PendingArrivals{}

	if out.Lost > 0 {
		logrus.Warnf("[unit %s] %d arrival(s) lost: unit and neighbors at capacity", u.name, out.Lost)
	}
	return out
}

func (u *Unit) overflowToNeighbors(p *Patient) bool {
	for _, n := range u.neighbors {
		if n.obstacle {
			continue
		}
		if n.AddPatient(p) {
			return true
		}
	}
	return false
}

// TreatPatientsOneStep gives staff time to up to StaffCapacity patients,
// Urgent first, then removes every patient whose treatment is complete.
// The sort is stable so equal-priority patients keep their order across ticks.
func (u *Unit) TreatPatientsOneStep() TreatmentOutcome {
	var out TreatmentOutcome
	if len(u.patients) == 0 {
		return out
	}

	died := make(map[*Patient]bool)
	if u.staffCapacity > 0 {
		sorted := u.Patients()
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Priority < sorted[j].Priority
		})
		for _, p := range sorted[:min(u.staffCapacity, len(sorted))] {
			if u.rng.Mortality.Float64() < u.mortalityRate {
				p.TimeToTreat = dischargedSentinel
				died[p] = true
			} else {
				p.serveOneTick()
			}
			out.Treated++
		}
	}

	u.patients = u.retain(func(p *Patient) bool {
		switch {
		case !p.Done():
			return true
		case died[p]:
			out.Died++
		default:
			out.Recovered++
		}
		return false
	})
	return out
}

// ApplyAbsorption removes round(load * rate) patients chosen uniformly at
// random, independent of priority.
func (u *Unit) ApplyAbsorption() int {
	if u.absorptionRate <= 0 || len(u.patients) == 0 {
		return 0
	}
	out := int(math.Round(float64(len(u.patients)) * u.absorptionRate))
	out = min(out, len(u.patients))
	if out <= 0 {
		return 0
	}
	leaving := make(map[*Patient]bool, out)
	for _, idx := range u.rng.Absorption.Perm(len(u.patients))[:out] {
		leaving[u.patients[idx]] = true
	}
	u.patients = u.retain(func(p *Patient) bool { return !leaving[p] })
	return out
}

// TransferSomePatients moves up to count randomly chosen patients into
// target. A patient leaves this unit only once target has accepted it.
// Stops early when this unit is empty or target is full.
func (u *Unit) TransferSomePatients(target *Unit, count int) int {
	if target == nil || target == u {
		return 0
	}
	moved := 0
	for moved < count && len(u.patients) > 0 {
		idx := u.rng.Transfer.Intn(len(u.patients))
		p := u.patients[idx]
		if !target.AddPatient(p) {
			break
		}
		u.removeAt(idx)
		moved++
	}
	return moved
}

// takePatients moves the given patients (all currently in u) into target,
// up to target's free room, preserving their order. Returns those moved.
func (u *Unit) takePatients(target *Unit, batch []*Patient) []*Patient {
	room := target.Room()
	if room <= 0 || len(batch) == 0 {
		return nil
	}
	var moved []*Patient
	gone := make(map[*Patient]bool)
	for _, p := range batch[:min(room, len(batch))] {
		if target.AddPatient(p) {
			gone[p] = true
			moved = append(moved, p)
		}
	}
	u.patients = u.retain(func(p *Patient) bool { return !gone[p] })
	return moved
}

func (u *Unit) removeAt(idx int) {
	copy(u.patients[idx:], u.patients[idx+1:])
	u.patients[len(u.patients)-1] = nil
	u.patients = u.patients[:len(u.patients)-1]
}

// retain returns a fresh slice of the patients for which keep is true,
// preserving order.
func (u *Unit) retain(keep func(*Patient) bool) []*Patient {
	kept := make([]*Patient, 0, len(u.patients))
	for _, p := range u.patients {
		if keep(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

func (u *Unit) String() string {
	c := u.CountByPriority()
	return fmt.Sprintf("%s: load=%d/%d (URGENT=%d, NORMAL=%d, LOW=%d)",
		u.name, len(u.patients), u.maxCapacity, c[PriorityUrgent], c[PriorityNormal], c[PriorityLow])
}
