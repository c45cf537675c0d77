package sim

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/carenet-sim/carenet/sim/trace"
)

// TickResult is the outcome of one facility tick.
type TickResult struct {
	StepResult
	Overflows []trace.OverflowRecord
}

// Facility groups units into one local FlowSimulator and exchanges surplus
// patients with neighbor facilities.
type Facility struct {
	id   int
	name string

	units     []*Unit
	unitIndex map[string]int // lower-cased name → index into units

	flow      *FlowManager
	simulator *FlowSimulator
	neighbors []*Facility

	rng   *PartitionedRNG
	trace *trace.SimulationTrace
	tick  int64
}

// NewFacility creates an empty facility. Panics if flow is nil.
// rng may be nil, in which case units get name-derived default streams.
func NewFacility(id int, name string, flow *FlowManager, rng *PartitionedRNG) *Facility {
	f := &Facility{
		id:        id,
		name:      name,
		unitIndex: make(map[string]int),
		flow:      flow,
		rng:       rng,
	}
	f.simulator = NewFlowSimulator(nil, flow)
	return f
}

func (f *Facility) ID() int                   { return f.id }
func (f *Facility) Name() string              { return f.name }
func (f *Facility) FlowManager() *FlowManager { return f.flow }
func (f *Facility) Simulator() *FlowSimulator { return f.simulator }
func (f *Facility) Neighbors() []*Facility    { return f.neighbors }

// SetTrace attaches a trace recorder to the facility and its simulator.
func (f *Facility) SetTrace(st *trace.SimulationTrace) {
	f.trace = st
	f.simulator.SetTrace(f.name, st)
}

// SetParallelism bounds the goroutines used for flux computation.
func (f *Facility) SetParallelism(n int) { f.simulator.Parallelism = n }

// NewUnit creates a unit from cfg, wires its random streams and adds it.
func (f *Facility) NewUnit(cfg UnitConfig) (*Unit, error) {
	var streams UnitRandom
	if f.rng != nil {
		streams = UnitRandomFor(f.rng, f.name, cfg.Name)
	}
	u, err := NewUnit(cfg, streams)
	if err != nil {
		return nil, fmt.Errorf("facility %q: %w", f.name, err)
	}
	if err := f.AddUnit(u); err != nil {
		return nil, err
	}
	return u, nil
}

// AddUnit appends u and rebuilds the name index and the simulator binding.
func (f *Facility) AddUnit(u *Unit) error {
	key := strings.ToLower(u.Name())
	if _, dup := f.unitIndex[key]; dup {
		return fmt.Errorf("facility %q: %w: %q", f.name, ErrDuplicateUnit, u.Name())
	}
	f.units = append(f.units, u)
	f.rebuildIndex()
	return nil
}

func (f *Facility) rebuildIndex() {
	f.unitIndex = make(map[string]int, len(f.units))
	for idx, u := range f.units {
		f.unitIndex[strings.ToLower(u.Name())] = idx
	}
	parallelism, steps := f.simulator.Parallelism, f.simulator.Steps()
	f.simulator = NewFlowSimulator(f.units, f.flow)
	f.simulator.Parallelism = parallelism
	f.simulator.SetStep(steps)
	f.simulator.SetTrace(f.name, f.trace)
}

// ConnectUnits links two named units in both directions.
func (f *Facility) ConnectUnits(a, b string) error {
	ua, ok := f.FindUnitByName(a)
	if !ok {
		return fmt.Errorf("facility %q: %w: %q", f.name, ErrUnitNotFound, a)
	}
	ub, ok := f.FindUnitByName(b)
	if !ok {
		return fmt.Errorf("facility %q: %w: %q", f.name, ErrUnitNotFound, b)
	}
	ConnectUnits(ua, ub)
	return nil
}

// FindUnitByName looks a unit up by case-insensitive name.
func (f *Facility) FindUnitByName(name string) (*Unit, bool) {
	idx, ok := f.unitIndex[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return f.units[idx], true
}

// Units returns the read-only views of all units in insertion order.
func (f *Facility) Units() []UnitView {
	views := make([]UnitView, len(f.units))
	for idx, u := range f.units {
		views[idx] = u.View()
	}
	return views
}

// UnitList returns the units themselves, in insertion order.
func (f *Facility) UnitList() []*Unit { return f.units }

// TotalLoad sums the load of every unit.
func (f *Facility) TotalLoad() int {
	total := 0
	for _, u := range f.units {
		total += u.CurrentLoad()
	}
	return total
}

// SetUnitMaxCapacity changes the bed count of a named unit.
func (f *Facility) SetUnitMaxCapacity(name string, n int) error {
	u, ok := f.FindUnitByName(name)
	if !ok {
		return fmt.Errorf("facility %q: %w: %q", f.name, ErrUnitNotFound, name)
	}
	return u.SetMaxCapacity(n)
}

// AddNeighbor links other as an overflow destination, once.
func (f *Facility) AddNeighbor(other *Facility) {
	if other == nil || other == f {
		return
	}
	for _, n := range f.neighbors {
		if n == other {
			return
		}
	}
	f.neighbors = append(f.neighbors, other)
}

// RemoveNeighbor drops other from the neighbor list, if present.
func (f *Facility) RemoveNeighbor(other *Facility) {
	kept := f.neighbors[:0]
	for _, n := range f.neighbors {
		if n != other {
			kept = append(kept, n)
		}
	}
	f.neighbors = kept
}

// Step runs the local FlowSimulator step only, stamped with the facility's
// current tick.
func (f *Facility) Step() StepResult {
	f.simulator.SetStep(f.tick)
	return f.simulator.SimulateOneStep()
}

// SimulateOneTick advances scenario, assigns this facility's arrivals, runs
// the local step, then resolves surplus against neighbor facilities.
// The caller owns ctx and advances it.
func (f *Facility) SimulateOneTick(ctx *SimContext, scenario *ArrivalScenario) TickResult {
	if scenario != nil {
		scenario.UpdateArrivals(ctx, f.units)
	}
	f.tick = ctx.Tick
	res := TickResult{StepResult: f.Step()}
	res.Overflows = f.ResolveOverflow()
	return res
}

// ResolveOverflow sends each over-capacity unit's surplus to the same-named
// unit of neighbor facilities, in neighbor order, bounded by their room.
// The surplus is re-read after every transfer; whatever is left stays.
func (f *Facility) ResolveOverflow() []trace.OverflowRecord {
	var records []trace.OverflowRecord
	for _, u := range f.units {
		surplus := u.Surplus()
		if surplus == 0 {
			continue
		}
		for _, nf := range f.neighbors {
			nu, ok := nf.FindUnitByName(u.Name())
			if !ok {
				continue
			}
			canAccept := nu.Room()
			if canAccept <= 0 {
				continue
			}
			requested := min(surplus, canAccept)
			moved := u.TransferSomePatients(nu, requested)
			rec := trace.OverflowRecord{
				Tick:         f.tick,
				FromFacility: f.name,
				ToFacility:   nf.name,
				Unit:         u.Name(),
				Surplus:      surplus,
				Requested:    requested,
				Moved:        moved,
			}
			records = append(records, rec)
			f.trace.RecordOverflow(rec)
			logrus.Debugf("[facility %s] overflow %s -> %s/%s: %d of %d", f.name, u.Name(), nf.name, nu.Name(), moved, requested)
			surplus = u.Surplus()
			if surplus == 0 {
				break
			}
		}
		if surplus > 0 {
			logrus.Warnf("[facility %s] unit %s still %d over capacity after overflow pass", f.name, u.Name(), surplus)
		}
	}
	return records
}

// View returns the reporting projection of the facility.
func (f *Facility) View() FacilityView {
	return FacilityView{ID: f.id, Name: f.name, Units: f.Units()}
}

// FacilityView is the read-only projection handed to reporting layers.
type FacilityView struct {
	ID    int
	Name  string
	Units []UnitView
}
