package sim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/carenet-sim/carenet/sim/trace"
)

// TickReport is the network-wide outcome of one Registry tick.
type TickReport struct {
	Tick       int64
	Hour       int
	State      ScenarioState
	Facilities map[int]TickResult // facility id → result
}

// Departures returns the departure map of one facility, or nil.
func (r TickReport) Departures(facilityID int) map[string]int {
	return r.Facilities[facilityID].Departures
}

// Registry owns every facility of a network. It is created by the driver and
// passed to whatever needs it; there is no process-wide facility list.
//
// Structural calls and Tick are serialized by an internal lock so an outer
// layer may read views or edit topology between ticks from other goroutines.
type Registry struct {
	mu sync.RWMutex

	facilities []*Facility
	index      map[int]int // facility id → index into facilities
	nextID     int

	flow        *FlowManager
	rng         *PartitionedRNG
	trace       *trace.SimulationTrace
	parallelism int
}

// NewRegistry creates an empty registry. flow is the default FlowManager for
// facilities created without one. Panics if flow is nil.
func NewRegistry(flow *FlowManager, rng *PartitionedRNG) *Registry {
	if flow == nil {
		panic("NewRegistry: nil FlowManager")
	}
	if rng == nil {
		rng = NewPartitionedRNG(NewSimulationKey(0))
	}
	return &Registry{
		index:  make(map[int]int),
		nextID: 1,
		flow:   flow,
		rng:    rng,
	}
}

// SetTrace attaches a trace recorder to every current and future facility.
func (r *Registry) SetTrace(st *trace.SimulationTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = st
	for _, f := range r.facilities {
		f.SetTrace(st)
	}
}

// SetParallelism bounds flux goroutines for every current and future facility.
func (r *Registry) SetParallelism(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parallelism = n
	for _, f := range r.facilities {
		f.SetParallelism(n)
	}
}

// CreateFacility assigns the next id, builds the facility with build (which
// adds and connects units), and links it both ways with every existing
// facility. A nil flow uses the registry default. Names are unique
// (case-insensitive) since they key the facility's random streams.
func (r *Registry) CreateFacility(name string, flow *FlowManager, build func(*Facility) error) (*Facility, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.facilities {
		if strings.EqualFold(other.Name(), name) {
			return nil, fmt.Errorf("%w: duplicate facility name %q", ErrInvalidConfig, name)
		}
	}
	if flow == nil {
		flow = r.flow
	}
	f := NewFacility(r.nextID, name, flow, r.rng)
	f.SetTrace(r.trace)
	if build != nil {
		if err := build(f); err != nil {
			return nil, fmt.Errorf("building facility %q: %w", name, err)
		}
	}
	f.SetParallelism(r.parallelism)
	r.nextID++

	for _, other := range r.facilities {
		other.AddNeighbor(f)
		f.AddNeighbor(other)
	}
	r.facilities = append(r.facilities, f)
	r.rebuildIndex()
	logrus.Debugf("[registry] created facility %d %q with %d units", f.ID(), f.Name(), len(f.UnitList()))
	return f, nil
}

// DeleteFacility removes the facility and every neighbor link to it.
func (r *Registry) DeleteFacility(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrFacilityNotFound, id)
	}
	gone := r.facilities[idx]
	r.facilities = append(r.facilities[:idx], r.facilities[idx+1:]...)
	for _, f := range r.facilities {
		f.RemoveNeighbor(gone)
	}
	r.rebuildIndex()
	return nil
}

// Reset deletes every facility. Ids keep increasing.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facilities = nil
	r.rebuildIndex()
}

func (r *Registry) rebuildIndex() {
	r.index = make(map[int]int, len(r.facilities))
	for idx, f := range r.facilities {
		r.index[f.ID()] = idx
	}
}

// Facility looks a facility up by id.
func (r *Registry) Facility(id int) (*Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrFacilityNotFound, id)
	}
	return r.facilities[idx], nil
}

// Facilities returns the facilities in creation order.
func (r *Registry) Facilities() []*Facility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Facility, len(r.facilities))
	copy(out, r.facilities)
	return out
}

// Len returns the number of facilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facilities)
}

// SetUnitMaxCapacity changes the bed count of a unit of one facility.
func (r *Registry) SetUnitMaxCapacity(id int, unit string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrFacilityNotFound, id)
	}
	return r.facilities[idx].SetUnitMaxCapacity(unit, n)
}

// Snapshot returns the reporting view of every facility.
func (r *Registry) Snapshot() []FacilityView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]FacilityView, len(r.facilities))
	for idx, f := range r.facilities {
		views[idx] = f.View()
	}
	return views
}

// Tick runs one network tick: one scenario transition, then arrivals and the
// local step of every facility, then every facility's overflow pass, and
// finally advances ctx.
func (r *Registry) Tick(ctx *SimContext, scenario *ArrivalScenario) TickReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := TickReport{
		Tick:       ctx.Tick,
		Hour:       ctx.Hour,
		Facilities: make(map[int]TickResult, len(r.facilities)),
		State:      StateNormal,
	}
	if scenario != nil {
		scenario.Advance(ctx)
		report.State = scenario.State()
	}

	for _, f := range r.facilities {
		if scenario != nil {
			scenario.AssignArrivals(ctx, f.UnitList())
		}
		f.tick = ctx.Tick
		report.Facilities[f.ID()] = TickResult{StepResult: f.Step()}
	}
	for _, f := range r.facilities {
		res := report.Facilities[f.ID()]
		res.Overflows = f.ResolveOverflow()
		report.Facilities[f.ID()] = res
	}

	ctx.Advance()
	return report
}
