// sim/simulator.go
package sim

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/carenet-sim/carenet/sim/trace"
)

// StepResult is what one FlowSimulator step produced.
type StepResult struct {
	// Departures maps unit name to patients that left the system this step
	// (treatment discharges + absorption). Transfers are not departures.
	Departures map[string]int
	Admissions map[string]AdmissionOutcome
	Treatments map[string]TreatmentOutcome
	Absorbed   map[string]int
	Transfers  []trace.TransferRecord
}

func newStepResult(n int) StepResult {
	return StepResult{
		Departures: make(map[string]int, n),
		Admissions: make(map[string]AdmissionOutcome, n),
		Treatments: make(map[string]TreatmentOutcome, n),
		Absorbed:   make(map[string]int, n),
	}
}

// TotalDepartures sums Departures over all units.
func (r StepResult) TotalDepartures() int {
	total := 0
	for _, n := range r.Departures {
		total += n
	}
	return total
}

// TotalLost sums lost arrivals over all units.
func (r StepResult) TotalLost() int {
	total := 0
	for _, a := range r.Admissions {
		total += a.Lost
	}
	return total
}

// FlowSimulator runs one discrete step over a set of units sharing one FlowManager.
//
// A step has four phases, each finished before the next one reads anything:
//  1. admission of pending external arrivals
//  2. treatment (staff-limited, Urgent first) and discharge
//  3. flux computation and proportional transfer, least urgent patients first
//  4. absorption (random natural discharge)
type FlowSimulator struct {
	units []*Unit
	flow  *FlowManager

	// Parallelism bounds the goroutines computing flux in phase 3.
	// Values <= 1 compute serially. Transfers are always applied serially.
	Parallelism int

	facility string
	trace    *trace.SimulationTrace
	steps    int64
}

// NewFlowSimulator binds units to a FlowManager. Panics if flow is nil.
func NewFlowSimulator(units []*Unit, flow *FlowManager) *FlowSimulator {
	if flow == nil {
		panic("NewFlowSimulator: nil FlowManager")
	}
	return &FlowSimulator{units: units, flow: flow}
}

// SetTrace attaches a trace recorder; records are labeled with facility.
func (s *FlowSimulator) SetTrace(facility string, st *trace.SimulationTrace) {
	s.facility = facility
	s.trace = st
}

// Units returns the simulated units.
func (s *FlowSimulator) Units() []*Unit { return s.units }

// FlowManager returns the shared flux calculator.
func (s *FlowSimulator) FlowManager() *FlowManager { return s.flow }

// Steps returns the number of completed steps.
func (s *FlowSimulator) Steps() int64 { return s.steps }

// SetStep positions the step counter. Records of the next step are stamped
// with n, so a driver keeps them aligned with its own tick.
func (s *FlowSimulator) SetStep(n int64) { s.steps = n }

// SimulateOneStep runs admission, treatment, flux transfer and absorption.
func (s *FlowSimulator) SimulateOneStep() StepResult {
	res := newStepResult(len(s.units))
	step := s.steps

	// 1) external arrivals
	for _, u := range s.units {
		adm := u.AcceptExternalArrivals()
		res.Admissions[u.Name()] = adm
		res.Departures[u.Name()] = 0
		if adm.Lost > 0 {
			s.trace.RecordLoss(trace.LossRecord{Tick: s.steps, Facility: s.facility, Unit: u.Name(), Count: adm.Lost})
		}
	}

	// 2) treatment
	for _, u := range s.units {
		out := u.TreatPatientsOneStep()
		res.Treatments[u.Name()] = out
		res.Departures[u.Name()] += out.Discharged()
	}

	// 3) flux and transfer
	res.Transfers = s.applyTransfers(s.stageTransfers(s.computeFluxRows()))

	// 4) absorption
	for _, u := range s.units {
		n := u.ApplyAbsorption()
		res.Absorbed[u.Name()] = n
		res.Departures[u.Name()] += n
	}

	s.steps++
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		for _, u := range s.units {
			logrus.Debugf("[step %05d] %s", step, u)
		}
	}
	return res
}

// fluxRow holds the strictly positive outgoing fluxes of one unit.
type fluxRow struct {
	targets []*Unit
	flux    []float64
	total   float64
}

// computeFluxRows reads every unit's height once, before any transfer.
func (s *FlowSimulator) computeFluxRows() []fluxRow {
	rows := make([]fluxRow, len(s.units))
	if s.Parallelism <= 1 {
		for idx, u := range s.units {
			rows[idx] = s.fluxRowFor(u)
		}
		return rows
	}

	var g errgroup.Group
	g.SetLimit(s.Parallelism)
	for idx, u := range s.units {
		g.Go(func() error {
			rows[idx] = s.fluxRowFor(u)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func (s *FlowSimulator) fluxRowFor(i *Unit) fluxRow {
	var row fluxRow
	if i.IsObstacle() || i.CurrentLoad() == 0 {
		return row
	}
	for _, j := range i.Neighbors() {
		if f := s.flow.ComputeFlux(i, j); f > 0 {
			row.targets = append(row.targets, j)
			row.flux = append(row.flux, f)
			row.total += f
		}
	}
	return row
}

type stagedTransfer struct {
	from     *Unit
	to       *Unit
	flux     float64
	patients []*Patient
}

// stageTransfers splits each donor's population across its positive-flux
// neighbors: share_j = floor(total * flux_j / sum(flux)). Patients are taken
// Low first so Urgent patients are the last to be displaced, and no patient
// is staged twice.
func (s *FlowSimulator) stageTransfers(rows []fluxRow) []stagedTransfer {
	var staged []stagedTransfer
	for idx, i := range s.units {
		row := rows[idx]
		if row.total <= 0 {
			continue
		}
		sorted := i.Patients()
		sort.SliceStable(sorted, func(a, b int) bool {
			return sorted[a].Priority > sorted[b].Priority
		})
		total := len(sorted)
		cursor := 0
		for k, j := range row.targets {
			share := int(math.Floor(float64(total) * row.flux[k] / row.total))
			share = min(share, total-cursor)
			if share <= 0 {
				continue
			}
			staged = append(staged, stagedTransfer{
				from:     i,
				to:       j,
				flux:     row.flux[k],
				patients: sorted[cursor : cursor+share],
			})
			cursor += share
		}
	}
	return staged
}

// applyTransfers moves each staged batch up to the destination's free room.
// Patients that do not fit stay where they are this step.
func (s *FlowSimulator) applyTransfers(staged []stagedTransfer) []trace.TransferRecord {
	records := make([]trace.TransferRecord, 0, len(staged))
	for _, st := range staged {
		moved := st.from.takePatients(st.to, st.patients)
		rec := trace.TransferRecord{
			Tick:       s.steps,
			Facility:   s.facility,
			From:       st.from.Name(),
			To:         st.to.Name(),
			Flux:       st.flux,
			Staged:     len(st.patients),
			Moved:      len(moved),
			ByPriority: make(map[string]int),
		}
		for _, p := range moved {
			rec.ByPriority[p.Priority.String()]++
		}
		if rec.Moved < rec.Staged {
			logrus.Debugf("[step %05d] %s->%s: %d of %d staged patients kept in source (destination full)",
				s.steps, rec.From, rec.To, rec.Staged-rec.Moved, rec.Staged)
		}
		records = append(records, rec)
		s.trace.RecordTransfer(rec)
	}
	return records
}
