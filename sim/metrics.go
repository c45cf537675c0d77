package sim

import (
	"fmt"
	"sort"
)

// Metrics aggregates statistics about the simulation
// for final reporting. Useful for evaluating network behavior
// and debugging saturation over time.
type Metrics struct {
	Ticks      int64 // Number of ticks observed
	EventTicks int64 // Ticks spent in a mass-casualty event

	Admitted      int // Arrivals placed somewhere
	Overflowed    int // Arrivals placed at a neighbor unit
	Lost          int // Arrivals that could not be placed
	Treated       int // Patient-ticks of staff time
	Recovered     int // Discharged after completed treatment
	Died          int // Discharged through the mortality draw
	Absorbed      int // Natural discharges
	Transferred   int // Patients moved by flux between units
	InterFacility int // Patients moved between facilities

	PeakLoad  map[string]int // "facility/unit" → max observed load
	FinalLoad map[string]int // "facility/unit" → load after the last tick
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PeakLoad:  make(map[string]int),
		FinalLoad: make(map[string]int),
	}
}

// Observe folds one tick report and the post-tick views into the totals.
func (m *Metrics) Observe(report TickReport, views []FacilityView) {
	m.Ticks++
	if report.State == StateEvent {
		m.EventTicks++
	}
	for _, res := range report.Facilities {
		for _, a := range res.Admissions {
			m.Admitted += a.Accepted
			m.Overflowed += a.Overflowed
			m.Lost += a.Lost
		}
		for _, t := range res.Treatments {
			m.Treated += t.Treated
			m.Recovered += t.Recovered
			m.Died += t.Died
		}
		for _, n := range res.Absorbed {
			m.Absorbed += n
		}
		for _, t := range res.Transfers {
			m.Transferred += t.Moved
		}
		for _, o := range res.Overflows {
			m.InterFacility += o.Moved
		}
	}
	for _, f := range views {
		for _, u := range f.Units {
			key := f.Name + "/" + u.Name
			m.FinalLoad[key] = u.CurrentLoad
			if u.CurrentLoad > m.PeakLoad[key] {
				m.PeakLoad[key] = u.CurrentLoad
			}
		}
	}
}

// Departures is the number of patients that left the network.
func (m *Metrics) Departures() int { return m.Recovered + m.Died + m.Absorbed }

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print() {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Ticks                : %d (%d in event)\n", m.Ticks, m.EventTicks)
	fmt.Printf("Admitted             : %d (%d via neighbor overflow)\n", m.Admitted, m.Overflowed)
	fmt.Printf("Lost                 : %d\n", m.Lost)
	fmt.Printf("Recovered            : %d\n", m.Recovered)
	fmt.Printf("Died                 : %d\n", m.Died)
	fmt.Printf("Absorbed             : %d\n", m.Absorbed)
	fmt.Printf("Flux transfers       : %d\n", m.Transferred)
	fmt.Printf("Inter-facility moves : %d\n", m.InterFacility)
	if m.Ticks > 0 {
		fmt.Printf("Departures per tick  : %.2f\n", float64(m.Departures())/float64(m.Ticks))
	}

	keys := make([]string, 0, len(m.FinalLoad))
	for k := range m.FinalLoad {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s load=%d peak=%d\n", k, m.FinalLoad[k], m.PeakLoad[k])
	}
}
