// Package testutil provides shared test assertions for the carenet engine.
// It is imported by external test packages (package sim_test) that drive
// whole networks through many ticks.
package testutil

import (
	"testing"

	"github.com/carenet-sim/carenet/sim"
)

// Totals accumulates the patient counts needed for conservation checks.
type Totals struct {
	Admitted int
	Departed int
}

// Add folds one tick report into the totals.
func (tt *Totals) Add(report sim.TickReport) {
	for _, res := range report.Facilities {
		for _, a := range res.Admissions {
			tt.Admitted += a.Accepted
		}
		tt.Departed += res.TotalDepartures()
	}
}

// Present sums the load of every unit in views.
func Present(views []sim.FacilityView) int {
	n := 0
	for _, f := range views {
		for _, u := range f.Units {
			n += u.CurrentLoad
		}
	}
	return n
}

// AssertConserved checks admitted = departed + present.
func AssertConserved(t *testing.T, tt Totals, views []sim.FacilityView) {
	t.Helper()
	if got := tt.Departed + Present(views); got != tt.Admitted {
		t.Errorf("conservation: admitted %d, departed %d + present %d = %d",
			tt.Admitted, tt.Departed, Present(views), got)
	}
}

// AssertWithinCapacity checks that no unit holds more patients than beds.
func AssertWithinCapacity(t *testing.T, views []sim.FacilityView) {
	t.Helper()
	for _, f := range views {
		for _, u := range f.Units {
			if u.CurrentLoad > u.MaxCapacity {
				t.Errorf("%s/%s: load %d exceeds capacity %d", f.Name, u.Name, u.CurrentLoad, u.MaxCapacity)
			}
		}
	}
}

// AssertObstaclesEmpty checks that obstacle units never received anyone.
func AssertObstaclesEmpty(t *testing.T, views []sim.FacilityView) {
	t.Helper()
	for _, f := range views {
		for _, u := range f.Units {
			if u.Obstacle && u.CurrentLoad != 0 {
				t.Errorf("%s/%s: obstacle holds %d patients", f.Name, u.Name, u.CurrentLoad)
			}
		}
	}
}
