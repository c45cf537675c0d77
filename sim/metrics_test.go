package sim

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carenet-sim/carenet/sim/trace"
)

func TestMetrics_Observe(t *testing.T) {
	// GIVEN one event tick with every kind of movement
	m := NewMetrics()
	report := TickReport{
		State: StateEvent,
		Facilities: map[int]TickResult{
			1: {
				StepResult: StepResult{
					Admissions: map[string]AdmissionOutcome{"ER": {Accepted: 5, Overflowed: 1, Lost: 2}},
					Treatments: map[string]TreatmentOutcome{"ER": {Treated: 4, Recovered: 2, Died: 1}},
					Absorbed:   map[string]int{"ER": 1},
					Transfers:  []trace.TransferRecord{{Moved: 3}},
				},
				Overflows: []trace.OverflowRecord{{Moved: 2}},
			},
		},
	}
	views := []FacilityView{{ID: 1, Name: "A", Units: []UnitView{{Name: "ER", CurrentLoad: 6}}}}

	// WHEN observed twice, the second time with a lower load
	m.Observe(report, views)
	views[0].Units[0].CurrentLoad = 4
	m.Observe(report, views)

	// THEN counters double and peak keeps the maximum
	assert.Equal(t, int64(2), m.Ticks)
	assert.Equal(t, int64(2), m.EventTicks)
	assert.Equal(t, 10, m.Admitted)
	assert.Equal(t, 2, m.Overflowed)
	assert.Equal(t, 4, m.Lost)
	assert.Equal(t, 8, m.Treated)
	assert.Equal(t, 4, m.Recovered)
	assert.Equal(t, 2, m.Died)
	assert.Equal(t, 2, m.Absorbed)
	assert.Equal(t, 6, m.Transferred)
	assert.Equal(t, 4, m.InterFacility)
	assert.Equal(t, 8, m.Departures())
	assert.Equal(t, 6, m.PeakLoad["A/ER"])
	assert.Equal(t, 4, m.FinalLoad["A/ER"])
}

func TestMetrics_Print(t *testing.T) {
	m := NewMetrics()
	m.Ticks = 4
	m.Recovered = 8
	m.FinalLoad["A/ER"] = 3
	m.PeakLoad["A/ER"] = 9

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	m.Print()

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	assert.Contains(t, output, "=== Simulation Metrics ===")
	assert.Contains(t, output, "Departures per tick  : 2.00")
	assert.Contains(t, output, "A/ER")
	assert.Contains(t, output, "load=3 peak=9")
}
