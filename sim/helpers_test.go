package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestUnit returns a unit with no mortality and no absorption, so tests
// control every departure.
func newTestUnit(t *testing.T, name string, altitude float64, staff, capacity int) *Unit {
	t.Helper()
	u, err := NewUnit(UnitConfig{
		Name:          name,
		Altitude:      altitude,
		StaffCapacity: staff,
		MaxCapacity:   capacity,
		MortalityRate: Rate(0),
	}, UnitRandom{})
	require.NoError(t, err)
	return u
}

// fill adds n patients of one priority with the given remaining treatment time.
func fill(t *testing.T, u *Unit, p Priority, n, timeToTreat int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, u.AddPatient(NewPatient(p, timeToTreat)), "unit %s refused patient %d", u.Name(), i)
	}
}

// overfill puts n patients into u regardless of its capacity, then restores it.
func overfill(t *testing.T, u *Unit, n int) {
	t.Helper()
	capacity := u.MaxCapacity()
	require.NoError(t, u.SetMaxCapacity(u.CurrentLoad()+n))
	fill(t, u, PriorityNormal, n, 10)
	require.NoError(t, u.SetMaxCapacity(capacity))
}

func mustFlow(t *testing.T, gravity, lateral, threshold float64) *FlowManager {
	t.Helper()
	fm, err := NewFlowManager(gravity, lateral, threshold)
	require.NoError(t, err)
	return fm
}
