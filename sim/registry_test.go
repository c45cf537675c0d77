package sim

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet-sim/carenet/sim/trace"
)

func erUnit(capacity int) func(*Facility) error {
	return func(f *Facility) error {
		_, err := f.NewUnit(UnitConfig{Name: "Urgences", StaffCapacity: 2, MaxCapacity: capacity, MortalityRate: Rate(0)})
		return err
	}
}

func TestNewRegistry_NilFlowPanics(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(nil, nil) })
}

func TestRegistry_CreateFacility_IdsAndAllToAllLinks(t *testing.T) {
	// GIVEN an empty registry
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), NewPartitionedRNG(NewSimulationKey(1)))

	// WHEN three facilities are created
	a, err := r.CreateFacility("A", nil, erUnit(5))
	require.NoError(t, err)
	b, err := r.CreateFacility("B", nil, erUnit(5))
	require.NoError(t, err)
	c, err := r.CreateFacility("C", mustFlow(t, 2, 1, 1), erUnit(5))
	require.NoError(t, err)

	// THEN ids are sequential and every facility neighbors every other
	assert.Equal(t, []int{1, 2, 3}, []int{a.ID(), b.ID(), c.ID()})
	assert.ElementsMatch(t, []*Facility{b, c}, a.Neighbors())
	assert.ElementsMatch(t, []*Facility{a, c}, b.Neighbors())
	assert.ElementsMatch(t, []*Facility{a, b}, c.Neighbors())
	assert.Same(t, r.flow, a.FlowManager(), "nil flow uses the registry default")
	assert.Equal(t, 2.0, c.FlowManager().GravityCoefficient())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []*Facility{a, b, c}, r.Facilities())
}

func TestRegistry_CreateFacility_BuildErrorLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	boom := errors.New("boom")

	_, err := r.CreateFacility("bad", nil, func(*Facility) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())

	f, err := r.CreateFacility("good", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ID(), "a failed build does not consume an id")
}

func TestRegistry_FacilityLookup(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	a, err := r.CreateFacility("A", nil, nil)
	require.NoError(t, err)

	got, err := r.Facility(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Facility(42)
	assert.ErrorIs(t, err, ErrFacilityNotFound)
}

func TestRegistry_DeleteFacility_UnlinksNeighbors(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	a, _ := r.CreateFacility("A", nil, nil)
	b, _ := r.CreateFacility("B", nil, nil)
	c, _ := r.CreateFacility("C", nil, nil)

	require.NoError(t, r.DeleteFacility(b.ID()))

	assert.Equal(t, []*Facility{c}, a.Neighbors())
	assert.Equal(t, []*Facility{a}, c.Neighbors())
	_, err := r.Facility(b.ID())
	assert.ErrorIs(t, err, ErrFacilityNotFound)
	got, err := r.Facility(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got, "index is rebuilt after removal")
	assert.ErrorIs(t, r.DeleteFacility(b.ID()), ErrFacilityNotFound)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	_, _ = r.CreateFacility("A", nil, nil)
	_, _ = r.CreateFacility("B", nil, nil)

	r.Reset()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())
	f, err := r.CreateFacility("C", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, f.ID(), "ids keep increasing after reset")
	assert.Empty(t, f.Neighbors())
}

func TestRegistry_SetUnitMaxCapacity(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	a, _ := r.CreateFacility("A", nil, erUnit(5))

	require.NoError(t, r.SetUnitMaxCapacity(a.ID(), "urgences", 12))
	assert.Equal(t, 12, r.Snapshot()[0].Units[0].MaxCapacity)
	assert.ErrorIs(t, r.SetUnitMaxCapacity(99, "urgences", 1), ErrFacilityNotFound)
	assert.ErrorIs(t, r.SetUnitMaxCapacity(a.ID(), "ghost", 1), ErrUnitNotFound)
}

func TestRegistry_Tick_AdvancesClockOnceAndReportsEveryFacility(t *testing.T) {
	// GIVEN two facilities and a day scenario
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), NewPartitionedRNG(NewSimulationKey(3)))
	a, _ := r.CreateFacility("A", nil, erUnit(30))
	b, _ := r.CreateFacility("B", nil, erUnit(30))
	s, err := NewArrivalScenario(fixedScenarioConfig(), nil)
	require.NoError(t, err)
	ctx := NewSimContext(12)

	// WHEN the network ticks
	report := r.Tick(ctx, s)

	// THEN both facilities got the day arrivals, the scenario advanced once, the clock once
	assert.Equal(t, int64(0), report.Tick)
	assert.Equal(t, 12, report.Hour)
	assert.Equal(t, StateNormal, report.State)
	require.Len(t, report.Facilities, 2)
	assert.Equal(t, 6, report.Facilities[a.ID()].Admissions["Urgences"].Accepted)
	assert.Equal(t, 6, report.Facilities[b.ID()].Admissions["Urgences"].Accepted)
	assert.Equal(t, map[string]int{"Urgences": 0}, report.Departures(a.ID()))
	assert.Nil(t, report.Departures(99))
	assert.Equal(t, 2, s.TicksUntilNextEvent())
	assert.Equal(t, int64(1), ctx.Tick)
	assert.Equal(t, 13, ctx.Hour)
}

func TestRegistry_Tick_OverflowRunsAfterAllSteps(t *testing.T) {
	// GIVEN A's unit over capacity and B's same-named unit with room
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	a, _ := r.CreateFacility("A", nil, erUnit(10))
	b, _ := r.CreateFacility("B", nil, erUnit(10))
	ua, _ := a.FindUnitByName("Urgences")
	fill(t, ua, PriorityLow, 10, 15)
	require.NoError(t, r.SetUnitMaxCapacity(a.ID(), "Urgences", 7))

	// WHEN the network ticks without a scenario
	report := r.Tick(NewSimContext(0), nil)

	// THEN the surplus moved to B and the move is reported on A
	require.Len(t, report.Facilities[a.ID()].Overflows, 1)
	assert.Equal(t, 3, report.Facilities[a.ID()].Overflows[0].Moved)
	assert.Equal(t, int64(0), report.Facilities[a.ID()].Overflows[0].Tick)
	views := r.Snapshot()
	assert.Equal(t, 7, views[0].Units[0].CurrentLoad)
	assert.Equal(t, 3, views[1].Units[0].CurrentLoad)
	ub, _ := b.FindUnitByName("Urgences")
	assert.Equal(t, 3, ub.CurrentLoad())
}

func TestRegistry_CreateFacility_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	_, err := r.CreateFacility("North", nil, nil)
	require.NoError(t, err)

	_, err = r.CreateFacility("NORTH", nil, nil)

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 1, r.Len())
	f, err := r.CreateFacility("South", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ID(), "a rejected name does not consume an id")
}

func TestRegistry_FacilityCreatedMidRun_RecordsCarryDriverTick(t *testing.T) {
	// GIVEN a network that already ran three ticks
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelMovements})
	r.SetTrace(st)
	a, err := r.CreateFacility("A", nil, erUnit(10))
	require.NoError(t, err)
	ctx := NewSimContext(0)
	for i := 0; i < 3; i++ {
		r.Tick(ctx, nil)
	}

	// AND a new facility whose emergency unit is overfull and drains into a two-bed ward
	b, err := r.CreateFacility("B", nil, func(f *Facility) error {
		if _, err := f.NewUnit(UnitConfig{Name: "Urgences", Altitude: 5, MaxCapacity: 10, MortalityRate: Rate(0)}); err != nil {
			return err
		}
		if _, err := f.NewUnit(UnitConfig{Name: "Ward", MaxCapacity: 2, MortalityRate: Rate(0)}); err != nil {
			return err
		}
		return f.ConnectUnits("Urgences", "Ward")
	})
	require.NoError(t, err)
	ub, _ := b.FindUnitByName("Urgences")
	fill(t, ub, PriorityLow, 10, 15)
	require.NoError(t, r.SetUnitMaxCapacity(b.ID(), "Urgences", 4))

	// WHEN the network ticks once more
	report := r.Tick(ctx, nil)

	// THEN the local transfer and the inter-facility overflow carry the same tick
	require.Len(t, st.Transfers, 1)
	require.Len(t, st.Overflows, 1)
	assert.Equal(t, 2, st.Transfers[0].Moved)
	assert.Equal(t, "A", st.Overflows[0].ToFacility)
	assert.Equal(t, 4, st.Overflows[0].Moved)
	assert.Equal(t, int64(3), report.Tick)
	assert.Equal(t, report.Tick, st.Transfers[0].Tick)
	assert.Equal(t, report.Tick, st.Overflows[0].Tick)
	ua, _ := a.FindUnitByName("Urgences")
	assert.Equal(t, 4, ua.CurrentLoad())
}

func TestRegistry_SetUnitMaxCapacity_ConcurrentDelete(t *testing.T) {
	// GIVEN a facility edited from several goroutines
	r := NewRegistry(mustFlow(t, 1, 0.5, 1), nil)
	a, _ := r.CreateFacility("A", nil, erUnit(5))

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				errs <- r.SetUnitMaxCapacity(a.ID(), "Urgences", 5+i%3)
			}
		}()
	}

	// WHEN the facility is deleted meanwhile
	require.NoError(t, r.DeleteFacility(a.ID()))
	wg.Wait()
	close(errs)

	// THEN every edit either landed before the delete or saw it
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrFacilityNotFound)
		}
	}
	assert.ErrorIs(t, r.SetUnitMaxCapacity(a.ID(), "Urgences", 5), ErrFacilityNotFound)
}
