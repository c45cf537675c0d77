// Package trace provides movement-trace recording for post-run flow analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// TransferRecord captures one applied flux transfer between two units of
// the same facility during phase 3 of a step.
type TransferRecord struct {
	Tick       int64
	Facility   string
	From       string
	To         string
	Flux       float64        // flux(from→to) at phase start
	Staged     int            // patients selected by the proportional split
	Moved      int            // patients actually moved (bounded by destination room)
	ByPriority map[string]int // moved patients per priority name
}

// OverflowRecord captures one inter-facility surplus transfer.
type OverflowRecord struct {
	Tick         int64
	FromFacility string
	ToFacility   string
	Unit         string
	Surplus      int // surplus before this transfer
	Requested    int // min(surplus, room at destination)
	Moved        int
}

// LossRecord captures arrivals that could not be placed anywhere.
type LossRecord struct {
	Tick     int64
	Facility string
	Unit     string
	Count    int
}

// EventRecord captures a scenario state transition.
type EventRecord struct {
	Tick     int64
	Hour     int
	ToEvent  bool // true: NORMAL → EVENT, false: EVENT → NORMAL
	Duration int  // drawn event length or gap until the next event
}
