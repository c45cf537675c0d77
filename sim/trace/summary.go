package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TransferCount     int            // applied transfer records
	PatientsMoved     int            // patients moved by flux transfers
	PatientsBlocked   int            // staged but kept in the source for lack of room
	OverflowMoved     int            // patients moved between facilities
	PatientsLost      int
	EventsStarted     int
	RouteDistribution map[string]int // "from->to" → patients moved
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		RouteDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TransferCount = len(st.Transfers)
	for _, t := range st.Transfers {
		summary.PatientsMoved += t.Moved
		summary.PatientsBlocked += t.Staged - t.Moved
		if t.Moved > 0 {
			summary.RouteDistribution[t.From+"->"+t.To] += t.Moved
		}
	}
	for _, o := range st.Overflows {
		summary.OverflowMoved += o.Moved
	}
	for _, l := range st.Losses {
		summary.PatientsLost += l.Count
	}
	for _, e := range st.Events {
		if e.ToEvent {
			summary.EventsStarted++
		}
	}
	return summary
}
