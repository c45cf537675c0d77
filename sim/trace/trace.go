package trace

// TraceLevel controls the verbosity of movement tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelMovements captures transfers, overflows, losses and scenario transitions.
	TraceLevelMovements TraceLevel = "movements"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelMovements: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects movement records during a run.
// A nil *SimulationTrace is valid and records nothing.
type SimulationTrace struct {
	Config    TraceConfig
	Transfers []TransferRecord
	Overflows []OverflowRecord
	Losses    []LossRecord
	Events    []EventRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
// Returns nil for TraceLevelNone so callers can pass the result straight through.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	if config.Level == TraceLevelNone || config.Level == "" {
		return nil
	}
	return &SimulationTrace{
		Config:    config,
		Transfers: make([]TransferRecord, 0),
		Overflows: make([]OverflowRecord, 0),
		Losses:    make([]LossRecord, 0),
		Events:    make([]EventRecord, 0),
	}
}

// RecordTransfer appends a transfer record.
func (st *SimulationTrace) RecordTransfer(record TransferRecord) {
	if st == nil {
		return
	}
	st.Transfers = append(st.Transfers, record)
}

// RecordOverflow appends an inter-facility overflow record.
func (st *SimulationTrace) RecordOverflow(record OverflowRecord) {
	if st == nil {
		return
	}
	st.Overflows = append(st.Overflows, record)
}

// RecordLoss appends a loss record.
func (st *SimulationTrace) RecordLoss(record LossRecord) {
	if st == nil {
		return
	}
	st.Losses = append(st.Losses, record)
}

// RecordEvent appends a scenario transition record.
func (st *SimulationTrace) RecordEvent(record EventRecord) {
	if st == nil {
		return
	}
	st.Events = append(st.Events, record)
}
