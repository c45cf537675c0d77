// Package sim provides the discrete-time patient-flow engine for carenet.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - unit.go: Unit state, admission, treatment, absorption and transfer primitives
//   - flow.go: FlowManager, the height-difference flux rule
//   - simulator.go: the four-phase step (admission, treatment, flux transfer, absorption)
//
// Then the network layer:
//   - scenario.go: ArrivalScenario, the normal/event state machine generating arrivals
//   - facility.go: Facility, one FlowSimulator plus inter-facility overflow
//   - registry.go: Registry, the set of facilities and the network tick
//   - network_config.go: YAML network description and Build
//
// # Time and Randomness
//
// SimContext is the only clock. It is created by the driver, passed into every
// call that needs the hour of day, and advanced once per network tick.
// All randomness comes from a PartitionedRNG: the scenario has its own stream
// and every unit has separate admission, mortality, absorption and transfer
// streams, so one seed reproduces a whole run.
//
// # Sub-packages
//   - sim/trace/: movement trace recording and summaries
//   - sim/telemetry/: Prometheus gauges and counters fed from tick reports
//   - sim/history/: SQLite persistence of per-tick unit loads
package sim
