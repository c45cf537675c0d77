package sim

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/carenet-sim/carenet/sim/trace"
)

// ScenarioState is the arrival regime.
type ScenarioState string

const (
	StateNormal ScenarioState = "normal"
	StateEvent  ScenarioState = "event" // mass-casualty surge
)

// Range is an inclusive integer range.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r Range) validate(what string) error {
	if r.Min < 0 {
		return fmt.Errorf("%w: %s min must be non-negative, got %d", ErrInvalidConfig, what, r.Min)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: %s min %d exceeds max %d", ErrInvalidConfig, what, r.Min, r.Max)
	}
	return nil
}

func (r Range) draw(rng *rand.Rand) int { return randIntRange(rng, r.Min, r.Max) }

// PriorityRanges gives the per-tick arrival count range of each priority.
type PriorityRanges struct {
	Urgent Range `yaml:"urgent"`
	Normal Range `yaml:"normal"`
	Low    Range `yaml:"low"`
}

func (p PriorityRanges) validate(what string) error {
	if err := p.Urgent.validate(what + ".urgent"); err != nil {
		return err
	}
	if err := p.Normal.validate(what + ".normal"); err != nil {
		return err
	}
	return p.Low.validate(what + ".low")
}

// ArrivalPolicy is the arrival profile of one unit name.
type ArrivalPolicy struct {
	Day   PriorityRanges `yaml:"day"`
	Night PriorityRanges `yaml:"night"`
	Event PriorityRanges `yaml:"event"`
}

// ScenarioConfig parameterizes an ArrivalScenario.
type ScenarioConfig struct {
	MinGap      int `yaml:"min_gap"`       // ticks between events, lower bound
	MaxGap      int `yaml:"max_gap"`       // ticks between events, upper bound
	MinEventLen int `yaml:"min_event_len"` // event duration, lower bound
	MaxEventLen int `yaml:"max_event_len"` // event duration, upper bound
	// FirstEventIn pins the first countdown; 0 draws it from [MinGap, MaxGap].
	FirstEventIn int `yaml:"first_event_in,omitempty"`
	// Policies is keyed by unit name, matched case-insensitively.
	// Units without a policy receive no external arrivals.
	Policies map[string]ArrivalPolicy `yaml:"policies"`
}

// DefaultScenarioConfig returns the built-in emergency department profile.
func DefaultScenarioConfig() ScenarioConfig {
	emergency := ArrivalPolicy{
		Day:   PriorityRanges{Urgent: Range{1, 2}, Normal: Range{2, 3}, Low: Range{2, 3}},
		Night: PriorityRanges{Urgent: Range{0, 1}, Normal: Range{0, 2}, Low: Range{0, 1}},
		Event: PriorityRanges{Urgent: Range{3, 6}, Normal: Range{5, 10}, Low: Range{3, 6}},
	}
	return ScenarioConfig{
		MinGap:      12,
		MaxGap:      36,
		MinEventLen: 2,
		MaxEventLen: 6,
		Policies: map[string]ArrivalPolicy{
			"urgences":  emergency,
			"emergency": emergency,
		},
	}
}

// Validate checks bounds and every policy range.
func (c ScenarioConfig) Validate() error {
	if err := (Range{c.MinGap, c.MaxGap}).validate("scenario gap"); err != nil {
		return err
	}
	if c.MinGap < 1 {
		return fmt.Errorf("%w: scenario min_gap must be >= 1, got %d", ErrInvalidConfig, c.MinGap)
	}
	if err := (Range{c.MinEventLen, c.MaxEventLen}).validate("scenario event length"); err != nil {
		return err
	}
	if c.MinEventLen < 1 {
		return fmt.Errorf("%w: scenario min_event_len must be >= 1, got %d", ErrInvalidConfig, c.MinEventLen)
	}
	if c.FirstEventIn < 0 {
		return fmt.Errorf("%w: scenario first_event_in must be non-negative, got %d", ErrInvalidConfig, c.FirstEventIn)
	}
	for name, p := range c.Policies {
		for what, r := range map[string]PriorityRanges{"day": p.Day, "night": p.Night, "event": p.Event} {
			if err := r.validate(fmt.Sprintf("policy %q %s", name, what)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ArrivalScenario generates external arrivals per unit per tick. It is a
// two-state machine (normal / event) with randomized dwell times, so it must
// be created once and reused for the whole run.
type ArrivalScenario struct {
	cfg      ScenarioConfig
	policies map[string]ArrivalPolicy

	inEvent             bool
	eventRemaining      int
	ticksUntilNextEvent int

	rng   *rand.Rand
	trace *trace.SimulationTrace
}

// NewArrivalScenario validates cfg and starts in the normal state.
func NewArrivalScenario(cfg ScenarioConfig, rng *rand.Rand) (*ArrivalScenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = NewPartitionedRNG(NewSimulationKey(0)).ForSubsystem(SubsystemScenario)
	}
	policies := make(map[string]ArrivalPolicy, len(cfg.Policies))
	for name, p := range cfg.Policies {
		policies[strings.ToLower(name)] = p
	}
	s := &ArrivalScenario{cfg: cfg, policies: policies, rng: rng}
	s.ticksUntilNextEvent = cfg.FirstEventIn
	if s.ticksUntilNextEvent == 0 {
		s.ticksUntilNextEvent = randIntRange(rng, cfg.MinGap, cfg.MaxGap)
	}
	return s, nil
}

// SetTrace attaches a trace recorder for state transitions.
func (s *ArrivalScenario) SetTrace(st *trace.SimulationTrace) { s.trace = st }

// State returns the current regime.
func (s *ArrivalScenario) State() ScenarioState {
	if s.inEvent {
		return StateEvent
	}
	return StateNormal
}

// InEvent reports whether a mass-casualty event is in progress.
func (s *ArrivalScenario) InEvent() bool { return s.inEvent }

// EventRemaining is the number of Advance calls left in the current event.
func (s *ArrivalScenario) EventRemaining() int { return s.eventRemaining }

// TicksUntilNextEvent is the number of Advance calls left before the next event.
func (s *ArrivalScenario) TicksUntilNextEvent() int { return s.ticksUntilNextEvent }

// Advance applies one transition step of the state machine.
func (s *ArrivalScenario) Advance(ctx *SimContext) {
	if s.inEvent {
		s.eventRemaining--
		if s.eventRemaining <= 0 {
			s.inEvent = false
			s.eventRemaining = 0
			s.ticksUntilNextEvent = randIntRange(s.rng, s.cfg.MinGap, s.cfg.MaxGap)
			logrus.Infof("[%s] mass-casualty event over; next in %d ticks", ctx, s.ticksUntilNextEvent)
			s.trace.RecordEvent(trace.EventRecord{Tick: ctx.Tick, Hour: ctx.Hour, ToEvent: false, Duration: s.ticksUntilNextEvent})
		}
		return
	}

	s.ticksUntilNextEvent--
	if s.ticksUntilNextEvent <= 0 {
		s.inEvent = true
		s.ticksUntilNextEvent = 0
		s.eventRemaining = randIntRange(s.rng, s.cfg.MinEventLen, s.cfg.MaxEventLen)
		logrus.Infof("[%s] mass-casualty event started for %d ticks", ctx, s.eventRemaining)
		s.trace.RecordEvent(trace.EventRecord{Tick: ctx.Tick, Hour: ctx.Hour, ToEvent: true, Duration: s.eventRemaining})
	}
}

// AssignArrivals draws this tick's arrival counts for each unit from its
// policy and current regime and stores them as the unit's pending arrivals.
func (s *ArrivalScenario) AssignArrivals(ctx *SimContext, units []*Unit) {
	for _, u := range units {
		policy, ok := s.policies[strings.ToLower(u.Name())]
		if !ok {
			u.SetPendingArrivals(0, 0, 0)
			continue
		}
		ranges := policy.Day
		switch {
		case s.inEvent:
			ranges = policy.Event
		case ctx.IsNight():
			ranges = policy.Night
		}
		u.SetPendingArrivals(ranges.Urgent.draw(s.rng), ranges.Normal.draw(s.rng), ranges.Low.draw(s.rng))
	}
}

// UpdateArrivals advances the state machine once, then assigns arrivals.
func (s *ArrivalScenario) UpdateArrivals(ctx *SimContext, units []*Unit) {
	s.Advance(ctx)
	s.AssignArrivals(ctx, units)
}
