package sim

import (
	"fmt"
	"math/rand"
)

// Priority is the triage class of a patient. Lower values are more urgent,
// so sorting ascending puts PriorityUrgent first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityNormal
	PriorityLow
)

// Priorities lists every class from most to least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// DefaultMinStayInUnit is the number of served ticks before a patient is
// considered eligible for transfer.
const DefaultMinStayInUnit = 2

// dischargedSentinel marks a patient forced out by the mortality draw.
const dischargedSentinel = -999

// treatmentRange is the inclusive time-to-treat range per priority.
var treatmentRange = map[Priority][2]int{
	PriorityUrgent: {3, 5},
	PriorityNormal: {5, 10},
	PriorityLow:    {8, 15},
}

// Patient is one admitted individual. A Patient is held by exactly one Unit.
type Patient struct {
	Priority                   Priority
	TimeToTreat                int // ticks of treatment left; <= 0 means discharge
	TimeSpentInService         int
	TimeBeforeEligibleTransfer int
	MinStayInUnit              int
}

// NewPatient creates a patient with the given remaining treatment time.
func NewPatient(priority Priority, timeToTreat int) *Patient {
	return &Patient{
		Priority:                   priority,
		TimeToTreat:                timeToTreat,
		TimeBeforeEligibleTransfer: DefaultMinStayInUnit,
		MinStayInUnit:              DefaultMinStayInUnit,
	}
}

// newRandomPatient draws a treatment time from the priority's range.
func newRandomPatient(priority Priority, rng *rand.Rand) *Patient {
	r := treatmentRange[priority]
	return NewPatient(priority, randIntRange(rng, r[0], r[1]))
}

// serveOneTick applies one tick of treatment.
func (p *Patient) serveOneTick() {
	if p.TimeToTreat > 0 {
		p.TimeToTreat--
	}
	p.TimeSpentInService++
	if p.TimeBeforeEligibleTransfer > 0 {
		p.TimeBeforeEligibleTransfer--
	}
}

// EligibleForTransfer reports whether the minimum stay has been served.
func (p *Patient) EligibleForTransfer() bool {
	return p.TimeBeforeEligibleTransfer == 0
}

// Done reports whether the patient leaves the unit at the end of treatment.
func (p *Patient) Done() bool {
	return p.TimeToTreat <= 0
}

func (p *Patient) String() string {
	return fmt.Sprintf("Patient{%s ttt=%d served=%d}", p.Priority, p.TimeToTreat, p.TimeSpentInService)
}
