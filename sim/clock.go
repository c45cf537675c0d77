package sim

import "fmt"

// HoursPerDay is the period of the simulation clock.
const HoursPerDay = 24

// Night spans [NightStartHour, 24) and [0, NightEndHour).
const (
	NightStartHour = 22
	NightEndHour   = 7
)

// SimContext carries simulation time. It is owned by the top-level driver,
// passed to whatever needs the hour of day, and advanced once per tick.
type SimContext struct {
	Tick int64 // ticks completed since the run started
	Hour int   // hour of day, 0-23
}

// NewSimContext returns a context starting at the given hour of day.
// Hours outside [0,24) wrap.
func NewSimContext(startHour int) *SimContext {
	return &SimContext{Hour: wrapHour(startHour)}
}

// Advance moves the clock forward one hour.
func (c *SimContext) Advance() {
	c.Tick++
	c.Hour = wrapHour(c.Hour + 1)
}

// IsNight reports whether the current hour falls in the night window.
func (c *SimContext) IsNight() bool {
	return c.Hour >= NightStartHour || c.Hour < NightEndHour
}

func (c *SimContext) String() string {
	return fmt.Sprintf("tick=%d hour=%02d:00", c.Tick, c.Hour)
}

func wrapHour(h int) int {
	h %= HoursPerDay
	if h < 0 {
		h += HoursPerDay
	}
	return h
}
