// Package telemetry exposes simulation state as Prometheus metrics.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carenet-sim/carenet/sim"
)

// Departure causes used as the "cause" label.
const (
	CauseRecovered = "recovered"
	CauseDied      = "died"
	CauseAbsorbed  = "absorbed"
)

// Transfer kinds used as the "kind" label.
const (
	KindFlux     = "flux"
	KindOverflow = "overflow"
)

// Collector bundles the Prometheus metrics of one simulation run.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks       prometheus.Counter
	EventActive prometheus.Gauge
	SimHour     prometheus.Gauge

	UnitLoad     *prometheus.GaugeVec
	UnitCapacity *prometheus.GaugeVec

	Departures *prometheus.CounterVec
	Lost       *prometheus.CounterVec
	Transfers  *prometheus.CounterVec
}

// NewCollector registers the simulation metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice on the same
// registry returns the already registered collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carenet_ticks_total",
		Help: "Number of completed network ticks.",
	}), "carenet_ticks_total")
	if err != nil {
		return nil, err
	}
	eventActive, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carenet_event_active",
		Help: "1 while a mass-casualty event is in progress, 0 otherwise.",
	}), "carenet_event_active")
	if err != nil {
		return nil, err
	}
	hour, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carenet_sim_hour",
		Help: "Hour of day of the last observed tick.",
	}), "carenet_sim_hour")
	if err != nil {
		return nil, err
	}

	load, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carenet_unit_load",
		Help: "Patients currently held by a unit.",
	}, []string{"facility", "unit"}), "carenet_unit_load")
	if err != nil {
		return nil, err
	}
	capacity, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carenet_unit_capacity",
		Help: "Beds of a unit.",
	}, []string{"facility", "unit"}), "carenet_unit_capacity")
	if err != nil {
		return nil, err
	}

	departures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carenet_departures_total",
		Help: "Patients that left the network, labeled by facility, unit and cause.",
	}, []string{"facility", "unit", "cause"}), "carenet_departures_total")
	if err != nil {
		return nil, err
	}
	lost, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carenet_arrivals_lost_total",
		Help: "External arrivals that could not be placed.",
	}, []string{"facility", "unit"}), "carenet_arrivals_lost_total")
	if err != nil {
		return nil, err
	}
	transfers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carenet_transfers_total",
		Help: "Patients moved between units, labeled by flux or inter-facility overflow.",
	}, []string{"kind"}), "carenet_transfers_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:     gatherer,
		Ticks:        ticks,
		EventActive:  eventActive,
		SimHour:      hour,
		UnitLoad:     load,
		UnitCapacity: capacity,
		Departures:   departures,
		Lost:         lost,
		Transfers:    transfers,
	}, nil
}

// Observe updates every metric from one tick report and the post-tick views.
// A nil Collector ignores the call.
func (c *Collector) Observe(report sim.TickReport, views []sim.FacilityView) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.SimHour.Set(float64(report.Hour))
	if report.State == sim.StateEvent {
		c.EventActive.Set(1)
	} else {
		c.EventActive.Set(0)
	}

	names := make(map[int]string, len(views))
	for _, f := range views {
		names[f.ID] = f.Name
		for _, u := range f.Units {
			c.UnitLoad.WithLabelValues(f.Name, u.Name).Set(float64(u.CurrentLoad))
			c.UnitCapacity.WithLabelValues(f.Name, u.Name).Set(float64(u.MaxCapacity))
		}
	}

	for id, res := range report.Facilities {
		facility, ok := names[id]
		if !ok {
			facility = fmt.Sprintf("facility-%d", id)
		}
		for unit, t := range res.Treatments {
			c.Departures.WithLabelValues(facility, unit, CauseRecovered).Add(float64(t.Recovered))
			c.Departures.WithLabelValues(facility, unit, CauseDied).Add(float64(t.Died))
		}
		for unit, n := range res.Absorbed {
			c.Departures.WithLabelValues(facility, unit, CauseAbsorbed).Add(float64(n))
		}
		for unit, a := range res.Admissions {
			if a.Lost > 0 {
				c.Lost.WithLabelValues(facility, unit).Add(float64(a.Lost))
			}
		}
		for _, t := range res.Transfers {
			c.Transfers.WithLabelValues(KindFlux).Add(float64(t.Moved))
		}
		for _, o := range res.Overflows {
			c.Transfers.WithLabelValues(KindOverflow).Add(float64(o.Moved))
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
