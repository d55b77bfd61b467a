package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solar_auth"

// Outcome and decision label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeCached  = "cached"

	DecisionAllow     = "allow"
	DecisionRefreshed = "refreshed"
	DecisionReject    = "reject"
	DecisionError     = "error"
)

// Collectors groups the counters of the authentication subsystem.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	Discovery            *prometheus.CounterVec
	StrategiesRegistered prometheus.Counter
	Refresh              *prometheus.CounterVec
	GuardDecisions       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_total",
			Help:      "Identity provider discovery requests by outcome.",
		}, []string{"outcome"}),
		StrategiesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategies_registered_total",
			Help:      "Per-host authentication strategies constructed.",
		}),
		Refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Refresh grants attempted on the request path by outcome.",
		}, []string{"outcome"}),
		GuardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Authorization guard decisions.",
		}, []string{"decision"}),
	}
	if reg != nil {
		reg.MustRegister(c.Discovery, c.StrategiesRegistered, c.Refresh, c.GuardDecisions)
	}
	return c
}

func (c *Collectors) ObserveDiscovery(outcome string) {
	if c == nil {
		return
	}
	c.Discovery.WithLabelValues(outcome).Inc()
}

func (c *Collectors) ObserveStrategyRegistered() {
	if c == nil {
		return
	}
	c.StrategiesRegistered.Inc()
}

func (c *Collectors) ObserveRefresh(outcome string) {
	if c == nil {
		return
	}
	c.Refresh.WithLabelValues(outcome).Inc()
}

func (c *Collectors) ObserveGuard(decision string) {
	if c == nil {
		return
	}
	c.GuardDecisions.WithLabelValues(decision).Inc()
}
