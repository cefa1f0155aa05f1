// Package metrics holds the daemon's Prometheus collectors and the HTTP
// component that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "linkd"

var (
	ConfigurePasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "configure_passes_total",
		Help:      "Configuration passes by result.",
	}, []string{"result"})

	InterfacesConfigured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interfaces_configured_total",
		Help:      "Interfaces that reached CONFIGURED.",
	}, []string{"interface", "type"})

	FailoverReclaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failover_reclaims_total",
		Help:      "Segments reclaimed after the incumbent router went away.",
	}, []string{"interface"})

	ARPAnnouncements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_announcements_total",
		Help:      "Gratuitous ARP frames sent.",
	}, []string{"interface"})

	ControlCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_commands_total",
		Help:      "Commands received on the control socket.",
	}, []string{"command"})

	DependencyWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dependency_wait_seconds",
		Help:      "Time an interface waited for its dependencies.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"interface"})
)

// Registry is private so the daemon exports only its own series plus the
// Go runtime and process collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ConfigurePasses,
		InterfacesConfigured,
		FailoverReclaims,
		ARPAnnouncements,
		ControlCommands,
		DependencyWait,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
