// Package metrics exposes the driver's run-time counters as Prometheus
// metrics, grounded in containerd-nydus-snapshotter's
// pkg/metrics/data and pkg/metrics/registry packages: a small set of
// Counters owned by one Recorder, registered against a private
// registry rather than the global default one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder owns every metric the driver updates during a run.
type Recorder struct {
	Registry *prometheus.Registry

	FaultsObserved prometheus.Counter
	TrapsArmed     prometheus.Counter
	TrapsDisarmed  prometheus.Counter
	CallbacksFired prometheus.Counter
}

// NewRecorder builds a Recorder with its own registry so a driver run
// never collides with metrics registered by an embedding program.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		Registry: reg,
		FaultsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qdbp",
			Name:      "faults_observed_total",
			Help:      "Number of fault-signal stops the driver has handled.",
		}),
		TrapsArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qdbp",
			Name:      "traps_armed_total",
			Help:      "Number of successful SetTrap calls observed.",
		}),
		TrapsDisarmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qdbp",
			Name:      "traps_disarmed_total",
			Help:      "Number of successful DelTrap calls observed.",
		}),
		CallbacksFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qdbp",
			Name:      "callbacks_fired_total",
			Help:      "Number of trap callbacks the tracee has run.",
		}),
	}

	reg.MustRegister(r.FaultsObserved, r.TrapsArmed, r.TrapsDisarmed, r.CallbacksFired)
	return r
}
