// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the Farm/Backend counters of SPEC_FULL §5 as
// Prometheus collectors, labeled by farm and backend name rather than
// by id so operators can graph a farm across restarts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"nlbd/internal/registry"
)

// Collectors bundles the gauges/counters this process exports.
type Collectors struct {
	farmPackets     *prometheus.CounterVec
	farmBytes       *prometheus.CounterVec
	farmEstablished *prometheus.GaugeVec
	backendWeight   *prometheus.GaugeVec
	backendUp       *prometheus.GaugeVec
}

// New registers the collectors against reg and returns the handle whose
// Observe pushes one farm's samples.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		farmPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlbd",
			Subsystem: "farm",
			Name:      "packets_total",
			Help:      "Packets forwarded by this farm, mirrored from the kernel counter.",
		}, []string{"farm"}),
		farmBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlbd",
			Subsystem: "farm",
			Name:      "bytes_total",
			Help:      "Bytes forwarded by this farm, mirrored from the kernel counter.",
		}, []string{"farm"}),
		farmEstablished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nlbd",
			Subsystem: "farm",
			Name:      "established_connections",
			Help:      "Established connections currently tracked for this farm's helper, if any.",
		}, []string{"farm"}),
		backendWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nlbd",
			Subsystem: "backend",
			Name:      "weight",
			Help:      "Configured scheduling weight of this backend.",
		}, []string{"farm", "backend"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nlbd",
			Subsystem: "backend",
			Name:      "up",
			Help:      "1 if the backend is available to serve traffic, 0 otherwise.",
		}, []string{"farm", "backend"}),
	}
	reg.MustRegister(c.farmPackets, c.farmBytes, c.farmEstablished, c.backendWeight, c.backendUp)
	return c
}

// Observe pushes one farm's current counters and its backends' gauges.
// Counters only ever move forward between calls; Add is a no-op for a
// delta of zero, matching Prometheus counter semantics.
func (c *Collectors) Observe(r *registry.Registry, f *registry.Farm, deltaPackets, deltaBytes uint64) {
	c.farmPackets.WithLabelValues(f.Name).Add(float64(deltaPackets))
	c.farmBytes.WithLabelValues(f.Name).Add(float64(deltaBytes))
	c.farmEstablished.WithLabelValues(f.Name).Set(float64(f.Counters.Established))

	for _, bid := range f.Backends {
		b, ok := r.Backend(bid)
		if !ok {
			continue
		}
		c.backendWeight.WithLabelValues(f.Name, b.Name).Set(float64(b.Weight))
		up := 0.0
		if r.Available(b) {
			up = 1.0
		}
		c.backendUp.WithLabelValues(f.Name, b.Name).Set(up)
	}
}
