/*
This file is part of btrbak.

Btrbak is free software: you can redistribute it and/or modify it under the terms of the
GNU Lesser General Public License as published by the Free Software Foundation, either
version 3 of the License, or (at your option) any later version.

Btrbak is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
See the GNU Lesser General Public License for more details.

You should have received a copy of the GNU Lesser General Public License along with btrbak.
If not, see <https://www.gnu.org/licenses/>.
*/

// Package metrics instruments coordinator runs with Prometheus collectors.
// The coordinator depends only on the Recorder interface so metrics remain
// entirely optional without conditionals scattered through the run logic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder observes the events of a coordinator run. NoOp satisfies it when
// metrics are disabled.
type Recorder interface {
	TransferCompleted(destination string, ok bool)
	SnapshotCreated()
	SnapshotDeleted(endpointKey string)
	RunFinished(d time.Duration)
}

// NoOp is a Recorder that discards every observation.
type NoOp struct{}

func (NoOp) TransferCompleted(string, bool)    {}
func (NoOp) SnapshotCreated()                  {}
func (NoOp) SnapshotDeleted(string)             {}
func (NoOp) RunFinished(time.Duration)         {}

// Prometheus is a Recorder backed by client_golang collectors, registered
// against a private registry so multiple runs in one process (under
// --schedule) don't panic on duplicate registration.
type Prometheus struct {
	registry *prometheus.Registry

	transfers        *prometheus.CounterVec
	snapshotsCreated prometheus.Counter
	snapshotsDeleted *prometheus.CounterVec
	runDuration      prometheus.Histogram
}

// NewPrometheus builds a Prometheus recorder with its own registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		transfers: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btrbak_transfers_total",
			Help: "Total number of snapshot transfers attempted, labeled by destination and result.",
		}, []string{"destination", "result"}),
		snapshotsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "btrbak_snapshots_created_total",
			Help: "Total number of source snapshots created.",
		}),
		snapshotsDeleted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btrbak_snapshots_deleted_total",
			Help: "Total number of snapshots deleted, labeled by owning endpoint.",
		}, []string{"endpoint"}),
		runDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "btrbak_run_duration_seconds",
			Help:    "Wall-clock duration of a complete coordinator run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	return p
}

func (p *Prometheus) TransferCompleted(destination string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	p.transfers.WithLabelValues(destination, result).Inc()
}

func (p *Prometheus) SnapshotCreated() { p.snapshotsCreated.Inc() }

func (p *Prometheus) SnapshotDeleted(endpointKey string) {
	p.snapshotsDeleted.WithLabelValues(endpointKey).Inc()
}

func (p *Prometheus) RunFinished(d time.Duration) { p.runDuration.Observe(d.Seconds()) }

// Serve starts an HTTP server exposing this recorder's registry at addr,
// blocking until the server stops with an error. Intended to be run in
// its own goroutine by the caller.
func (p *Prometheus) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
