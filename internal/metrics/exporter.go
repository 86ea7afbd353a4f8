// Package metrics exposes a hand-built Prometheus text-format endpoint,
// avoiding a full client_golang dependency the way the teacher keeps its own
// dependency surface small (SPEC_FULL.md §4.I).
package metrics

import (
	"net/http"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

// Registry accumulates the handful of process-wide counters/gauges the
// proxy reports: active sessions, live worker threads, bytes served, and
// the most recently observed throughput per session.
type Registry struct {
	mu          sync.Mutex
	activeByID  map[string]struct{}
	threadsByID map[string]int32
	rateByID    map[string]float64
	bytesServed uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		activeByID:  make(map[string]struct{}),
		threadsByID: make(map[string]int32),
		rateByID:    make(map[string]float64),
	}
}

// SessionStarted marks a session as active.
func (r *Registry) SessionStarted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeByID[id] = struct{}{}
}

// SessionEnded removes a session's contribution to the gauges.
func (r *Registry) SessionEnded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeByID, id)
	delete(r.threadsByID, id)
	delete(r.rateByID, id)
}

// Observe records a rate-controller sample against a session id, called from
// the same hook the admin hub uses (SPEC_FULL.md §4.E).
func (r *Registry) Observe(id string, sample rangefetch.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadsByID[id] = sample.Threads
	r.rateByID[id] = sample.RateBytesSec
}

// BytesServed adds n to the total bytes-served counter.
func (r *Registry) BytesServed(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesServed += uint64(n)
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: &t,
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: float64Ptr(value)}},
		},
	}
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_COUNTER
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: &t,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: float64Ptr(value)}},
		},
	}
}

func strPtr(s string) *string       { return &s }
func float64Ptr(f float64) *float64 { return &f }

// families snapshots the registry into the MetricFamily messages this
// process reports.
func (r *Registry) families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	var totalThreads int32
	var totalRate float64
	for _, t := range r.threadsByID {
		totalThreads += t
	}
	for _, rate := range r.rateByID {
		totalRate += rate
	}

	return []*dto.MetricFamily{
		gaugeFamily("rangefetch_active_sessions", "Number of in-flight range-fetch sessions.", float64(len(r.activeByID))),
		gaugeFamily("rangefetch_live_workers", "Sum of live worker threads across all sessions.", float64(totalThreads)),
		gaugeFamily("rangefetch_throughput_bytes_per_second", "Sum of the most recently observed per-session throughput.", totalRate),
		counterFamily("rangefetch_bytes_served_total", "Total bytes written to clients since process start.", float64(r.bytesServed)),
	}
}

// Handler serves the registry's current state as Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, fam := range r.families() {
			if err := enc.Encode(fam); err != nil {
				return
			}
		}
	})
}
