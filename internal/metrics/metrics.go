// Package metrics provides Prometheus-compatible metrics for proctord.
//
// The registry is dependency-free: counters and gauges are atomics,
// histograms hold cumulative bucket counts, and the registry renders the
// Prometheus text exposition format or JSON for the local status endpoint.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are constant labels attached to one metric.
type Labels map[string]string

// String renders labels in exposition format with keys sorted.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `%s="%s"`, k, escapeLabel(l[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// with returns the label set rendered with one extra pair appended, for
// histogram bucket lines.
func (l Labels) with(key, value string) string {
	s := l.String()
	pair := fmt.Sprintf(`%s="%s"`, key, value)
	if s == "" {
		return "{" + pair + "}"
	}
	return s[:len(s)-1] + "," + pair + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

// collector is one registered metric.
type collector interface {
	expose(b *strings.Builder)
	sample(into map[string]any)
}

type desc struct {
	name   string
	help   string
	labels Labels
}

func (d desc) header(b *strings.Builder, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, kind)
}

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Uint64
}

// NewCounter creates an unregistered counter.
func NewCounter(name, help string, labels Labels) *Counter {
	return &Counter{desc: desc{name, help, labels}}
}

// Inc adds one.
func (c *Counter) Inc() { c.value.Add(1) }

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) expose(b *strings.Builder) {
	c.header(b, "counter")
	fmt.Fprintf(b, "%s%s %d\n", c.name, c.labels, c.Value())
}

func (c *Counter) sample(into map[string]any) { into[c.name] = c.Value() }

// Gauge holds a value that is set, not accumulated.
type Gauge struct {
	desc
	value atomic.Int64
}

// NewGauge creates an unregistered gauge.
func NewGauge(name, help string, labels Labels) *Gauge {
	return &Gauge{desc: desc{name, help, labels}}
}

// Set stores v.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// SetBool stores 1 for true and 0 for false.
func (g *Gauge) SetBool(v bool) {
	var n int64
	if v {
		n = 1
	}
	g.value.Store(n)
}

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) expose(b *strings.Builder) {
	g.header(b, "gauge")
	fmt.Fprintf(b, "%s%s %d\n", g.name, g.labels, g.Value())
}

func (g *Gauge) sample(into map[string]any) { into[g.name] = g.Value() }

// Histogram tracks the distribution of values. counts[i] is cumulative:
// the number of observations <= bounds[i]; the last slot is +Inf.
type Histogram struct {
	desc
	bounds []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

// DurationBuckets suit channel writes and other sub-minute operations.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// RecognitionBuckets cover OCR runs, which take hundreds of milliseconds
// to tens of seconds.
var RecognitionBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120,
}

// NewHistogram creates an unregistered histogram. Bounds are sorted;
// nil selects DurationBuckets.
func NewHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DurationBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		desc:   desc{name, help, labels},
		bounds: sorted,
		counts: make([]uint64, len(sorted)+1),
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i := sort.SearchFloat64s(h.bounds, v); i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Timer starts timing one observation.
func (h *Histogram) Timer() *HistogramTimer {
	return &HistogramTimer{histogram: h, start: time.Now()}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the mean observation, or 0 before the first one.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

func (h *Histogram) expose(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.header(b, "histogram")
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, h.labels.with("le", fmt.Sprintf("%g", bound)), h.counts[i])
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), h.counts[len(h.bounds)])
	fmt.Fprintf(b, "%s_sum%s %g\n", h.name, h.labels, h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", h.name, h.labels, h.count)
}

func (h *Histogram) sample(into map[string]any) {
	into[h.name+"_count"] = h.Count()
	into[h.name+"_mean"] = h.Mean()
}

// HistogramTimer measures one duration into a histogram.
type HistogramTimer struct {
	histogram *Histogram
	start     time.Time
}

// Stop records the elapsed time and returns it.
func (t *HistogramTimer) Stop() time.Duration {
	d := time.Since(t.start)
	t.histogram.ObserveDuration(d)
	return d
}

// Registry owns a set of metrics sharing a name prefix.
type Registry struct {
	prefix string

	mu      sync.RWMutex
	metrics map[string]collector
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace and subsystem, each joined by an underscore when set.
func NewRegistry(namespace, subsystem string) *Registry {
	var prefix string
	for _, p := range []string{namespace, subsystem} {
		if p != "" {
			prefix += p + "_"
		}
	}
	return &Registry{prefix: prefix, metrics: make(map[string]collector)}
}

// register returns the metric already registered under name when its
// type matches, or stores the one built by mk.
func register[T collector](r *Registry, name string, mk func(full string) T) T {
	full := r.prefix + name

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.metrics[full].(T); ok {
		return existing
	}
	m := mk(full)
	r.metrics[full] = m
	return m
}

// RegisterCounter registers a counter, returning the existing one if the
// name is already taken.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, name, func(full string) *Counter { return NewCounter(full, help, labels) })
}

// RegisterGauge registers a gauge.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, name, func(full string) *Gauge { return NewGauge(full, help, labels) })
}

// RegisterHistogram registers a histogram.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, name, func(full string) *Histogram { return NewHistogram(full, help, labels, bounds) })
}

// WritePrometheus writes every metric in text exposition format, sorted
// by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		r.metrics[name].expose(&b)
	}
	r.mu.RUnlock()

	_, err := io.WriteString(w, b.String())
	return err
}

// Snapshot returns current values keyed by full metric name.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]any, len(r.metrics))
	for _, m := range r.metrics {
		m.sample(snap)
	}
	return snap
}

// HTTPHandler serves Prometheus text, or indented JSON when the client
// asks for it.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}
