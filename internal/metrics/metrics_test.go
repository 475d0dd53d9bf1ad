package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	c := NewCounter("c", "help", nil)
	c.Inc()
	c.Inc()
	assert.Equal(t, uint64(2), c.Value())

	g := NewGauge("g", "help", nil)
	g.Set(9)
	assert.Equal(t, int64(9), g.Value())
	g.SetBool(true)
	assert.Equal(t, int64(1), g.Value())
	g.SetBool(false)
	assert.Equal(t, int64(0), g.Value())
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	r := NewRegistry("", "")
	h := r.RegisterHistogram("h", "help", nil, []float64{1, 5, 0.5})
	h.Observe(0.2)
	h.Observe(1)
	h.Observe(3)
	h.Observe(100)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 26.05, h.Mean(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	// bounds sorted to 0.5, 1, 5
	assert.Contains(t, out, `h_bucket{le="0.5"} 1`)
	assert.Contains(t, out, `h_bucket{le="1"} 2`)
	assert.Contains(t, out, `h_bucket{le="5"} 3`)
	assert.Contains(t, out, `h_bucket{le="+Inf"} 4`)
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("h", "help", nil, nil)
	timer := h.Timer()
	time.Sleep(time.Millisecond)
	d := timer.Stop()
	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, uint64(1), h.Count())
}

func TestRegistryNamesAndDedup(t *testing.T) {
	r := NewRegistry("proctord", "scan")
	c1 := r.RegisterCounter("ticks_total", "ticks", nil)
	c2 := r.RegisterCounter("ticks_total", "ticks", nil)
	assert.Same(t, c1, c2)
	c1.Inc()

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap["proctord_scan_ticks_total"])
	assert.Len(t, snap, 1)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("proctord", "")
	b := r.RegisterCounter("b_total", "B things", Labels{"kind": `web"rtc`})
	b.Inc()
	b.Inc()
	b.Inc()
	r.RegisterCounter("a_total", "A things", nil).Inc()
	r.RegisterGauge("up", "Up", nil).Set(1)
	h := r.RegisterHistogram("lat_seconds", "Latency", Labels{"op": "send"}, []float64{0.1, 1})
	h.Observe(0.05)
	h.Observe(0.5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Less(t, strings.Index(out, "proctord_a_total"), strings.Index(out, "proctord_b_total"))
	assert.Contains(t, out, "# TYPE proctord_a_total counter\nproctord_a_total 1\n")
	assert.Contains(t, out, `proctord_b_total{kind="web\"rtc"} 3`)
	assert.Contains(t, out, "proctord_up 1\n")
	assert.Contains(t, out, `proctord_lat_seconds_bucket{op="send",le="0.1"} 1`)
	assert.Contains(t, out, `proctord_lat_seconds_bucket{op="send",le="1"} 2`)
	assert.Contains(t, out, `proctord_lat_seconds_bucket{op="send",le="+Inf"} 2`)
	assert.Contains(t, out, `proctord_lat_seconds_count{op="send"} 2`)
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("proctord", "")
	r.RegisterCounter("x_total", "X", nil).Inc()

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "proctord_x_total 1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, float64(1), snap["proctord_x_total"])
}

func TestMetricsRecorders(t *testing.T) {
	m := New(nil)

	m.RecordScan()
	m.RecordScanSkippedBusy()
	m.StartRecognition().Done(false)
	d := m.StartRecognition().Done(true)
	m.RecordRecognitionFailure()
	m.RecordOverlay()
	m.RecordSent(time.Millisecond)
	m.RecordDropped()
	m.SetConnected(true)
	m.SetPipelines(2)

	assert.Equal(t, uint64(1), m.ScansTotal.Value())
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, uint64(2), m.RecognitionFailuresTotal.Value())
	assert.Equal(t, uint64(2), m.RecognitionDuration.Count())
	assert.Equal(t, int64(1), m.ChannelConnected.Value())

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap["events_sent"])
	assert.Equal(t, true, snap["channel_connected"])
	assert.Equal(t, int64(2), snap["pipelines_running"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordScan()
		assert.GreaterOrEqual(t, m.StartRecognition().Done(false), time.Duration(0))
		m.RecordRecognitionFailure()
		m.RecordSent(time.Second)
		m.SetQueueDepth(3)
		m.SetConnected(true)
		m.SetOffscreenActive(true)
	})
}
