package metrics

import "time"

// Metrics holds the proctord pipeline metrics.
type Metrics struct {
	started time.Time

	// Scan pipeline
	ScansTotal               *Counter
	ScansSkippedBusyTotal    *Counter
	ScansNotReadyTotal       *Counter
	CaptureFailuresTotal     *Counter
	RecognitionFailuresTotal *Counter
	OverlayDetectionsTotal   *Counter
	RecognitionDuration      *Histogram

	// Gaze pipeline
	GazeSamplesTotal    *Counter
	GazeOffscreenTotal  *Counter
	GazeOffscreenActive *Gauge

	// Reporter and channel
	EventsReportedTotal *Counter
	EventsSentTotal     *Counter
	EventsDroppedTotal  *Counter
	SendFailuresTotal   *Counter
	JournalErrorsTotal  *Counter
	ReconnectsTotal     *Counter
	QueueDepth          *Gauge
	ChannelConnected    *Gauge
	SendDuration        *Histogram

	// Process
	PipelinesRunning *Gauge
	UptimeSeconds    *Gauge
}

// New creates and registers all proctord metrics in registry.
func New(registry *Registry) *Metrics {
	if registry == nil {
		registry = NewRegistry("proctord", "")
	}

	return &Metrics{
		started: time.Now(),

		ScansTotal: registry.RegisterCounter(
			"scans_total", "Scan ticks that started a recognition", nil),
		ScansSkippedBusyTotal: registry.RegisterCounter(
			"scans_skipped_busy_total", "Scan ticks skipped because a recognition was in flight", nil),
		ScansNotReadyTotal: registry.RegisterCounter(
			"scans_not_ready_total", "Scan ticks skipped because no frame was available", nil),
		CaptureFailuresTotal: registry.RegisterCounter(
			"capture_failures_total", "Frame captures that failed", nil),
		RecognitionFailuresTotal: registry.RegisterCounter(
			"recognition_failures_total", "Text recognitions that failed", nil),
		OverlayDetectionsTotal: registry.RegisterCounter(
			"overlay_detections_total", "Scans whose text matched a forbidden keyword", nil),
		RecognitionDuration: registry.RegisterHistogram(
			"recognition_duration_seconds", "Duration of text recognition in seconds", nil, RecognitionBuckets),

		GazeSamplesTotal: registry.RegisterCounter(
			"gaze_samples_total", "Gaze samples evaluated", nil),
		GazeOffscreenTotal: registry.RegisterCounter(
			"gaze_offscreen_total", "Gaze offscreen events raised", nil),
		GazeOffscreenActive: registry.RegisterGauge(
			"gaze_offscreen_active", "1 while an offscreen episode is being tracked", nil),

		EventsReportedTotal: registry.RegisterCounter(
			"events_reported_total", "Detection events handed to the reporter", nil),
		EventsSentTotal: registry.RegisterCounter(
			"events_sent_total", "Events written to the channel", nil),
		EventsDroppedTotal: registry.RegisterCounter(
			"events_dropped_total", "Events dropped because the reporter queue was full or closed", nil),
		SendFailuresTotal: registry.RegisterCounter(
			"send_failures_total", "Events the channel failed to send", nil),
		JournalErrorsTotal: registry.RegisterCounter(
			"journal_errors_total", "Events that could not be journaled", nil),
		ReconnectsTotal: registry.RegisterCounter(
			"channel_reconnects_total", "Channel connection attempts after the first", nil),
		QueueDepth: registry.RegisterGauge(
			"reporter_queue_depth", "Events waiting in the reporter queue", nil),
		ChannelConnected: registry.RegisterGauge(
			"channel_connected", "1 while the outbound channel is connected", nil),
		SendDuration: registry.RegisterHistogram(
			"send_duration_seconds", "Duration of channel writes in seconds", nil, DurationBuckets),

		PipelinesRunning: registry.RegisterGauge(
			"pipelines_running", "Detection pipelines currently running", nil),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds", "Seconds since the monitor started", nil),
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}

// The Record* helpers are safe on a nil *Metrics so components can run
// uninstrumented in tests.

// RecordScan records a scan tick that started a recognition.
func (m *Metrics) RecordScan() {
	if m != nil {
		m.ScansTotal.Inc()
	}
}

// RecordScanSkippedBusy records a tick skipped while recognition was in flight.
func (m *Metrics) RecordScanSkippedBusy() {
	if m != nil {
		m.ScansSkippedBusyTotal.Inc()
	}
}

// RecordScanNotReady records a tick skipped for lack of a frame.
func (m *Metrics) RecordScanNotReady() {
	if m != nil {
		m.ScansNotReadyTotal.Inc()
	}
}

// RecordCaptureFailure records a failed frame capture.
func (m *Metrics) RecordCaptureFailure() {
	if m != nil {
		m.CaptureFailuresTotal.Inc()
	}
}

// RecognitionTimer times one text recognition.
type RecognitionTimer struct {
	m     *Metrics
	timer *HistogramTimer
	start time.Time
}

// StartRecognition begins timing a recognition run.
func (m *Metrics) StartRecognition() *RecognitionTimer {
	rt := &RecognitionTimer{m: m, start: time.Now()}
	if m != nil {
		rt.timer = m.RecognitionDuration.Timer()
	}
	return rt
}

// Done records the run's duration and outcome and returns the elapsed
// time.
func (t *RecognitionTimer) Done(success bool) time.Duration {
	if t.m == nil {
		return time.Since(t.start)
	}
	if !success {
		t.m.RecognitionFailuresTotal.Inc()
	}
	return t.timer.Stop()
}

// RecordRecognitionFailure records a recognition that ended without a
// measurable duration, such as a recovered panic.
func (m *Metrics) RecordRecognitionFailure() {
	if m != nil {
		m.RecognitionFailuresTotal.Inc()
	}
}

// RecordOverlay records a forbidden-content match.
func (m *Metrics) RecordOverlay() {
	if m != nil {
		m.OverlayDetectionsTotal.Inc()
	}
}

// RecordGazeSample records an evaluated gaze sample.
func (m *Metrics) RecordGazeSample() {
	if m != nil {
		m.GazeSamplesTotal.Inc()
	}
}

// RecordGazeOffscreen records a gaze offscreen event.
func (m *Metrics) RecordGazeOffscreen() {
	if m != nil {
		m.GazeOffscreenTotal.Inc()
	}
}

// SetOffscreenActive reflects the offscreen machine state.
func (m *Metrics) SetOffscreenActive(active bool) {
	if m != nil {
		m.GazeOffscreenActive.SetBool(active)
	}
}

// RecordReported records an event accepted by the reporter.
func (m *Metrics) RecordReported() {
	if m != nil {
		m.EventsReportedTotal.Inc()
	}
}

// RecordSent records a successful channel write.
func (m *Metrics) RecordSent(d time.Duration) {
	if m == nil {
		return
	}
	m.EventsSentTotal.Inc()
	m.SendDuration.ObserveDuration(d)
}

// RecordDropped records an event the reporter could not queue.
func (m *Metrics) RecordDropped() {
	if m != nil {
		m.EventsDroppedTotal.Inc()
	}
}

// RecordSendFailure records a failed channel write.
func (m *Metrics) RecordSendFailure() {
	if m != nil {
		m.SendFailuresTotal.Inc()
	}
}

// RecordJournalError records a journal append failure.
func (m *Metrics) RecordJournalError() {
	if m != nil {
		m.JournalErrorsTotal.Inc()
	}
}

// RecordReconnect records a channel reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m != nil {
		m.ReconnectsTotal.Inc()
	}
}

// SetQueueDepth sets the reporter queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(int64(n))
	}
}

// SetConnected reflects the channel connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m != nil {
		m.ChannelConnected.SetBool(connected)
	}
}

// SetPipelines sets the number of running pipelines.
func (m *Metrics) SetPipelines(n int) {
	if m != nil {
		m.PipelinesRunning.Set(int64(n))
	}
}

// Snapshot returns the headline counters, logged when a session ends.
func (m *Metrics) Snapshot() map[string]any {
	m.UpdateUptime()
	return map[string]any{
		"scans_total":          m.ScansTotal.Value(),
		"scans_skipped_busy":   m.ScansSkippedBusyTotal.Value(),
		"recognition_failures": m.RecognitionFailuresTotal.Value(),
		"overlay_detections":   m.OverlayDetectionsTotal.Value(),
		"gaze_samples":         m.GazeSamplesTotal.Value(),
		"gaze_offscreen":       m.GazeOffscreenTotal.Value(),
		"events_sent":          m.EventsSentTotal.Value(),
		"events_dropped":       m.EventsDroppedTotal.Value(),
		"send_failures":        m.SendFailuresTotal.Value(),
		"channel_connected":    m.ChannelConnected.Value() == 1,
		"pipelines_running":    m.PipelinesRunning.Value(),
		"uptime_seconds":       m.UptimeSeconds.Value(),
		"recognition_avg_secs": m.RecognitionDuration.Mean(),
	}
}
