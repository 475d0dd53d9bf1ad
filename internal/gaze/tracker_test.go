package gaze

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	samples []Sample
	active  int
	overlap bool
}

func (c *collector) add(s Sample) {
	c.mu.Lock()
	c.active++
	if c.active > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	time.Sleep(time.Millisecond)

	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.active--
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func (c *collector) all() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sample(nil), c.samples...)
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		in   string
		want Sample
	}{
		{`{"x": 10.5, "y": -3}`, At(10.5, -3)},
		{`null`, Absent},
		{` null `, Absent},
		{`{}`, Absent},
		{`{"x": 1}`, Absent},
		{`{"x": 0, "y": 0}`, At(0, 0)},
	}
	for _, tt := range tests {
		got, err := ParseSample([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSample([]byte(`{"x": "left"}`))
	assert.Error(t, err)
}

func TestSampleJSON(t *testing.T) {
	data, err := json.Marshal(Absent)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var s Sample
	require.NoError(t, json.Unmarshal([]byte(`{"x":1,"y":2}`), &s))
	assert.Equal(t, At(1, 2), s)
	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.Equal(t, Absent, s)
}

func TestReaderTracker(t *testing.T) {
	input := strings.Join([]string{
		`{"x": 1, "y": 2}`,
		``,
		`null`,
		`garbage`,
		`{"x": -5, "y": 10}`,
	}, "\n")

	tr := NewReaderTracker(strings.NewReader(input), nil)
	defer tr.Close()

	c := &collector{}
	unsubscribe, err := tr.Subscribe(c.add)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case <-tr.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish")
	}
	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Sample{At(1, 2), Absent, At(-5, 10)}, c.all())
	assert.Equal(t, uint64(3), tr.Received())
}

func TestReaderTrackerCallbacksDoNotOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString(`{"x": 1, "y": 1}` + "\n")
	}
	tr := NewReaderTracker(strings.NewReader(sb.String()), nil)
	defer tr.Close()

	a, b := &collector{}, &collector{}
	shared := &collector{}
	_, err := tr.Subscribe(func(s Sample) { a.add(s); shared.add(s) })
	require.NoError(t, err)
	_, err = tr.Subscribe(func(s Sample) { b.add(s); shared.add(s) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return shared.len() == 100 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, shared.overlap)
}

func TestDispatcherWaitsWhenBufferFull(t *testing.T) {
	d := newDispatcher(slog.New(slog.DiscardHandler), 1)
	defer d.stop()

	gate := make(chan struct{})
	c := &collector{}
	_, err := d.subscribe(func(s Sample) {
		<-gate
		c.add(s)
	})
	require.NoError(t, err)

	// The in-viewport sample at 2000ms ends the first excursion.
	steps := []step{
		{0, At(-5, 10)},
		{2000, At(100, 100)},
		{4000, At(-5, 10)},
		{5000, At(-5, 10)},
		{6500, At(-5, 10)},
	}
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		for _, st := range steps {
			assert.True(t, d.push(st.sample))
		}
	}()

	select {
	case <-pushed:
		t.Fatal("push returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)

	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("push did not resume")
	}
	require.Eventually(t, func() bool { return c.len() == len(steps) }, 2*time.Second, 5*time.Millisecond)

	delivered := c.all()
	for i, st := range steps {
		assert.Equal(t, st.sample, delivered[i])
	}
	assert.Equal(t, uint64(len(steps)), d.Received())
	assert.Empty(t, run(NewOffscreenMachine(3*time.Second, hd), steps))
}

func TestDispatcherPushAfterStop(t *testing.T) {
	d := newDispatcher(slog.New(slog.DiscardHandler), 1)
	d.stop()
	assert.False(t, d.push(At(1, 1)))
	assert.Zero(t, d.Received())
}

func TestUnsubscribe(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewReaderTracker(pr, nil)
	defer tr.Close()
	defer pw.Close()

	c := &collector{}
	unsubscribe, err := tr.Subscribe(c.add)
	require.NoError(t, err)

	_, err = pw.Write([]byte("{\"x\":1,\"y\":1}\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()

	_, err = pw.Write([]byte("{\"x\":2,\"y\":2}\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.Received() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestSubscribeAfterClose(t *testing.T) {
	tr := NewReaderTracker(strings.NewReader(""), nil)
	require.NoError(t, tr.Close())
	_, err := tr.Subscribe(func(Sample) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	tr := NewReaderTracker(strings.NewReader("{\"x\":1,\"y\":1}\n{\"x\":2,\"y\":2}\n"), nil)
	defer tr.Close()

	c := &collector{}
	_, err := tr.Subscribe(func(s Sample) {
		if s.X == 1 {
			panic("boom")
		}
		c.add(s)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, At(2, 2), c.all()[0])
}

func TestSocketTracker(t *testing.T) {
	tr := NewSocketTracker("127.0.0.1:0", nil)
	defer tr.Close()
	assert.Empty(t, tr.Addr())

	c := &collector{}
	_, err := tr.Subscribe(c.add)
	require.NoError(t, err)
	require.NotEmpty(t, tr.Addr())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+tr.Addr()+DefaultSocketPath, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"x":-5,"y":10}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`null`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteJSON(At(3, 4)))

	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Sample{At(-5, 10), Absent, At(3, 4)}, c.all())
	assert.Equal(t, 1, tr.Connections())
}

func TestSocketTrackerClose(t *testing.T) {
	tr := NewSocketTracker("127.0.0.1:0", nil)
	_, err := tr.Subscribe(func(Sample) {})
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+tr.Addr()+DefaultSocketPath, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)

	_, err = tr.Subscribe(func(Sample) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocketTrackerListenFailure(t *testing.T) {
	tr := NewSocketTracker("256.0.0.1:bad", nil)
	defer tr.Close()
	_, err := tr.Subscribe(func(Sample) {})
	assert.Error(t, err)
}
