package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		scan     Status
		gaze     Status
		channel  Status
		expected Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, StatusHealthy, StatusHealthy},
		{"one pipeline down", StatusUnhealthy, StatusHealthy, StatusHealthy, StatusDegraded},
		{"channel reconnecting", StatusHealthy, StatusHealthy, StatusDegraded, StatusDegraded},
		{"both pipelines down", StatusUnhealthy, StatusUnhealthy, StatusHealthy, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			scan, gaze, channel := NewState(), NewState(), NewState()
			scan.Set(tt.scan, "", nil)
			gaze.Set(tt.gaze, "", nil)
			channel.Set(tt.channel, "", nil)
			c.Register(ComponentScan, false, scan.Check)
			c.Register(ComponentGaze, false, gaze.Check)
			c.Register(ComponentChannel, false, channel.Check)

			assert.Equal(t, tt.expected, c.Overall(c.Check(context.Background())))
		})
	}
}

func TestCriticalComponent(t *testing.T) {
	c := NewChecker()
	c.Register(ComponentJournal, true, VerifyCheck(func(context.Context) error {
		return errors.New("chain broken")
	}))
	assert.Equal(t, StatusUnknown, c.Overall(map[string]CheckResult{
		ComponentJournal: {Status: StatusUnknown},
	}))

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results[ComponentJournal].Status)
	assert.Equal(t, "chain broken", results[ComponentJournal].Error)
	assert.Equal(t, StatusUnhealthy, c.Overall(results))

	// unknown only counts for critical components
	c.Register(ComponentGaze, false, NewState().Check)
	assert.Equal(t, StatusHealthy, c.Overall(map[string]CheckResult{
		ComponentGaze: {Status: StatusUnknown},
	}))
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.timeout = 20 * time.Millisecond
	c.Register("slow", false, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})
	c.Register("broken", false, func(context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, "boom", results["broken"].Error)
}

func TestConnectionCheck(t *testing.T) {
	c := NewChecker()
	var connected atomic.Bool
	c.Register(ComponentChannel, false, ConnectionCheck(connected.Load))

	results := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, results[ComponentChannel].Status)
	assert.Equal(t, StatusDegraded, c.Overall(results))

	connected.Store(true)
	results = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, results[ComponentChannel].Status)
	assert.False(t, results[ComponentChannel].LastChecked.IsZero())
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	scan := NewState()
	scan.Set(StatusHealthy, "running", nil)
	gaze := NewState()
	gaze.Set(StatusUnhealthy, "unavailable", errors.New("listen failed"))
	c.Register(ComponentScan, false, scan.Check)
	c.Register(ComponentGaze, false, gaze.Check)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "proctord_scans_total 3\n")
	})
	srv := httptest.NewServer(NewServer("127.0.0.1:0", c, metrics, nil).Handler())
	defer srv.Close()

	get := func(path string) (int, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	code, _ := get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	c.SetReady(true)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	var resp Report
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "listen failed", resp.Components[ComponentGaze].Error)
	assert.Equal(t, StatusHealthy, resp.Components[ComponentScan].Status)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "proctord_scans_total 3")
}

func TestServerStartShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewChecker(), nil, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
}
