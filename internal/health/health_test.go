package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, PingCheck(func(context.Context) error { return nil }))
	c.RegisterFunc("bus", false, PingCheck(func(context.Context) error { return errors.New("no session bus") }))

	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical check not run yet")

	results := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, results["store"].Status)
	assert.Equal(t, StatusUnhealthy, results["bus"].Status)
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("socket", true, FileExistsCheck(filepath.Join(t.TempDir(), "gone.sock")))
	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, "check panicked", results["broken"].Message)
	assert.Equal(t, "boom", results["broken"].Error)
}

func TestCounterCheck(t *testing.T) {
	var dropped uint64
	check := CounterCheck(map[string]func() uint64{"dropped": func() uint64 { return dropped }})

	assert.Equal(t, StatusHealthy, check(context.Background()).Status)
	dropped = 3
	r := check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, uint64(3), r.Details["dropped"])
	assert.Equal(t, StatusHealthy, check(context.Background()).Status, "no growth since last check")
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("session", true, PingCheck(func(context.Context) error { return nil }))
	mux := http.NewServeMux()
	c.Mount(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz?full=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "session")
}
