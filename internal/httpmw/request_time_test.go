package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestTime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)
	run := runStage(t, RequestTime(func() time.Time { return fixed }), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !run.state.RequestTime.Equal(fixed) {
		t.Fatalf("RequestTime = %v", run.state.RequestTime)
	}
	if got := run.state.RequestTimeISO(); got != "2024-05-01T12:00:00.250Z" {
		t.Fatalf("iso = %q", got)
	}
}

func TestRequestTime_DefaultClock(t *testing.T) {
	before := time.Now()
	run := runStage(t, RequestTime(nil), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if run.state.RequestTime.Before(before) || run.state.RequestTime.After(time.Now()) {
		t.Fatalf("RequestTime = %v", run.state.RequestTime)
	}
}
