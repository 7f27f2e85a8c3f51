package httpmw

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keithlinneman/tours-web/internal/log"
)

// spyLogger captures Error calls for assertions.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyError
	withs  [][]any
}

type spyError struct {
	msg string
	err error
}

func newSpyLogger() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	s.withs = append(s.withs, kv)
	s.mu.Unlock()
	return s
}

func (s *spyLogger) Error(_ context.Context, err error, msg string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyError{msg: msg, err: err})
}

func (s *spyLogger) lastError() (spyError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return spyError{}, false
	}
	return s.errors[len(s.errors)-1], true
}

func TestRecover_NoPanic(t *testing.T) {
	spy := newSpyLogger()
	rec := httptest.NewRecorder()
	Recover(spy, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusCreated || rec.Body.String() != "created" || rec.Header().Get("X-Custom") != "value" {
		t.Fatalf("response altered: %d %q", rec.Code, rec.Body.String())
	}
	if _, logged := spy.lastError(); logged {
		t.Fatal("error logged when no panic occurred")
	}
}

func TestRecover_Panics(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "something broke"},
		{"error", fmt.Errorf("database connection lost")},
		{"int", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpyLogger()
			var called bool
			rec := httptest.NewRecorder()
			Recover(spy, func() { called = true })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.value)
			})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tours", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			e, ok := spy.lastError()
			if !ok || e.msg != "httpserver panic recovered" || e.err == nil {
				t.Fatalf("logged = %+v (%v)", e, ok)
			}
			if !called {
				t.Fatal("onPanic not called")
			}
			if v, _ := withFieldValue(spy.withs, "url.path"); v != "/api/v1/tours" {
				t.Fatalf("url.path = %v", v)
			}
		})
	}
}

func TestRecover_AfterHeadersWritten(t *testing.T) {
	rec := httptest.NewRecorder()
	Recover(newSpyLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusAccepted || rec.Body.Len() != 0 {
		t.Fatalf("committed response must not be rewritten: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	defer func() {
		if v := recover(); v != http.ErrAbortHandler { //nolint:errorlint
			t.Fatalf("recovered %v, want http.ErrAbortHandler", v)
		}
	}()
	Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
