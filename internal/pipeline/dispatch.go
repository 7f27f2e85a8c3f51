package pipeline

import (
	"context"
	"net/http"
)

type slotKey struct{}

type errSlot struct{ err error }

// Dispatch runs a plain router as the terminal handler. Route handlers hand
// errors back with Forward or Errorable; the first forwarded error is returned.
func Dispatch(router http.Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		slot := &errSlot{}
		router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), slotKey{}, slot)))
		return slot.err
	})
}

// Forward hands err to the pipeline's error handler once the route handler
// returns. It reports false when r was not dispatched by a pipeline.
func Forward(r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	slot, ok := r.Context().Value(slotKey{}).(*errSlot)
	if !ok {
		return false
	}
	if slot.err == nil {
		slot.err = err
	}
	return true
}

// Errorable adapts an error-returning route handler for a plain router.
// Outside a pipeline a returned error becomes a bare 500.
func Errorable(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil && !Forward(r, err) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}
