package httpmw

import (
	"net/http"
	"time"

	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
)

// RequestTime stamps State.RequestTime. now defaults to time.Now.
func RequestTime(now func() time.Time) pipeline.Stage {
	if now == nil {
		now = time.Now
	}
	return pipeline.StageFunc("request-time", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		r, st := request.Ensure(r)
		st.RequestTime = now()
		return r, nil
	})
}
