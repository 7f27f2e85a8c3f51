package httpmw

import (
	"net/http"
	"net/url"

	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
)

// DefaultPollutionWhitelist lists the tour filter fields that may repeat.
var DefaultPollutionWhitelist = []string{
	"duration",
	"difficulty",
	"ratingsAverage",
	"ratingsQuantity",
	"maxGroupSize",
	"price",
}

// ParameterPollution collapses repeated query parameters, and top-level
// arrays in url-encoded bodies, to their last value. Whitelisted keys keep
// every value. Collapsed originals are kept in State.QueryPolluted and
// State.BodyPolluted.
func ParameterPollution(whitelist []string) pipeline.Stage {
	allowed := make(map[string]struct{}, len(whitelist))
	for _, k := range whitelist {
		allowed[k] = struct{}{}
	}
	return pipeline.StageFunc("hpp", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		r, st := request.Ensure(r)

		changed := false
		for k, vals := range st.Query {
			if _, ok := allowed[k]; ok || len(vals) < 2 {
				continue
			}
			if st.QueryPolluted == nil {
				st.QueryPolluted = url.Values{}
			}
			st.QueryPolluted[k] = vals
			st.Query[k] = []string{vals[len(vals)-1]}
			changed = true
		}
		if changed {
			r = withRawQuery(r, st.Query)
		}

		if !hasMediaType(r, "application/x-www-form-urlencoded") {
			return r, nil
		}
		body := st.BodyMap()
		for k, v := range body {
			arr, ok := v.([]any)
			if _, keep := allowed[k]; keep || !ok || len(arr) == 0 {
				continue
			}
			if st.BodyPolluted == nil {
				st.BodyPolluted = map[string]any{}
			}
			st.BodyPolluted[k] = arr
			body[k] = arr[len(arr)-1]
		}
		return r, nil
	})
}
