package httpmw

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
)

// jsonCookiePrefix marks a cookie value holding URL-encoded JSON.
const jsonCookiePrefix = "j:"

// Cookies parses the Cookie header into State.Cookies. Values are
// URL-decoded when possible. Values starting with "j:" that hold valid JSON
// are also decoded into State.JSONCookies.
func Cookies() pipeline.Stage {
	return pipeline.StageFunc("cookies", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		r, st := request.Ensure(r)
		st.Cookies = map[string]string{}

		for _, c := range r.Cookies() {
			// first occurrence wins, as browsers send the most specific path first
			if _, dup := st.Cookies[c.Name]; dup {
				continue
			}
			val := c.Value
			if dec, err := url.PathUnescape(val); err == nil {
				val = dec
			}
			st.Cookies[c.Name] = val

			if raw, ok := strings.CutPrefix(val, jsonCookiePrefix); ok {
				var v any
				if json.Unmarshal([]byte(raw), &v) == nil {
					if st.JSONCookies == nil {
						st.JSONCookies = map[string]any{}
					}
					st.JSONCookies[c.Name] = v
				}
			}
		}
		return r, nil
	})
}
