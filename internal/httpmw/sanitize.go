package httpmw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
)

// NoSQLSanitize removes keys that a document store would read as operators
// or paths: any key starting with '$' or containing '.'. It applies to the
// decoded body at every depth, to query keys including each bracket segment,
// and to request header names.
func NoSQLSanitize() pipeline.Stage {
	return pipeline.StageFunc("nosql-sanitize", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		r, st := request.Ensure(r)
		st.Body = stripOperatorKeys(st.Body)

		changed := false
		for k := range st.Query {
			if queryKeyUnsafe(k) {
				delete(st.Query, k)
				changed = true
			}
		}
		if changed {
			r = withRawQuery(r, st.Query)
		}

		for name := range r.Header {
			if operatorKey(name) {
				r.Header.Del(name)
			}
		}
		return r, nil
	})
}

func operatorKey(k string) bool {
	return strings.HasPrefix(k, "$") || strings.Contains(k, ".")
}

func queryKeyUnsafe(k string) bool {
	for _, seg := range splitKey(k) {
		if operatorKey(strings.Trim(seg, "[]")) {
			return true
		}
	}
	return false
}

func stripOperatorKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if operatorKey(k) {
				delete(t, k)
				continue
			}
			t[k] = stripOperatorKeys(child)
		}
	case []any:
		for i, child := range t {
			t[i] = stripOperatorKeys(child)
		}
	}
	return v
}

// XSSSanitize passes every string value in the body and query through the
// bluemonday strict policy. Only strings containing '<' are rewritten;
// plain text such as "O'Brien" or "a & b" passes through unchanged.
func XSSSanitize() pipeline.Stage {
	policy := bluemonday.StrictPolicy()
	return pipeline.StageFunc("xss-sanitize", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		r, st := request.Ensure(r)
		st.Body = sanitizeStrings(st.Body, policy)

		changed := false
		for k, vals := range st.Query {
			for i, v := range vals {
				if clean := sanitizeString(v, policy); clean != v {
					vals[i] = clean
					changed = true
				}
			}
			st.Query[k] = vals
		}
		if changed {
			r = withRawQuery(r, st.Query)
		}
		return r, nil
	})
}

func sanitizeStrings(v any, p *bluemonday.Policy) any {
	switch t := v.(type) {
	case string:
		return sanitizeString(t, p)
	case map[string]any:
		for k, child := range t {
			t[k] = sanitizeStrings(child, p)
		}
	case []any:
		for i, child := range t {
			t[i] = sanitizeStrings(child, p)
		}
	}
	return v
}

func sanitizeString(s string, p *bluemonday.Policy) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	return p.Sanitize(s)
}

// withRawQuery returns a shallow copy of r whose URL carries q. RequestURI
// keeps the original request target.
func withRawQuery(r *http.Request, q url.Values) *http.Request {
	u := *r.URL
	u.RawQuery = q.Encode()
	r2 := r.WithContext(r.Context())
	r2.URL = &u
	return r2
}
