package routes

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/keithlinneman/tours-web/internal/xerrors"
)

func writeJSON(w http.ResponseWriter, code int, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(err, "encode response")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf)
	return nil
}

// queryObject renders single values as strings and repeated keys as arrays.
func queryObject(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
		case 1:
			out[k] = vs[0]
		default:
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}
