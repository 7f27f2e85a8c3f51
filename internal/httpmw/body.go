package httpmw

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
)

// DefaultBodyLimit caps JSON and url-encoded payloads at 10 kB.
const DefaultBodyLimit int64 = 10 << 10

// JSONBody decodes application/json payloads into State.Body. Only objects
// and arrays are accepted at the top level. An empty body decodes as {}.
func JSONBody(limit int64) pipeline.Stage {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return pipeline.StageFunc("json-body", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if !hasMediaType(r, "application/json") {
			return r, nil
		}
		raw, err := readBody(w, r, limit)
		if err != nil {
			return nil, err
		}
		r, st := request.Ensure(r)

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			st.Body = map[string]any{}
			return r, nil
		}
		if trimmed[0] != '{' && trimmed[0] != '[' {
			return nil, apperror.BadRequest("Invalid JSON body: top-level value must be an object or array", nil)
		}

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, apperror.BadRequest(fmt.Sprintf("Invalid JSON body: %s", err.Error()), err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, apperror.BadRequest("Invalid JSON body: unexpected data after top-level value", err)
		}
		st.Body = v
		return r, nil
	})
}

// URLEncodedBody parses application/x-www-form-urlencoded payloads with the
// bracket syntax understood by ParseExtended.
func URLEncodedBody(limit int64) pipeline.Stage {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return pipeline.StageFunc("urlencoded-body", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if !hasMediaType(r, "application/x-www-form-urlencoded") {
			return r, nil
		}
		raw, err := readBody(w, r, limit)
		if err != nil {
			return nil, err
		}
		body, err := ParseExtended(string(raw))
		if err != nil {
			return nil, err
		}
		r, st := request.Ensure(r)
		st.Body = body
		return r, nil
	})
}

func hasMediaType(r *http.Request, want string) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == want
}

// readBody reads at most limit bytes and leaves a replayable copy on r.Body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, apperror.From(err)
		}
		return nil, apperror.BadRequest("Could not read request body", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}
