package httpmw

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/keithlinneman/tours-web/internal/apperror"
)

const (
	// maxParams bounds the number of pairs in one url-encoded body.
	maxParams = 1000
	// maxDepth bounds bracket nesting; deeper segments stay a literal key.
	maxDepth = 5
	// maxArrayIndex is the largest a[N] index treated as an array slot.
	maxArrayIndex = 20
)

// ParseExtended decodes a url-encoded string with bracket syntax:
//
//	a=1&a=2        {"a": ["1", "2"]}
//	a[]=1&a[]=2    {"a": ["1", "2"]}
//	a[b][c]=1      {"a": {"b": {"c": "1"}}}
//	a[1]=y&a[0]=x  {"a": ["x", "y"]}
func ParseExtended(s string) (map[string]any, error) {
	root := map[string]any{}
	if s == "" {
		return root, nil
	}

	pairs := strings.Split(s, "&")
	if len(pairs) > maxParams {
		return nil, apperror.New(http.StatusRequestEntityTooLarge, apperror.KindPayloadTooLarge, "Too many parameters")
	}
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, apperror.BadRequest("Malformed url-encoded body", err)
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, apperror.BadRequest("Malformed url-encoded body", err)
		}
		if key == "" {
			continue
		}
		segs := splitKey(key)
		root[segs[0]] = merge(root[segs[0]], nest(segs[1:], val))
	}
	for k, v := range root {
		root[k] = compact(v)
	}
	return root, nil
}

// splitKey turns "a[b][]" into ["a", "b", ""]. Unbalanced brackets and
// segments past maxDepth are kept verbatim in the last element.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		return []string{key}
	}
	segs := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 && rest[0] == '[' && len(segs) <= maxDepth {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			if len(segs) == 1 {
				return []string{key}
			}
			break
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	if rest != "" {
		segs = append(segs, rest)
	}
	return segs
}

// nest builds the value for the remaining key segments. Indexed segments are
// held in a map and turned into arrays by compact.
func nest(segs []string, val string) any {
	if len(segs) == 0 {
		return val
	}
	if segs[0] == "" {
		return []any{nest(segs[1:], val)}
	}
	return map[string]any{segs[0]: nest(segs[1:], val)}
}

func merge(existing, incoming any) any {
	switch cur := existing.(type) {
	case nil:
		return incoming
	case map[string]any:
		if in, ok := incoming.(map[string]any); ok {
			for k, v := range in {
				cur[k] = merge(cur[k], v)
			}
			return cur
		}
		return appendValue([]any{cur}, incoming)
	case []any:
		return appendValue(cur, incoming)
	default:
		return appendValue([]any{cur}, incoming)
	}
}

func appendValue(dst []any, v any) []any {
	if arr, ok := v.([]any); ok {
		return append(dst, arr...)
	}
	return append(dst, v)
}

// compact converts maps keyed only by small indexes into arrays ordered by
// index, recursively.
func compact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = compact(child)
		}
		if arr, ok := indexedArray(t); ok {
			return arr
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = compact(child)
		}
		return t
	default:
		return v
	}
}

func indexedArray(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	idx := make([]int, 0, len(m))
	byIdx := make(map[int]any, len(m))
	for k, v := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || n > maxArrayIndex || strconv.Itoa(n) != k {
			return nil, false
		}
		idx = append(idx, n)
		byIdx[n] = v
	}
	sort.Ints(idx)
	out := make([]any, len(idx))
	for i, n := range idx {
		out[i] = byIdx[n]
	}
	return out, true
}
