package flowdoc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Fingerprint is the canonical form used for semantic equality: object
// keys sorted recursively, numbers normalized to a single textual form,
// sibling (array) order preserved. Two documents with equal fingerprints
// are considered the same document regardless of key order or cosmetic
// number formatting (1 vs 1.0 vs 1e0).
type Fingerprint string

// Fingerprint canonicalizes the document and returns its comparison form.
func (d Document) Fingerprint() (Fingerprint, error) {
	norm := make([]any, len(d))
	for i, n := range d {
		norm[i] = normalize(map[string]any(n))
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("fingerprint marshal: %w", err)
	}
	return Fingerprint(data), nil
}

// Equal reports whether two documents are semantically equal.
func Equal(a, b Document) (bool, error) {
	fa, err := a.Fingerprint()
	if err != nil {
		return false, err
	}
	fb, err := b.Fingerprint()
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

// normalize recursively sorts map keys (by producing an ordered slice of
// key/value pairs marshaled as a JSON object via a canonical encoder) and
// normalizes json.Number / float64 / int values to a single string form.
// Arrays keep their order.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := orderedObject{}
		for _, k := range keys {
			out = append(out, orderedField{Key: k, Value: normalize(t[k])})
		}
		return out
	case Node:
		return normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case json.Number:
		return normalizeNumber(string(t))
	case float64:
		return normalizeNumber(strconv.FormatFloat(t, 'g', -1, 64))
	case int:
		return normalizeNumber(strconv.Itoa(t))
	case int64:
		return normalizeNumber(strconv.FormatInt(t, 10))
	default:
		return v
	}
}

// normalizeNumber collapses equivalent textual number representations
// (1, 1.0, 1e0, 1E+0) to one canonical string so that plugins free to
// re-serialize numeric fields don't trip fingerprint equality.
func normalizeNumber(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return s
}

// orderedField is one key/value pair in a canonicalized object.
type orderedField struct {
	Key   string
	Value any
}

// orderedObject marshals as a JSON object with keys in the slice's order
// (which normalize always populates pre-sorted), rather than re-sorting
// via encoding/json's default map handling (which would be redundant but
// also would not accept non-string-keyed, already-ordered data).
type orderedObject []orderedField

func (o orderedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}
