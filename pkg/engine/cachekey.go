package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// cacheKey derives the almanac cache key for a (fact ID, params) pair. The
// key must be identical for structurally equal params regardless of map
// iteration or insertion order, so params are serialized canonically (sorted
// keys, NFC-normalized strings, stable number formatting) before hashing.
func cacheKey(factID string, params map[string]any) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(factID)
	buf.WriteByte(0)

	if len(params) > 0 {
		canonical, err := marshalCanonical(params)
		if err != nil {
			return "", fmt.Errorf("canonicalize params for fact %q: %w", factID, err)
		}
		buf.Write(canonical)
	}

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// marshalCanonical produces a deterministic serialization of a value for
// hashing. Object keys are sorted bytewise, strings are NFC normalized, and
// numbers use the shortest round-trippable formatting.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return marshalCanonicalString(val)
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case float32:
		return marshalCanonicalFloat(float64(val))
	case float64:
		return marshalCanonicalFloat(val)
	case json.Number:
		return []byte(val.String()), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	default:
		// Fall back to the JSON representation for struct-typed params, then
		// re-canonicalize so field order stays stable.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("unsupported param type %T: %w", v, err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		if _, again := decoded.(map[string]any); !again {
			if _, arr := decoded.([]any); !arr {
				return raw, nil
			}
		}
		return marshalCanonical(decoded)
	}
}

func marshalCanonicalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v is not canonicalizable", f)
	}
	// Integral floats serialize as integers so 2 and 2.0 hash identically.
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(nil, int64(f), 10), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder appends a trailing newline.
	result := buf.Bytes()
	if n := len(result); n > 0 && result[n-1] == '\n' {
		result = result[:n-1]
	}
	return result, nil
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
