package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp is the stored time representation. It encodes as
// {"seconds":…,"nanos":…} inside documents.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

func TimestampFrom(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Seconds < o.Seconds:
		return -1
	case t.Seconds > o.Seconds:
		return 1
	case t.Nanos < o.Nanos:
		return -1
	case t.Nanos > o.Nanos:
		return 1
	}
	return 0
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the commit time when a write is applied.
var ServerTimestamp = serverTimestamp{}

// EncodeFields resolves ServerTimestamp to now and renders the stored JSON form.
func EncodeFields(fields map[string]any, now Timestamp) ([]byte, error) {
	normalized, err := normalize(fields, now)
	if err != nil {
		return nil, err
	}
	if normalized == nil {
		normalized = map[string]any{}
	}
	return json.Marshal(normalized)
}

// EncodeValue renders a single field value in its stored JSON form.
func EncodeValue(v any) ([]byte, error) {
	normalized, err := normalize(v, Timestamp{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// DecodeFields parses stored JSON. Integral numbers come back as int64,
// other numbers as float64 and {seconds,nanos} objects as Timestamp.
func DecodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = fromJSON(v)
	}
	return out, nil
}

// Normalize converts Go values to the types DecodeFields produces, so an
// encoded and decoded document compares equal to its normalized input.
func Normalize(fields map[string]any, now Timestamp) (map[string]any, error) {
	data, err := EncodeFields(fields, now)
	if err != nil {
		return nil, err
	}
	return DecodeFields(data)
}

func normalize(v any, now Timestamp) (any, error) {
	switch val := v.(type) {
	case nil, bool, string:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint32:
		return int64(val), nil
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		return val, nil
	case Timestamp:
		return val, nil
	case time.Time:
		return TimestampFrom(val), nil
	case serverTimestamp:
		return now, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item, now)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		if val == nil {
			return nil, nil
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalize(item, now)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, f)
	}
	return f, nil
}

func fromJSON(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = fromJSON(val[i])
		}
		return val
	case map[string]any:
		if ts, ok := asTimestamp(val); ok {
			return ts
		}
		for k := range val {
			val[k] = fromJSON(val[k])
		}
		return val
	}
	return v
}

func asTimestamp(m map[string]any) (Timestamp, bool) {
	if len(m) != 2 {
		return Timestamp{}, false
	}
	secRaw, ok := m["seconds"].(json.Number)
	if !ok {
		return Timestamp{}, false
	}
	nanoRaw, ok := m["nanos"].(json.Number)
	if !ok {
		return Timestamp{}, false
	}
	sec, err := secRaw.Int64()
	if err != nil {
		return Timestamp{}, false
	}
	nanos, err := nanoRaw.Int64()
	if err != nil || nanos < 0 || nanos >= 1e9 {
		return Timestamp{}, false
	}
	return Timestamp{Seconds: sec, Nanos: int32(nanos)}, true
}

// Int64 reads an integral number field. Floats are truncated.
func Int64(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func String(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok
}

func Bool(fields map[string]any, key string) (bool, bool) {
	v, ok := fields[key].(bool)
	return v, ok
}

func TimestampField(fields map[string]any, key string) (Timestamp, bool) {
	switch v := fields[key].(type) {
	case Timestamp:
		return v, true
	case time.Time:
		return TimestampFrom(v), true
	}
	return Timestamp{}, false
}

// Strings reads an array field, skipping non-string elements.
func Strings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
