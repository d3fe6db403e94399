package structured

import (
	"encoding/json"
	"time"

	"github.com/vietddude/mediagate/internal/core/domain"
)

// Normalize rewrites a scanned row into the uniform Record value kinds:
// strings, float64 numbers, bools, lists and maps. JSON columns are decoded
// back into structured values. Both tiers pass their rows through here so
// callers see identical shapes regardless of which backend answered.
func Normalize(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for col, v := range rec {
		out[col] = normalizeValue(col, v)
	}
	return out
}

func normalizeValue(col string, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return normalizeValue(col, string(val))
	case string:
		if JSONColumn(col) && val != "" {
			var decoded any
			if err := json.Unmarshal([]byte(val), &decoded); err == nil {
				return decoded
			}
		}
		return val
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}

// Serialize prepares a record for storage: structured values destined for
// JSON columns are marshalled to text. The inverse of Normalize.
func Serialize(rec domain.Record) (domain.Record, error) {
	out := make(domain.Record, len(rec))
	for col, v := range rec {
		switch v.(type) {
		case map[string]any, []any, []string:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			out[col] = string(data)
		default:
			out[col] = v
		}
	}
	return out, nil
}
