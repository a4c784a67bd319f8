package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Cast coerces a client-supplied value to the Go type implied by the field's
// type tag. String inputs are accepted for every scalar type because query
// parameters and form posts arrive as strings.
func (i *Instance) Cast(field string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	typ, ok := i.Casts[field]
	if !ok {
		return v, nil
	}
	return castValue(typ, v)
}

func castValue(typ string, v any) (any, error) {
	switch typ {
	case "int", "bigint":
		switch n := v.(type) {
		case int, int32, int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("not an integer: %q", n)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not an integer: %v", v)

	case "decimal":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("not a number: %q", n)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not a number: %v", v)

	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("not a boolean: %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not a boolean: %v", v)

	case "date":
		return castTime(v, "2006-01-02")

	case "datetime", "timestamp":
		return castTime(v, time.RFC3339)

	case "json":
		switch j := v.(type) {
		case string:
			var decoded any
			if err := json.Unmarshal([]byte(j), &decoded); err != nil {
				return nil, fmt.Errorf("invalid json: %v", err)
			}
			return decoded, nil
		default:
			return v, nil
		}

	default:
		// string, text, uuid, enum: pass through as-is.
		return v, nil
	}
}

func castTime(v any, layout string) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(layout, t)
		if err != nil {
			// Dates frequently arrive with a full timestamp attached.
			if parsed, err2 := time.Parse(time.RFC3339, t); err2 == nil {
				return parsed, nil
			}
			return nil, fmt.Errorf("invalid date %q: %v", t, err)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("invalid date: %v", v)
}
