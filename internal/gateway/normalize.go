package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
)

// NormalizeBool coerces a raw input into a boolean.
//
// Accepted forms:
//   - bool
//   - strings, trimmed and case-insensitive: "true", "on", "1" and
//     "false", "off", "0"
//   - integers and floats: 0 is false, any other value is true
//   - json.Number, by the numeric rule
//
// Anything else returns ErrUnrecognizedInput.
func NormalizeBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
	case int:
		return v != 0, nil
	case int8:
		return v != 0, nil
	case int16:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case uint:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case uint16:
		return v != 0, nil
	case uint32:
		return v != 0, nil
	case uint64:
		return v != 0, nil
	case float32:
		if !math.IsNaN(float64(v)) {
			return v != 0, nil
		}
	case float64:
		if !math.IsNaN(v) {
			return v != 0, nil
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && !math.IsNaN(f) {
			return f != 0, nil
		}
	}
	return false, fmt.Errorf("%w: %#v is not a boolean, use true/false, on/off or 1/0", ErrUnrecognizedInput, raw)
}

// normalizeNumber coerces a raw input into an int64 when it is integral,
// otherwise a float64. Numeric strings are accepted.
func normalizeNumber(raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrUnrecognizedInput, v)
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrUnrecognizedInput, v)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w: %#v is not a number", ErrUnrecognizedInput, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v is not a finite number", ErrUnrecognizedInput, f)
	}
	return f, nil
}

// normalize coerces raw to the given attribute kind.
func normalize(kind string, raw any) (any, error) {
	switch kind {
	case config.AttributeKindBool:
		return NormalizeBool(raw)
	case config.AttributeKindNumber:
		return normalizeNumber(raw)
	case config.AttributeKindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %#v is not a string", ErrUnrecognizedInput, raw)
		}
		return s, nil
	default:
		return raw, nil
	}
}
