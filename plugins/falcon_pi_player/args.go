package falcon_pi_player

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrInvalidArgument marks command data that is missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)

func floatArg(data map[string]any, key string) (float64, bool, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s: unsupported type %T", ErrInvalidArgument, key, raw)
	}
}

func stringArg(data map[string]any, key string) (string, bool) {
	v, ok := data[key].(string)
	return v, ok && v != ""
}
