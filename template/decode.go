package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeSpec decodes a loosely-typed map (as produced by json.Unmarshal of a
// POST /jobs/<sid> body, spec.md §6) into a Spec. It accounts for the two
// wire-format quirks the HTTP schema allows: "args" may be a JSON array or a
// single string (split on whitespace; quotes are not interpreted), and "graceful_timeout"/
// "flapping" are expressed in plain seconds / a 4-element array rather than
// Go's native time.Duration and struct encodings.
func DecodeSpec(raw map[string]any) (Spec, error) {
	var spec Spec

	if argsRaw, ok := raw["args"]; ok {
		switch v := argsRaw.(type) {
		case string:
			raw["args"] = strings.Fields(v)
		case []any:
			// leave to mapstructure's native []string decoding
		}
	}

	flappingRaw, hasFlapping := raw["flapping"]
	delete(raw, "flapping")

	gtRaw, hasGT := raw["graceful_timeout"]
	delete(raw, "graceful_timeout")

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &spec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return spec, err
	}
	if err := dec.Decode(raw); err != nil {
		return spec, fmt.Errorf("decode spec: %w", err)
	}

	if hasGT {
		secs, err := toFloat(gtRaw)
		if err != nil {
			return spec, invalidSpec("graceful_timeout", "%v", err)
		}
		spec.GracefulTimeout = time.Duration(secs * float64(time.Second))
	}

	if hasFlapping {
		policy, err := decodeFlapping(flappingRaw)
		if err != nil {
			return spec, err
		}
		spec.Flapping = policy
	}

	return spec, nil
}

func decodeFlapping(raw any) (FlappingPolicy, error) {
	var zero FlappingPolicy
	items, ok := raw.([]any)
	if !ok || len(items) != 4 {
		return zero, invalidSpec("flapping", "must be [attempts,window,retry_in,max_retry]")
	}
	attempts, err := toInt(items[0])
	if err != nil {
		return zero, invalidSpec("flapping.attempts", "%v", err)
	}
	window, err := toFloat(items[1])
	if err != nil {
		return zero, invalidSpec("flapping.window", "%v", err)
	}
	retryIn, err := toFloat(items[2])
	if err != nil {
		return zero, invalidSpec("flapping.retry_in", "%v", err)
	}
	maxRetry, err := toInt(items[3])
	if err != nil {
		return zero, invalidSpec("flapping.max_retry", "%v", err)
	}
	return FlappingPolicy{
		Attempts: attempts,
		Window:   time.Duration(window * float64(time.Second)),
		RetryIn:  time.Duration(retryIn * float64(time.Second)),
		MaxRetry: maxRetry,
	}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toInt(v any) (int, error) {
	f, err := toFloat(v)
	return int(f), err
}
