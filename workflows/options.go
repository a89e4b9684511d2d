package workflows

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Options are the free-form key/value overrides a caller sends along with a workflow.
// Values are whatever encoding/json produced: float64, json.Number, string, bool, ...
type Options map[string]interface{}

// Keys returns the option names, sorted
func (o Options) Keys() []string {
	retv := make([]string, 0, len(o))
	for k := range o {
		retv = append(retv, k)
	}
	sort.Strings(retv)
	return retv
}

// Int returns the named option as an integer, or def when it is absent or not integral
func (o Options) Int(key string, def int64) int64 {
	v, ok := o[key]
	if !ok {
		return def
	}
	if i, ok := toInt64(v); ok {
		return i
	}
	return def
}

// Float returns the named option as a float, or def when it is absent or not numeric
func (o Options) Float(key string, def float64) float64 {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return def
}

// String returns the named option formatted as a string, or def when it is absent
func (o Options) String(key string, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MergeOptions returns a new set of options: defaults overlaid with overrides
func MergeOptions(defaults, overrides Options) Options {
	retv := make(Options, len(defaults)+len(overrides))
	for k, v := range defaults {
		retv[k] = v
	}
	for k, v := range overrides {
		retv[k] = v
	}
	return retv
}

// floatToInt64 converts integral floats inside the int64 range; float64(math.MaxInt64) is 2^63
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toInt64(v interface{}) (int64, bool) {
	switch value := v.(type) {
	case int:
		return int64(value), true
	case int64:
		return value, true
	case int32:
		return int64(value), true
	case float64:
		return floatToInt64(value)
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i, true
		}
		if f, err := value.Float64(); err == nil {
			return floatToInt64(f)
		}
	case string:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
