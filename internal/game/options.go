package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Options are the table-level settings a game is started with. Values are
// read through typed getters that fall back to a caller-supplied default.
type Options struct {
	values map[string]any
}

// NewOptions copies values into a new Options.
func NewOptions(values map[string]any) Options {
	o := Options{values: make(map[string]any, len(values))}
	for k, v := range values {
		o.values[k] = v
	}
	return o
}

func (o Options) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Keys returns the option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o.values))
	for k := range o.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of o with key set to value.
func (o Options) With(key string, value any) Options {
	n := NewOptions(o.values)
	n.values[key] = value
	return n
}

func (o Options) String(key, def string) (string, error) {
	v, ok := o.values[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOptions, key, v)
	}
	return s, nil
}

func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.values[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidOptions, key, v)
	}
	return b, nil
}

func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	}
	return def, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidOptions, key, v)
}

func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	}
	return def, fmt.Errorf("%w: %s must be a number, got %v", ErrInvalidOptions, key, v)
}

// IntRange reads an integer option and rejects values outside [min, max].
func (o Options) IntRange(key string, def, min, max int) (int, error) {
	n, err := o.Int(key, def)
	if err != nil {
		return def, err
	}
	if n < min || n > max {
		return def, fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidOptions, key, min, max, n)
	}
	return n, nil
}

// Enum reads a string option restricted to allowed values.
func Enum[T ~string](o Options, key string, def T, allowed ...T) (T, error) {
	s, err := o.String(key, string(def))
	if err != nil {
		return def, err
	}
	for _, a := range allowed {
		if string(a) == s {
			return a, nil
		}
	}
	return def, fmt.Errorf("%w: %s has unknown value %q", ErrInvalidOptions, key, s)
}

func (o Options) MarshalJSON() ([]byte, error) {
	if o.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o.values)
}

func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	o.values = make(map[string]any, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				o.values[k] = i
				continue
			}
			f, err := n.Float64()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidOptions, k, err)
			}
			o.values[k] = f
			continue
		}
		o.values[k] = v
	}
	return nil
}
