// Package config is the engine's key/value configuration dictionary,
// and the JSON scenario files that drive triggersim.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
)

// Config holds per-trigger settings, such as "sensitivity" or "model_path".
// Values are JSON scalars. A nil Config behaves like an empty one.
type Config map[string]any

func (c Config) lookup(key string) (any, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", errkind.ErrKeyNotAvailable, key)
	}
	return v, nil
}

func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Config) GetInt(key string) (int, error) {
	v, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		// encoding/json produces float64 for every number
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %v must be an integer, not %v", errkind.ErrInvalidParameter, key, x)
		}
		return int(x), nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v must be an integer: %v", errkind.ErrInvalidParameter, key, err)
		}
		return int(i), nil
	}
	return 0, typeError(key, "an integer", v)
}

func (c Config) GetFloat(key string) (float64, error) {
	v, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v must be a number: %v", errkind.ErrInvalidParameter, key, err)
		}
		return f, nil
	}
	return 0, typeError(key, "a number", v)
}

func (c Config) GetString(key string) (string, error) {
	v, err := c.lookup(key)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", typeError(key, "a string", v)
}

func (c Config) GetBool(key string) (bool, error) {
	v, err := c.lookup(key)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, typeError(key, "a boolean", v)
}

// IntOr returns def if key is absent. A value of the wrong type is still an error.
func (c Config) IntOr(key string, def int) (int, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetInt(key)
}

// IntInRange is IntOr, with the result required to lie in [lo, hi]
func (c Config) IntInRange(key string, def, lo, hi int) (int, error) {
	v, err := c.IntOr(key, def)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %v must be between %v and %v (got %v)", errkind.ErrInvalidParameter, key, lo, hi, v)
	}
	return v, nil
}

func (c Config) BoolOr(key string, def bool) (bool, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetBool(key)
}

func (c Config) StringOr(key string, def string) (string, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetString(key)
}

func typeError(key, want string, got any) error {
	return fmt.Errorf("%w: %v must be %v, not %T", errkind.ErrInvalidParameter, key, want, got)
}

// LoadFile reads a JSON object of settings
func LoadFile(filename string) (Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}
