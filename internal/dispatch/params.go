// File: internal/dispatch/params.go
package dispatch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Params is the decoded message of an operation request.
type Params map[string]any

// number is satisfied by json.Number and the equivalent types of other codecs.
type number interface {
	Float64() (float64, error)
	String() string
}

// Text returns a required, non-empty string parameter.
func (p Params) Text(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidParameters, key)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case number:
		s = t.String()
	default:
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParameters, key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidParameters, key)
	}
	return s, nil
}

// Float returns a numeric parameter. Numbers may arrive as JSON numbers or strings.
// ok is false when the key is absent.
func (p Params) Float(key string) (f float64, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case number:
		f, err = t.Float64()
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, true, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParameters, key, v)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%w: %s is not a valid number: %v", ErrInvalidParameters, key, v)
	}
	return f, true, nil
}

// Int returns a required integer parameter.
func (p Params) Int(key string) (int, error) {
	f, ok, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidParameters, key)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameters, key, f)
	}
	return int(f), nil
}

// Seconds returns an optional duration given in (possibly fractional) seconds.
func (p Params) Seconds(key string) (time.Duration, bool, error) {
	f, ok, err := p.Float(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if f < 0 {
		return 0, true, fmt.Errorf("%w: %s must not be negative", ErrInvalidParameters, key)
	}
	return time.Duration(f * float64(time.Second)), true, nil
}

// Bool returns an optional flag. Strings such as "true" and "1" are accepted.
func (p Params) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidParameters, key, t)
		}
		return b, nil
	case number:
		f, err := t.Float64()
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
		}
		return f != 0, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidParameters, key, v)
	}
}
