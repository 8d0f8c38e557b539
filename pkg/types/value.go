package types

import (
	"fmt"
)

// Value is a JSON-serializable payload: nil, bool, float64, string, int,
// []interface{}, or map[string]interface{} with Value-typed members. No
// schema is enforced at this layer; shape validation belongs to the compute
// function. ValidateValue rejects anything that cannot round-trip through
// JSON so malformed payloads fail at the boundary instead of deep inside
// key generation.
type Value = interface{}

// Request is the unit of work handed to the coordinator: an arbitrary
// configuration object plus the usage records relevant to it.
type Request struct {
	Config Value   `json:"config"`
	Usage  []Value `json:"usage"`
}

// ValidateValue checks that v is composed only of JSON-representable kinds.
func ValidateValue(v Value) error {
	return validateValue(v, 0)
}

// maxValueDepth bounds recursion so cyclic or absurdly nested payloads fail
// fast instead of overflowing the stack.
const maxValueDepth = 64

func validateValue(v Value, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("value nesting exceeds %d levels", maxValueDepth)
	}

	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case []interface{}:
		for i, elem := range val {
			if err := validateValue(elem, depth+1); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case map[string]interface{}:
		for k, elem := range val {
			if err := validateValue(elem, depth+1); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// Validate checks the request's config and usage payloads.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if err := ValidateValue(r.Config); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for i, u := range r.Usage {
		if err := ValidateValue(u); err != nil {
			return fmt.Errorf("usage[%d]: %w", i, err)
		}
	}
	return nil
}
