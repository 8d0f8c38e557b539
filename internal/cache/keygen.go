package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/optcoord/optcoord/pkg/errors"
	"github.com/optcoord/optcoord/pkg/types"
)

// GenerateKey derives the content-addressed cache key for a request:
//
//	<namespace>:<hash(canonical(config))>:<hash(canonical(usage))>
//
// Canonical serialization sorts object keys lexicographically at every
// nesting level, so two structurally equal requests built with different
// field-insertion orders map to the same key.
func GenerateKey(namespace string, cfg types.Value, usage []types.Value) (string, error) {
	cfgSum, err := hashCanonical(cfg)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeKeyGeneration, "config not serializable", err)
	}

	usageSum, err := hashCanonical(usage)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeKeyGeneration, "usage not serializable", err)
	}

	return fmt.Sprintf("%s:%016x:%016x", namespace, cfgSum, usageSum), nil
}

func hashCanonical(v interface{}) (uint64, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return 0, err
	}
	return xxhash.Sum64(buf.Bytes()), nil
}

// writeCanonical emits deterministic JSON: map keys sorted, arrays in
// order, scalars through encoding/json.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}
