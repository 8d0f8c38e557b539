package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optcoord/optcoord/pkg/types"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	// Two structurally equal configs built in different insertion orders.
	// Go map iteration order is randomized, so equality here demonstrates
	// canonicalization rather than accidental ordering.
	cfgA := map[string]interface{}{
		"alpha": 1.0,
		"beta":  map[string]interface{}{"x": true, "y": "s"},
		"gamma": []interface{}{1.0, 2.0},
	}
	cfgB := map[string]interface{}{
		"gamma": []interface{}{1.0, 2.0},
		"beta":  map[string]interface{}{"y": "s", "x": true},
		"alpha": 1.0,
	}

	usage := []types.Value{
		map[string]interface{}{"component": "Button", "count": 3.0},
	}

	keyA, err := GenerateKey("optimize", cfgA, usage)
	require.NoError(t, err)
	keyB, err := GenerateKey("optimize", cfgB, usage)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestGenerateKeyFormat(t *testing.T) {
	key, err := GenerateKey("optimize", map[string]interface{}{"a": 1.0}, nil)
	require.NoError(t, err)

	parts := strings.Split(key, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "optimize", parts[0])
	assert.Len(t, parts[1], 16)
	assert.Len(t, parts[2], 16)
}

func TestGenerateKeyDistinguishesContent(t *testing.T) {
	usage := []types.Value{map[string]interface{}{"n": 1.0}}

	keyA, err := GenerateKey("optimize", map[string]interface{}{"a": 1.0}, usage)
	require.NoError(t, err)
	keyB, err := GenerateKey("optimize", map[string]interface{}{"a": 2.0}, usage)
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

func TestGenerateKeyUsageMatters(t *testing.T) {
	cfg := map[string]interface{}{"a": 1.0}

	keyA, err := GenerateKey("optimize", cfg, []types.Value{"u1"})
	require.NoError(t, err)
	keyB, err := GenerateKey("optimize", cfg, []types.Value{"u2"})
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

func TestGenerateKeyUnserializable(t *testing.T) {
	_, err := GenerateKey("optimize", map[string]interface{}{"fn": func() {}}, nil)
	require.Error(t, err)
}

func TestWriteCanonicalNested(t *testing.T) {
	v := map[string]interface{}{
		"z": map[string]interface{}{"b": 2.0, "a": 1.0},
		"a": []interface{}{map[string]interface{}{"k2": "v", "k1": "u"}},
	}

	sumA, err := hashCanonical(v)
	require.NoError(t, err)

	// Rebuild with reversed insertion order at every level
	w := map[string]interface{}{
		"a": []interface{}{map[string]interface{}{"k1": "u", "k2": "v"}},
		"z": map[string]interface{}{"a": 1.0, "b": 2.0},
	}
	sumB, err := hashCanonical(w)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
}
