package nodekey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"increment/domain/nodekey"
)

func TestCanonicalDeterministic(t *testing.T) {
	k := nodekey.New("f", []interface{}{1.0, "x"})
	c1, err := k.Canonical()
	require.NoError(t, err)
	c2, err := k.Canonical()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Equal(t, `{"head":"f","args":[1,"x"]}`, c1)
}

func TestCanonicalZeroArity(t *testing.T) {
	k := nodekey.New("a", nil)
	c, err := k.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"head":"a","args":[]}`, c)
}

func TestCanonicalSortsNestedObjectKeys(t *testing.T) {
	k := nodekey.New("f", []interface{}{map[string]interface{}{"b": 1, "a": 2}})
	c, err := k.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"head":"f","args":[{"a":2,"b":1}]}`, c)
}

func TestDecodeRoundTrip(t *testing.T) {
	k := nodekey.New("f", []interface{}{1.0, "x"})
	c, err := k.Canonical()
	require.NoError(t, err)

	decoded, err := nodekey.Decode(c)
	require.NoError(t, err)
	assert.True(t, nodekey.Equal(k, decoded))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := nodekey.Decode("not json")
	require.Error(t, err)

	_, err = nodekey.Decode(`{"args":[]}`)
	require.Error(t, err)
}

func TestEqualDistinguishesArgOrder(t *testing.T) {
	a := nodekey.New("g", []interface{}{1.0, 2.0})
	b := nodekey.New("g", []interface{}{2.0, 1.0})
	assert.False(t, nodekey.Equal(a, b))
}
