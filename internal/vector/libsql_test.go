package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorToString(t *testing.T) {
	x := &LibsqlIndex{dims: 3}

	s, err := x.vectorToString([]float32{1, 0.5, -2})
	require.NoError(t, err)
	assert.Equal(t, "[1.000000, 0.500000, -2.000000]", s)

	_, err = x.vectorToString([]float32{1, 2})
	require.Error(t, err)

	nan := float32(0)
	nan /= nan
	_, err = x.vectorToString([]float32{1, nan, 3})
	require.Error(t, err)
}
