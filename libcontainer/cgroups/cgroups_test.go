package cgroups

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	bytes, err := ParseMemory("256m")
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024*1024), bytes)

	bytes, err = ParseMemory("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bytes)

	_, err = ParseMemory("not-a-size")
	assert.Error(t, err)
}
