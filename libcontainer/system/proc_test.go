package system

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatCommWithSpacesAndParens(t *testing.T) {
	line := "1234 (my (weird) proc) S 1 1234 1234 0 -1 4194560 100 0 0 0 10 5 0 0 20 0 1 0 56789 0 0\n"
	st, err := parseStat(line)
	require.NoError(t, err)
	assert.Equal(t, 1234, st.PID)
	assert.Equal(t, "my (weird) proc", st.Comm)
	assert.Equal(t, byte('S'), st.State)
	assert.Equal(t, uint64(56789), st.StartTime)
}

func TestParseStatMalformed(t *testing.T) {
	_, err := parseStat("not a stat line at all")
	assert.Error(t, err)
}

func TestStatPIDSelf(t *testing.T) {
	st, err := StatPID(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.NotZero(t, st.StartTime)
}

func TestAliveMatchesCurrentProcess(t *testing.T) {
	st, err := StatPID(os.Getpid())
	require.NoError(t, err)
	assert.True(t, Alive(os.Getpid(), st.StartTime))
	assert.False(t, Alive(os.Getpid(), st.StartTime+1))
}

func TestAliveUnknownPID(t *testing.T) {
	assert.False(t, Alive(-1, 0))
}
