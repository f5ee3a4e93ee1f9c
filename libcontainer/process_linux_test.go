// +build linux

package libcontainer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runcellio/runcell/libcontainer/namespace"
)

func TestJoinSplitKindsRoundTrip(t *testing.T) {
	kinds := []namespace.Kind{namespace.Mount, namespace.PID, namespace.Net}
	joined := joinKinds(kinds)
	assert.Equal(t, "mnt,pid,net", joined)
	assert.Equal(t, kinds, splitKinds(joined))
}

func TestSplitKindsEmpty(t *testing.T) {
	assert.Nil(t, splitKinds(""))
}

func TestJoinKindsEmpty(t *testing.T) {
	assert.Equal(t, "", joinKinds(nil))
}
