package libcontainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	valid := []string{"a", "my-container_1.0", "A1"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", "has space", "slash/here", string(make([]byte, 254))}
	for _, id := range invalid {
		assert.Error(t, ValidateID(id), id)
	}
}

func TestLiveNamespacePaths(t *testing.T) {
	paths := NamespacePaths{NsPID: "/proc/1/ns/pid"}

	running := &State{Status: StatusRunning, NamespacePaths: paths}
	assert.Equal(t, paths, running.liveNamespacePaths())

	stopped := &State{Status: StatusStopped, NamespacePaths: paths}
	assert.Nil(t, stopped.liveNamespacePaths())
}
