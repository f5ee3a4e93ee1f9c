package libcontainer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := NewError(ErrNotFound, "load state", fmt.Errorf("no such file"))
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ErrNotFound, kind)

	_, ok = KindOf(fmt.Errorf("plain error"))
	assert.False(t, ok)
}

func TestNewExecFailedStatus(t *testing.T) {
	err := NewExecFailed(2)
	assert.Equal(t, ErrExecFailed, err.Kind)
	assert.Equal(t, 2, err.Status)
}

func TestNewChildCrashedMessage(t *testing.T) {
	err := NewChildCrashed("intermediate", 137)
	assert.Equal(t, ErrChildCrashed, err.Kind)
	assert.Contains(t, err.Error(), "intermediate")
	assert.Contains(t, err.Error(), "137")
}

func TestErrorMessageIncludesStepAndCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := NewError(ErrIoFailure, "write", cause)
	assert.Contains(t, err.Error(), "underlying")
	assert.Contains(t, err.Error(), "write")
}
