package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lc "github.com/runcellio/runcell/libcontainer"
)

func TestWriteConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	spec := &lc.Spec{Argv: []string{"/bin/sh"}, Cwd: "/", Hostname: "box"}

	require.NoError(t, writeConfigJSON(path, spec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/bin/sh")
	assert.Contains(t, string(data), "box")
}
