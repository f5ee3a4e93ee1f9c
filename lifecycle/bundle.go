package lifecycle

import (
	"os"

	lc "github.com/runcellio/runcell/libcontainer"
	"github.com/runcellio/runcell/libcontainer/utils"
)

// writeConfigJSON persists the ephemeral Spec as the bundle's
// config.json (spec.md §3: "Not persisted separately; derived into an
// on-disk config.json in the bundle", §6 filesystem layout).
func writeConfigJSON(path string, spec *lc.Spec) error {
	f, err := os.Create(path)
	if err != nil {
		return lc.NewError(lc.ErrIoFailure, "create config.json", err)
	}
	defer f.Close()
	if err := utils.WriteJSON(f, spec); err != nil {
		return lc.NewError(lc.ErrIoFailure, "write config.json", err)
	}
	return nil
}
