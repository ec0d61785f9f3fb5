//go:build !linux

package daemon

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

func openMTD(string, uint32, *logging.Logger) (backend.Backend, error) {
	return nil, errkind.New(errkind.Unsupported, "mtd init",
		"MTD devices need Linux")
}

func pnorSize() (uint32, error) {
	return 0, errkind.New(errkind.Unsupported, "vpnor init",
		"the flash size must be given without an MTD device")
}
