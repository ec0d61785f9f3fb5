package daemon

import (
	"github.com/dustin/go-humanize"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/backend/file"
	"github.com/sarchlab/mboxd/backend/memory"
	"github.com/sarchlab/mboxd/backend/vpnor"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

// memoryEraseShift is the erase size of the memory backend, 4KiB.
const memoryEraseShift = 12

// Opener builds the backends the daemon can switch between.
type Opener struct {
	FlashSize uint32
	VPNOR     vpnor.Paths
	Log       *logging.Logger
}

// OpenBackend creates the backend called name. The path is the device or
// file for the mtd and file backends.
func (o Opener) OpenBackend(name, path string) (backend.Backend, error) {
	var (
		be  backend.Backend
		err error
	)

	switch name {
	case "memory":
		if o.FlashSize == 0 {
			return nil, errkind.New(errkind.Configuration, "memory init",
				"the memory backend needs a flash size")
		}

		be = memory.New(o.FlashSize, memoryEraseShift)
	case "file":
		be, err = file.Open(path, o.FlashSize, o.Log)
	case "mtd":
		be, err = openMTD(path, o.FlashSize, o.Log)
	case "vpnor":
		be, err = o.openVPNOR()
	default:
		return nil, errkind.New(errkind.InvalidArgument, "open backend",
			"unknown backend %q", name)
	}

	if err != nil {
		return nil, err
	}

	o.Log.Infof("Using %s backend, flash size %s", be.Name(),
		humanize.IBytes(uint64(be.Geometry().FlashSize)))

	return be, nil
}

func (o Opener) openVPNOR() (backend.Backend, error) {
	flashSize := o.FlashSize

	if flashSize == 0 {
		size, err := pnorSize()
		if err != nil {
			return nil, err
		}

		o.Log.Infof("Using the size of the pnor device for the virtual pnor")

		flashSize = size
	}

	return vpnor.Open(o.VPNOR, flashSize, o.Log)
}
