package daemon

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/backend/mtd"
	"github.com/sarchlab/mboxd/logging"
)

func openMTD(path string, flashSize uint32, log *logging.Logger) (backend.Backend, error) {
	dev, err := mtd.Open(path)
	if err != nil {
		return nil, err
	}

	be, err := mtd.New(dev, flashSize, log)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	return be, nil
}

// pnorSize returns the size of the pnor MTD partition.
func pnorSize() (uint32, error) {
	dev, err := mtd.Open("")
	if err != nil {
		return 0, err
	}
	defer dev.Close()

	info, err := dev.Info()
	if err != nil {
		return 0, err
	}

	return info.Size, nil
}
