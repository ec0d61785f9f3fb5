package mbox

import (
	"os"

	"github.com/sarchlab/mboxd/errkind"
)

// DefaultDevice is the Aspeed mailbox character device.
const DefaultDevice = "/dev/aspeed-mbox"

// Device moves register blocks between the host and the daemon.
type Device interface {
	// ReadRequest blocks until the host writes a command.
	ReadRequest() (Request, error)

	// WriteResponse answers the last command.
	WriteResponse(resp Response) error

	// PutEvents writes the BMC event register.
	PutEvents(events uint8) error

	// Close releases the device. A blocked ReadRequest returns an error.
	Close() error
}

type fileDevice struct {
	f *os.File
}

// Open opens a mailbox character device. An empty path opens
// DefaultDevice.
func Open(path string) (Device, error) {
	if path == "" {
		path = DefaultDevice
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "mbox open", err)
	}

	return &fileDevice{f: f}, nil
}

func (d *fileDevice) ReadRequest() (Request, error) {
	b := make([]byte, RegisterSize)

	n, err := d.f.ReadAt(b, 0)
	if err != nil && n < RegisterSize {
		return Request{}, errkind.Wrap(errkind.BackendIO, "mbox read", err)
	}

	return DecodeRequest(b[:n])
}

func (d *fileDevice) WriteResponse(resp Response) error {
	b := resp.Encode()

	n, err := d.f.WriteAt(b, 0)
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "mbox write", err)
	}

	if n < len(b) {
		return errkind.New(errkind.BackendIO, "mbox write",
			"didn't write the full response: %d of %d", n, len(b))
	}

	return nil
}

func (d *fileDevice) PutEvents(events uint8) error {
	if _, err := d.f.WriteAt([]byte{events}, EventOffset); err != nil {
		return errkind.Wrap(errkind.BackendIO, "mbox events", err)
	}

	return nil
}

func (d *fileDevice) Close() error {
	return d.f.Close()
}
