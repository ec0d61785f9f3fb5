// Package mtd provides the backend for a raw MTD flash device.
package mtd

import (
	"errors"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
	"github.com/sarchlab/mboxd/logging"
)

const chunkSize = 64 * 1024

// Info is what the device reports about itself.
type Info struct {
	Size      uint32
	EraseSize uint32
	WriteSize uint32
}

// Device is an MTD character device.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Info returns the device geometry.
	Info() (Info, error)

	// Erase erases length bytes starting at start. Both must be multiples
	// of the erase size.
	Erase(start, length uint32) error

	// Close releases the device.
	Close() error
}

// Flash is a backend on top of an MTD device.
type Flash struct {
	dev      Device
	geometry backend.Geometry
	erased   *backend.EraseMap
	log      *logging.Logger
}

// New creates the backend. A flashSize of zero uses the size the device
// reports.
func New(dev Device, flashSize uint32, log *logging.Logger) (*Flash, error) {
	info, err := dev.Info()
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendIO, "mtd init", err)
	}

	if !align.IsPowerOf2(info.EraseSize) {
		return nil, errkind.New(errkind.Configuration, "mtd init",
			"erase size 0x%x is not a power of two", info.EraseSize)
	}

	if flashSize == 0 {
		log.Errorf("Flash size MUST be supplied on the commandline. "+
			"However, continuing by assuming flash is %d bytes", info.Size)
		flashSize = info.Size
	}

	shift := align.Log2(info.EraseSize)
	log.Debugf("Flash erase size: %s", humanize.IBytes(uint64(info.EraseSize)))

	return &Flash{
		dev: dev,
		geometry: backend.Geometry{
			FlashSize:      flashSize,
			EraseSizeShift: shift,
		},
		erased: backend.NewEraseMap(flashSize, shift),
		log:    log,
	}, nil
}

// Name returns "mtd".
func (f *Flash) Name() string {
	return "mtd"
}

// Geometry returns the flash geometry.
func (f *Flash) Geometry() backend.Geometry {
	return f.geometry
}

// Copy reads the flash into buf in chunks. It stops early at the end of the
// device.
func (f *Flash) Copy(offset uint32, buf []byte) (int, error) {
	f.log.Debugf("Copy flash for size 0x%.8x from offset 0x%.8x",
		len(buf), offset)

	done := 0
	for done < len(buf) {
		end := done + chunkSize
		if end > len(buf) {
			end = len(buf)
		}

		n, err := f.dev.ReadAt(buf[done:end], int64(offset)+int64(done))
		done += n

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			f.log.Errorf("Couldn't copy mtd into ram: %v", err)
			return done, errkind.Wrap(errkind.BackendIO, "mtd copy", err)
		}
	}

	if done == 0 && len(buf) > 0 {
		return 0, errkind.New(errkind.BackendIO, "mtd copy",
			"nothing to read at 0x%x", offset)
	}

	return done, nil
}

// Write stores buf at offset and marks the touched erase blocks dirty.
func (f *Flash) Write(offset uint32, buf []byte) error {
	f.log.Debugf("Write flash @ 0x%.8x for 0x%.8x", offset, len(buf))

	n, err := f.dev.WriteAt(buf, int64(offset))
	if n > 0 {
		if setErr := f.erased.Set(offset, uint32(n), backend.Dirty); setErr != nil {
			return setErr
		}
	}

	if err != nil {
		f.log.Errorf("Couldn't write to flash, write lost: %v", err)
		return errkind.Wrap(errkind.BackendIO, "mtd write", err)
	}

	return nil
}

// Erase erases the range, skipping erase blocks known to be erased.
func (f *Flash) Erase(offset, length uint32) error {
	return f.erased.Erase(offset, length, func(start, n uint32) error {
		f.log.Debugf("Erase flash @ 0x%.8x for 0x%.8x", start, n)

		if err := f.dev.Erase(start, n); err != nil {
			f.log.Errorf("Couldn't erase flash at 0x%.8x", start)
			return errkind.Wrap(errkind.BackendIO, "mtd erase", err)
		}

		return nil
	})
}

// SetBytemap records the erase state of a range.
func (f *Flash) SetBytemap(offset, length uint32, state backend.BlockState) error {
	f.log.Debugf("Set flash bytemap @ 0x%.8x for 0x%.8x to %s",
		offset, length, state)

	return f.erased.Set(offset, length, state)
}

// Reset asks for the LPC bus to point at the flash.
func (f *Flash) Reset(_ []byte) (backend.ResetMode, error) {
	return backend.PreferFlash, nil
}

// Close closes the device.
func (f *Flash) Close() error {
	return f.dev.Close()
}
