// Package file provides a backend that keeps the flash image in a regular
// file.
package file

import (
	"errors"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

const eraseSizeShift = 12

// Flash is a flash image stored in a file.
type Flash struct {
	f        *os.File
	path     string
	geometry backend.Geometry
	erased   *backend.EraseMap
	log      *logging.Logger
}

// Open opens or creates the image at path. An image shorter than flashSize
// is extended with erased bytes.
func Open(path string, flashSize uint32, log *logging.Logger) (*Flash, error) {
	if path == "" {
		return nil, errkind.New(errkind.Configuration, "file init",
			"the file backend needs a path")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendIO, "file init", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errkind.Wrap(errkind.BackendIO, "file init", err)
	}

	if flashSize == 0 {
		flashSize = uint32(info.Size())
	}

	if flashSize == 0 {
		_ = f.Close()
		return nil, errkind.New(errkind.Configuration, "file init",
			"cannot tell the flash size of empty file %s", path)
	}

	if info.Size() < int64(flashSize) {
		log.Infof("Extending %s from %s to %s", path,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(flashSize)))

		if err := fill(f, info.Size(), int64(flashSize)); err != nil {
			_ = f.Close()
			return nil, errkind.Wrap(errkind.BackendIO, "file init", err)
		}
	}

	return &Flash{
		f:    f,
		path: path,
		geometry: backend.Geometry{
			FlashSize:      flashSize,
			EraseSizeShift: eraseSizeShift,
		},
		erased: backend.NewEraseMap(flashSize, eraseSizeShift),
		log:    log,
	}, nil
}

func fill(f *os.File, from, to int64) error {
	ff := make([]byte, 1<<eraseSizeShift)
	for i := range ff {
		ff[i] = 0xff
	}

	for pos := from; pos < to; {
		n := int64(len(ff))
		if to-pos < n {
			n = to - pos
		}

		if _, err := f.WriteAt(ff[:n], pos); err != nil {
			return err
		}

		pos += n
	}

	return nil
}

// Name returns "file".
func (b *Flash) Name() string {
	return "file"
}

// Path returns the image path.
func (b *Flash) Path() string {
	return b.path
}

// Geometry returns the flash geometry.
func (b *Flash) Geometry() backend.Geometry {
	return b.geometry
}

// Copy reads the image into buf, stopping early at the end of the image.
func (b *Flash) Copy(offset uint32, buf []byte) (int, error) {
	if uint64(offset) >= uint64(b.geometry.FlashSize) {
		return 0, errkind.New(errkind.InvalidArgument, "file copy",
			"offset 0x%x beyond flash", offset)
	}

	if rest := b.geometry.FlashSize - offset; uint64(len(buf)) > uint64(rest) {
		buf = buf[:rest]
	}

	n, err := b.f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errkind.Wrap(errkind.BackendIO, "file copy", err)
	}

	return n, nil
}

// Write stores buf at offset.
func (b *Flash) Write(offset uint32, buf []byte) error {
	if uint64(offset)+uint64(len(buf)) > uint64(b.geometry.FlashSize) {
		return errkind.New(errkind.InvalidArgument, "file write",
			"range 0x%x+0x%x beyond flash", offset, len(buf))
	}

	if _, err := b.f.WriteAt(buf, int64(offset)); err != nil {
		return errkind.Wrap(errkind.BackendIO, "file write", err)
	}

	return b.erased.Set(offset, uint32(len(buf)), backend.Dirty)
}

// Erase fills the range with 0xff, skipping blocks known to be erased.
func (b *Flash) Erase(offset, length uint32) error {
	return b.erased.Erase(offset, length, func(start, n uint32) error {
		b.log.Debugf("Erase file @ 0x%.8x for 0x%.8x", start, n)

		if err := fill(b.f, int64(start), int64(start)+int64(n)); err != nil {
			return errkind.Wrap(errkind.BackendIO, "file erase", err)
		}

		return nil
	})
}

// SetBytemap records the erase state of a range.
func (b *Flash) SetBytemap(offset, length uint32, state backend.BlockState) error {
	return b.erased.Set(offset, length, state)
}

// Reset copies the image into the reserved memory so the host reads it
// straight from there.
func (b *Flash) Reset(mem []byte) (backend.ResetMode, error) {
	n := len(mem)
	if uint64(n) > uint64(b.geometry.FlashSize) {
		n = int(b.geometry.FlashSize)
	}

	if _, err := b.Copy(0, mem[:n]); err != nil {
		return 0, err
	}

	return backend.PreferMemory, nil
}

// Close closes the image.
func (b *Flash) Close() error {
	return b.f.Close()
}
