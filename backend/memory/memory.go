// Package memory provides a flash backend held in process memory. It backs
// the simulated daemon and the tests of the packages above it.
//
// The flash is managed in units, similar to pages. Units that have never been
// written are not allocated and read as erased flash.
package memory

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
)

const unitSize = 4096

// Range is an offset and a length in bytes.
type Range struct {
	Offset uint32
	Length uint32
}

// Flash is a sparse in-memory flash device.
type Flash struct {
	geometry backend.Geometry
	data     map[uint32][]byte
	erased   *backend.EraseMap
	resetTo  backend.ResetMode
	closed   bool

	// EraseCalls and WriteCalls record every erase and write that reached
	// the device.
	EraseCalls []Range
	WriteCalls []Range
}

// New creates a flash of flashSize bytes with erase blocks of
// 1<<eraseSizeShift bytes.
func New(flashSize, eraseSizeShift uint32) *Flash {
	return &Flash{
		geometry: backend.Geometry{
			FlashSize:      flashSize,
			EraseSizeShift: eraseSizeShift,
		},
		data:    make(map[uint32][]byte),
		erased:  backend.NewEraseMap(flashSize, eraseSizeShift),
		resetTo: backend.PreferFlash,
	}
}

// WithResetMode makes Reset report mode instead of PreferFlash.
func (f *Flash) WithResetMode(mode backend.ResetMode) *Flash {
	f.resetTo = mode
	return f
}

// Name returns "memory".
func (f *Flash) Name() string {
	return "memory"
}

// Geometry returns the flash geometry.
func (f *Flash) Geometry() backend.Geometry {
	return f.geometry
}

func (f *Flash) unit(addr uint32) []byte {
	base := align.Down(addr, unitSize)

	u, ok := f.data[base]
	if !ok {
		u = make([]byte, unitSize)
		for i := range u {
			u[i] = 0xff
		}

		f.data[base] = u
	}

	return u
}

func (f *Flash) checkRange(op string, offset uint32, length int) error {
	if f.closed {
		return errkind.New(errkind.BackendIO, op, "flash is closed")
	}

	if uint64(offset)+uint64(length) > uint64(f.geometry.FlashSize) {
		return errkind.New(errkind.InvalidArgument, op,
			"range 0x%x+0x%x beyond flash size 0x%x",
			offset, length, f.geometry.FlashSize)
	}

	return nil
}

// Read returns length bytes at offset.
func (f *Flash) Read(offset, length uint32) ([]byte, error) {
	buf := make([]byte, length)

	n, err := f.Copy(offset, buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// Load stores data at offset without touching the erase map or the call
// records. It is the way to give the flash its initial content.
func (f *Flash) Load(offset uint32, data []byte) error {
	if err := f.checkRange("load", offset, len(data)); err != nil {
		return err
	}

	f.store(offset, data)

	return nil
}

// Copy reads flash into buf.
func (f *Flash) Copy(offset uint32, buf []byte) (int, error) {
	if err := f.checkRange("copy", offset, len(buf)); err != nil {
		return 0, err
	}

	addr := offset
	done := 0

	for done < len(buf) {
		u := f.unit(addr)
		inUnit := addr % unitSize
		n := copy(buf[done:], u[inUnit:])

		done += n
		addr += uint32(n)
	}

	return done, nil
}

func (f *Flash) store(offset uint32, data []byte) {
	addr := offset
	done := 0

	for done < len(data) {
		u := f.unit(addr)
		inUnit := addr % unitSize
		n := copy(u[inUnit:], data[done:])

		done += n
		addr += uint32(n)
	}
}

// Write stores buf at offset and marks the touched erase blocks dirty.
func (f *Flash) Write(offset uint32, buf []byte) error {
	if err := f.checkRange("write", offset, len(buf)); err != nil {
		return err
	}

	f.WriteCalls = append(f.WriteCalls, Range{offset, uint32(len(buf))})
	f.store(offset, buf)

	return f.erased.Set(offset, uint32(len(buf)), backend.Dirty)
}

// Erase sets the range to 0xff, skipping erase blocks already erased.
func (f *Flash) Erase(offset, length uint32) error {
	if err := f.checkRange("erase", offset, int(length)); err != nil {
		return err
	}

	return f.erased.Erase(offset, length, func(start, n uint32) error {
		f.EraseCalls = append(f.EraseCalls, Range{start, n})

		ff := make([]byte, n)
		for i := range ff {
			ff[i] = 0xff
		}

		f.store(start, ff)

		return nil
	})
}

// SetBytemap records the erase state of a range.
func (f *Flash) SetBytemap(offset, length uint32, state backend.BlockState) error {
	return f.erased.Set(offset, length, state)
}

// Reset reports the configured reset mode. When the mode is PreferMemory the
// start of the flash is staged into mem.
func (f *Flash) Reset(mem []byte) (backend.ResetMode, error) {
	if f.resetTo == backend.PreferMemory {
		n := len(mem)
		if uint32(n) > f.geometry.FlashSize {
			n = int(f.geometry.FlashSize)
		}

		if _, err := f.Copy(0, mem[:n]); err != nil {
			return 0, err
		}
	}

	return f.resetTo, nil
}

// Close releases the flash. Later accesses fail.
func (f *Flash) Close() error {
	f.closed = true
	f.data = nil

	return nil
}
