// Package backend defines the storage contract the window pool and protocol
// handlers depend on, together with the defaults for the optional parts of
// that contract.
package backend

import (
	"github.com/sarchlab/mboxd/internal/align"
)

// ResetMode tells the protocol where the LPC bus should point after a backend
// reset.
type ResetMode int

// The reset modes.
const (
	PreferFlash ResetMode = iota + 1
	PreferMemory
)

func (m ResetMode) String() string {
	switch m {
	case PreferFlash:
		return "flash"
	case PreferMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// BlockState is the state of one block in a bytemap.
type BlockState uint8

// The block states. Clean is only used by window bytemaps.
const (
	Clean BlockState = iota
	Dirty
	Erased
)

func (s BlockState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Erased:
		return "erased"
	default:
		return "unknown"
	}
}

// Geometry describes the attached flash.
type Geometry struct {
	FlashSize      uint32
	EraseSizeShift uint32
}

// EraseSize returns the erase block size in bytes.
func (g Geometry) EraseSize() uint32 {
	return 1 << g.EraseSizeShift
}

// Backend is the flash storage behind the windows.
type Backend interface {
	// Name identifies the backend kind in logs and status output.
	Name() string

	// Geometry returns the flash size and erase granularity.
	Geometry() Geometry

	// Copy reads flash into buf starting at offset. It may copy fewer bytes
	// than len(buf) and returns the number copied.
	Copy(offset uint32, buf []byte) (int, error)

	// Write stores buf at offset. The range must have been erased first.
	Write(offset uint32, buf []byte) error

	// Erase erases length bytes at offset.
	Erase(offset, length uint32) error

	// Reset restores the backend to its pristine state, optionally staging
	// content into mem, and tells the caller where the LPC bus should point.
	Reset(mem []byte) (ResetMode, error)

	// Close releases the backend.
	Close() error
}

// BytemapSetter is implemented by backends that track which erase blocks
// are known to be erased.
type BytemapSetter interface {
	SetBytemap(offset, length uint32, state BlockState) error
}

// Validator is implemented by backends with a read/write policy per region.
type Validator interface {
	Validate(offset, length uint32, readOnly bool) error
}

// OffsetAligner is implemented by backends that align windows to something
// other than the window size.
type OffsetAligner interface {
	AlignOffset(offset, windowSize uint32) (uint32, error)
}

// SetBytemap forwards to b if it tracks erase state, and does nothing
// otherwise.
func SetBytemap(b Backend, offset, length uint32, state BlockState) error {
	setter, ok := b.(BytemapSetter)
	if !ok {
		return nil
	}

	return setter.SetBytemap(offset, length, state)
}

// Validate forwards to b if it has an access policy. Every access is valid
// otherwise.
func Validate(b Backend, offset, length uint32, readOnly bool) error {
	validator, ok := b.(Validator)
	if !ok {
		return nil
	}

	return validator.Validate(offset, length, readOnly)
}

// AlignOffset forwards to b if it has an alignment policy. Otherwise the
// offset is aligned down to the window size, which must be a power of two.
func AlignOffset(b Backend, offset, windowSize uint32) (uint32, error) {
	aligner, ok := b.(OffsetAligner)
	if !ok {
		return align.Down(offset, windowSize), nil
	}

	return aligner.AlignOffset(offset, windowSize)
}
