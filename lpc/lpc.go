// Package lpc controls what the host sees in its LPC firmware space: the
// flash itself or the BMC reserved memory holding the windows.
package lpc

import (
	"fmt"
)

// DefaultDevice is the Aspeed LPC control device.
const DefaultDevice = "/dev/aspeed-lpc-ctrl"

// WindowType selects what an LPC mapping points at.
type WindowType uint8

// The window types of the Aspeed LPC controller.
const (
	WindowFlash  WindowType = 1
	WindowMemory WindowType = 2
)

func (t WindowType) String() string {
	switch t {
	case WindowFlash:
		return "flash"
	case WindowMemory:
		return "memory"
	default:
		return fmt.Sprintf("window type %d", uint8(t))
	}
}

// Mapping is one request to the LPC controller.
type Mapping struct {
	Type   WindowType
	ID     uint8
	Flags  uint16
	Addr   uint32
	Offset uint32
	Size   uint32
}

// Controller maps the host LPC firmware space.
type Controller interface {
	// Memory returns the reserved memory region.
	Memory() []byte

	// Base returns the LPC address the reserved memory is mapped at.
	Base() uint32

	// MapFlash points the host at the flash.
	MapFlash(flashSize uint32) error

	// MapMemory points the host at the reserved memory.
	MapMemory() error

	// Close releases the controller.
	Close() error
}

// fwSpace masks off the top nibble of an LPC address, which selects the
// host firmware space. Space 0 is used.
const fwSpace = 0x0FFFFFFF

// BaseFor returns the LPC address of a region of size bytes placed at the
// top of firmware space 0.
func BaseFor(size uint32) uint32 {
	return fwSpace & -size
}

// FlashMapping is the request pointing the host at a flash of flashSize
// bytes.
func FlashMapping(flashSize uint32) Mapping {
	return Mapping{
		Type: WindowFlash,
		Addr: BaseFor(flashSize),
		Size: flashSize,
	}
}

// MemoryMapping is the request pointing the host at the reserved memory.
func MemoryMapping(memSize uint32) Mapping {
	return Mapping{
		Type: WindowMemory,
		Addr: BaseFor(memSize),
		Size: memSize,
	}
}
