// Package windows manages the pool of windows carved out of the reserved
// memory region. Each window mirrors a region of flash; the pool decides
// which window holds which region, tracks per-block dirty and erased state,
// and writes changes back to the backend.
package windows

import (
	"github.com/sarchlab/mboxd/backend"
)

// Uninitialised is the flash offset of a window that maps nothing.
const Uninitialised = ^uint32(0)

// A Window is one fixed-capacity slice of the reserved memory.
type Window struct {
	index       int
	memOffset   uint32
	capacity    uint32
	size        uint32
	flashOffset uint32
	age         uint32
	bytemap     []backend.BlockState
}

// Index returns the position of the window in the pool.
func (w *Window) Index() int {
	return w.index
}

// MemOffset returns where the window starts in the reserved memory.
func (w *Window) MemOffset() uint32 {
	return w.memOffset
}

// Size returns the number of bytes the window currently maps.
func (w *Window) Size() uint32 {
	return w.size
}

// FlashOffset returns the flash offset the window maps, or Uninitialised.
func (w *Window) FlashOffset() uint32 {
	return w.flashOffset
}

// Age returns the eviction age of the window. Larger is more recent.
func (w *Window) Age() uint32 {
	return w.age
}

// IsInitialised reports whether the window maps flash.
func (w *Window) IsInitialised() bool {
	return w.flashOffset != Uninitialised
}

// Contains reports whether the window maps the flash byte at offset.
func (w *Window) Contains(offset uint32) bool {
	if !w.IsInitialised() {
		return false
	}

	return offset >= w.flashOffset &&
		uint64(offset) < uint64(w.flashOffset)+uint64(w.size)
}

// Bytemap returns the per-block state of the window. The slice aliases the
// window's own state.
func (w *Window) Bytemap() []backend.BlockState {
	return w.bytemap
}
