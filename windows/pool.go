package windows

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
	"github.com/sarchlab/mboxd/logging"
)

// Pool is the set of windows sharing the reserved memory region.
type Pool struct {
	mem          []byte
	windows      []*Window
	defaultSize  uint32
	maxAge       uint32
	blockShift   uint32
	legacy       bool
	backend      backend.Backend
	victimFinder VictimFinder
	log          *logging.Logger
}

// Windows returns every window in index order.
func (p *Pool) Windows() []*Window {
	return p.windows
}

// NumWindows returns the number of windows.
func (p *Pool) NumWindows() int {
	return len(p.windows)
}

// DefaultSize returns the configured window size.
func (p *Pool) DefaultSize() uint32 {
	return p.defaultSize
}

// MaxAge returns the age given to the most recently used window.
func (p *Pool) MaxAge() uint32 {
	return p.maxAge
}

// Memory returns the whole reserved memory region.
func (p *Pool) Memory() []byte {
	return p.mem
}

// Backend returns the backend the windows mirror.
func (p *Pool) Backend() backend.Backend {
	return p.backend
}

// SetBackend replaces the backend. Callers reset the windows first since
// their content belongs to the old backend.
func (p *Pool) SetBackend(be backend.Backend) {
	p.backend = be
}

// BlockSizeShift returns the block size the bytemaps are kept in.
func (p *Pool) BlockSizeShift() uint32 {
	return p.blockShift
}

// Data returns the memory of the bytes the window currently maps.
func (p *Pool) Data(w *Window) []byte {
	return p.mem[w.memOffset : w.memOffset+w.size]
}

func (p *Pool) capacityData(w *Window) []byte {
	return p.mem[w.memOffset : w.memOffset+w.capacity]
}

// SetLayout sets the protocol block size and whether legacy (V1) window
// rules apply, and reallocates every bytemap for the new block size. An
// unchanged layout keeps the bytemaps and their pending dirty blocks.
func (p *Pool) SetLayout(blockSizeShift uint32, legacy bool) {
	if p.hasBytemaps() && blockSizeShift == p.blockShift && legacy == p.legacy {
		return
	}

	p.blockShift = blockSizeShift
	p.legacy = legacy

	for _, w := range p.windows {
		full := make([]backend.BlockState, p.defaultSize>>blockSizeShift)
		w.bytemap = full[:w.size>>blockSizeShift]
	}
}

func (p *Pool) hasBytemaps() bool {
	return len(p.windows) > 0 && p.windows[0].bytemap != nil
}

// Legacy reports whether V1 window rules apply.
func (p *Pool) Legacy() bool {
	return p.legacy
}

// SetBytemap sets count blocks starting at block offset of the window to
// state.
func (p *Pool) SetBytemap(
	w *Window,
	offset, count uint32,
	state backend.BlockState,
) error {
	if w.bytemap == nil ||
		uint64(offset)+uint64(count) > uint64(w.size>>p.blockShift) {
		p.log.Errorf("Tried to set window bytemap past end of window: "+
			"offset 0x%x, count 0x%x, window size 0x%x",
			offset, count, w.size>>p.blockShift)

		return errkind.New(errkind.Window, "set window bytemap",
			"blocks 0x%x+0x%x beyond window of 0x%x blocks",
			offset, count, w.size>>p.blockShift)
	}

	for i := offset; i < offset+count; i++ {
		w.bytemap[i] = state
	}

	return nil
}

// Reset returns the window to the uninitialised state.
func (p *Pool) Reset(w *Window) {
	w.flashOffset = Uninitialised
	w.size = w.capacity

	if w.bytemap != nil {
		w.bytemap = w.bytemap[:w.size>>p.blockShift]
		for i := range w.bytemap {
			w.bytemap[i] = backend.Clean
		}
	}

	w.age = 0
}

// ResetAll resets every window and the age counter.
func (p *Pool) ResetAll() {
	p.log.Debugf("Resetting all windows")

	p.maxAge = 0
	for _, w := range p.windows {
		p.Reset(w)
	}
}

// Expire makes the window the next one to be evicted among the initialised
// windows by zeroing its age.
func (p *Pool) Expire(w *Window) {
	w.age = 0
}

// FindOldest returns the least recently used window.
func (p *Pool) FindOldest() *Window {
	return FindOldest(p.windows)
}

// FindLargest returns the largest window.
func (p *Pool) FindLargest() *Window {
	return FindLargest(p.windows)
}

func (p *Pool) touch(w *Window) {
	p.maxAge++
	w.age = p.maxAge
}

// Search looks for a window mapping offset. With exact set the window must
// start at offset. A hit makes the window the most recently used. Searching
// for Uninitialised with exact set finds a window that maps nothing.
func (p *Pool) Search(offset uint32, exact bool) *Window {
	p.log.Debugf("Searching for window which contains 0x%.8x (exact %t)",
		offset, exact)

	for _, w := range p.windows {
		if !w.IsInitialised() {
			if offset == Uninitialised {
				return w
			}

			continue
		}

		if !w.Contains(offset) {
			continue
		}

		if exact && w.flashOffset != offset {
			continue
		}

		p.touch(w)

		return w
	}

	return nil
}

// CreateMap loads a window with the flash at offset, evicting a window if
// none is free. Unless exact is set the offset is aligned by the backend's
// policy first; an offset the backend cannot align is used as is.
func (p *Pool) CreateMap(offset uint32, exact bool) (*Window, error) {
	w := p.victimFinder.FindVictim(p.windows)
	if w.IsInitialised() {
		p.log.Debugf("No uninitialised window, evicting window %d", w.index)
	}

	p.Reset(w)

	if w.bytemap == nil {
		return nil, errkind.New(errkind.Internal, "create window",
			"window bytemaps are not allocated before negotiation")
	}

	if !exact {
		aligned, err := backend.AlignOffset(p.backend, offset, w.size)
		if err != nil {
			p.log.Errorf("Can't adjust the offset by backend: %v", err)
		} else {
			offset = aligned
		}
	}

	flashSize := p.backend.Geometry().FlashSize
	blockSize := uint32(1) << p.blockShift

	if offset > flashSize {
		p.log.Errorf("Tried to open window past flash limit: 0x%.8x", offset)

		return nil, errkind.New(errkind.InvalidArgument, "create window",
			"offset 0x%x beyond flash size 0x%x", offset, flashSize)
	}

	if uint64(offset)+uint64(w.size) > uint64(flashSize) {
		if p.legacy {
			w.size = align.Down(flashSize-offset, blockSize)
		} else {
			w.size = flashSize - offset
		}
	}

	mem := p.capacityData(w)

	n, err := p.backend.Copy(offset, mem[:w.size])
	if err != nil {
		p.Reset(w)
		return nil, errkind.Wrap(errkind.BackendIO, "create window", err)
	}

	w.size = align.Up(uint32(n), blockSize)
	for i := n; i < int(w.size); i++ {
		mem[i] = 0xff
	}

	if p.legacy {
		p.evictOverlapping(w, offset)
	}

	w.bytemap = w.bytemap[:w.size>>p.blockShift]
	if err := p.SetBytemap(w, 0, w.size>>p.blockShift, backend.Clean); err != nil {
		return nil, err
	}

	w.flashOffset = offset
	p.touch(w)

	p.log.Debugf("Window %d maps flash 0x%.8x for 0x%.8x bytes",
		w.index, w.flashOffset, w.size)

	return w, nil
}

// evictOverlapping resets every other window that maps the first or the
// last byte of [offset, offset+w.size). All windows share one size, so an
// overlapping window must contain one of the two.
func (p *Pool) evictOverlapping(w *Window, offset uint32) {
	ends := []uint32{offset}
	if w.size > 1 {
		ends = append(ends, offset+w.size-1)
	}

	for _, end := range ends {
		for {
			other := p.Search(end, false)
			if other == nil {
				break
			}

			p.log.Debugf("Evicting window %d overlapping 0x%.8x",
				other.index, end)
			p.Reset(other)
		}
	}
}
