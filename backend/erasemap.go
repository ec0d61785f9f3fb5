package backend

import (
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
)

// EraseMap remembers, per erase block, whether the flash is known to be
// erased. Backends use it to skip erasing blocks that are already erased.
type EraseMap struct {
	shift  uint32
	blocks []BlockState
}

// NewEraseMap creates a map covering flashSize bytes. Every block starts out
// Dirty since nothing is known about the flash content.
func NewEraseMap(flashSize, eraseSizeShift uint32) *EraseMap {
	m := &EraseMap{
		shift:  eraseSizeShift,
		blocks: make([]BlockState, align.Blocks(flashSize, eraseSizeShift)),
	}

	m.fill(0, uint32(len(m.blocks)), Dirty)

	return m
}

// Set marks every erase block touched by [offset, offset+length).
func (m *EraseMap) Set(offset, length uint32, state BlockState) error {
	if state != Dirty && state != Erased {
		return errkind.New(errkind.InvalidArgument, "set bytemap",
			"state %s cannot be stored in an erase map", state)
	}

	if length == 0 {
		return nil
	}

	first := offset >> m.shift
	last := uint32((uint64(offset) + uint64(length) - 1) >> m.shift)
	count := last - first + 1

	if uint64(last) >= uint64(len(m.blocks)) {
		return errkind.New(errkind.InvalidArgument, "set bytemap",
			"range 0x%x+0x%x beyond flash", offset, length)
	}

	m.fill(first, count, state)

	return nil
}

// State returns the state of the erase block containing offset.
func (m *EraseMap) State(offset uint32) BlockState {
	return m.blocks[offset>>m.shift]
}

func (m *EraseMap) fill(first, count uint32, state BlockState) {
	for i := first; i < first+count; i++ {
		m.blocks[i] = state
	}
}

// Erase erases [offset, offset+length) with as few calls to erase as
// possible: runs of blocks not known to be erased are erased with one call
// each, and blocks already erased are skipped. Each run is marked erased once
// its call succeeds.
func (m *EraseMap) Erase(
	offset, length uint32,
	erase func(offset, length uint32) error,
) error {
	eraseSize := uint32(1) << m.shift
	start := align.Down(offset, eraseSize)
	end := uint64(offset) + uint64(length)

	if end > uint64(len(m.blocks))<<m.shift {
		return errkind.New(errkind.InvalidArgument, "erase",
			"range 0x%x+0x%x beyond flash", offset, length)
	}

	runStart, runLen := uint32(0), uint32(0)

	flushRun := func() error {
		if runLen == 0 {
			return nil
		}

		if err := erase(runStart, runLen); err != nil {
			return err
		}

		m.fill(runStart>>m.shift, runLen>>m.shift, Erased)
		runLen = 0

		return nil
	}

	for pos := uint64(start); pos < end; pos += uint64(eraseSize) {
		if m.blocks[pos>>m.shift] == Erased {
			if err := flushRun(); err != nil {
				return err
			}

			continue
		}

		if runLen == 0 {
			runStart = uint32(pos)
		}

		runLen += eraseSize
	}

	return flushRun()
}
