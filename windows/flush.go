package windows

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
)

// Flush writes count blocks starting at block offset of the window back to
// the backend. Erased blocks are only erased; dirty blocks are erased and
// rewritten from the window memory.
func (p *Pool) Flush(w *Window, offset, count uint32, state backend.BlockState) error {
	offsetBytes := offset << p.blockShift
	countBytes := count << p.blockShift
	flashOffset := w.flashOffset + offsetBytes

	switch state {
	case backend.Erased:
		if err := p.backend.Erase(flashOffset, countBytes); err != nil {
			p.log.Errorf("Couldn't erase flash at 0x%.8x: %v", flashOffset, err)
			return errkind.Wrap(errkind.BackendIO, "flush", err)
		}
	case backend.Dirty:
		if p.backend.Geometry().EraseSizeShift != p.blockShift {
			return p.flushPartialErase(w, offsetBytes, countBytes)
		}

		if err := p.backend.Erase(flashOffset, countBytes); err != nil {
			return errkind.Wrap(errkind.BackendIO, "flush", err)
		}

		data := p.Data(w)[offsetBytes : offsetBytes+countBytes]
		if err := p.backend.Write(flashOffset, data); err != nil {
			return errkind.Wrap(errkind.BackendIO, "flush", err)
		}
	default:
		return errkind.New(errkind.Internal, "flush",
			"cannot flush blocks in state %s", state)
	}

	return nil
}

// flushPartialErase writes a dirty range when the erase block is larger than
// the protocol block. Erasing the enclosing erase blocks also destroys the
// bytes around the range, so those are saved first and written back after
// the erase. Bytes the window holds come from the window memory; bytes
// outside the window are read from the backend.
func (p *Pool) flushPartialErase(w *Window, offsetBytes, countBytes uint32) error {
	eraseSize := p.backend.Geometry().EraseSize()
	flashOffset := w.flashOffset + offsetBytes
	data := p.capacityData(w)

	lowOffset := align.Down(flashOffset, eraseSize)
	lowSize := flashOffset - lowOffset
	highOffset := flashOffset + countBytes
	highSize := align.Up(highOffset, eraseSize) - highOffset

	var low, high []byte

	if lowOffset < w.flashOffset {
		low = make([]byte, lowSize)
		if err := p.copyFringe(lowOffset, low); err != nil {
			return err
		}
	} else {
		start := lowOffset - w.flashOffset
		low = data[start : start+lowSize]
	}

	if uint64(highOffset)+uint64(highSize) >
		uint64(w.flashOffset)+uint64(w.size) {
		high = make([]byte, highSize)
		if err := p.copyFringe(highOffset, high); err != nil {
			return err
		}
	} else {
		start := offsetBytes + countBytes
		high = data[start : start+highSize]
	}

	if err := p.backend.Erase(lowOffset, highOffset-lowOffset+highSize); err != nil {
		p.log.Errorf("Couldn't erase flash at 0x%.8x: %v", lowOffset, err)
		return errkind.Wrap(errkind.BackendIO, "flush", err)
	}

	writes := []struct {
		offset uint32
		data   []byte
	}{
		{lowOffset, low},
		{flashOffset, data[offsetBytes : offsetBytes+countBytes]},
		{highOffset, high},
	}

	for _, wr := range writes {
		if len(wr.data) == 0 {
			continue
		}

		if err := p.backend.Write(wr.offset, wr.data); err != nil {
			return errkind.Wrap(errkind.BackendIO, "flush", err)
		}
	}

	return nil
}

// copyFringe reads flash bytes that an erase will destroy. Bytes a short
// copy leaves out read as erased flash.
func (p *Pool) copyFringe(offset uint32, buf []byte) error {
	n, err := p.backend.Copy(offset, buf)
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "flush", err)
	}

	for i := n; i < len(buf); i++ {
		buf[i] = 0xff
	}

	return nil
}

// GenericFlush flushes every run of dirty or erased blocks of the window
// with one Flush per run, then marks the whole window clean.
func (p *Pool) GenericFlush(w *Window) error {
	p.log.Infof("Flush window %d for size 0x%.8x which maps flash @ 0x%.8x",
		w.index, w.size, w.flashOffset)

	var (
		runStart uint32
		runLen   uint32
		prev     = backend.Clean
	)

	for i, state := range w.bytemap {
		block := uint32(i)

		switch {
		case state == backend.Clean:
			if prev != backend.Clean {
				if err := p.Flush(w, runStart, runLen, prev); err != nil {
					return err
				}

				runLen = 0
			}
		case state == prev:
			runLen++
		default:
			if prev != backend.Clean {
				if err := p.Flush(w, runStart, runLen, prev); err != nil {
					return err
				}
			}

			runStart = block
			runLen = 1
		}

		prev = state
	}

	if prev != backend.Clean {
		if err := p.Flush(w, runStart, runLen, prev); err != nil {
			return err
		}
	}

	return p.SetBytemap(w, 0, uint32(len(w.bytemap)), backend.Clean)
}
