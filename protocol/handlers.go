package protocol

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
)

// versionOps are the command handlers that differ between versions.
type versionOps interface {
	getInfo(s *Session, req GetInfoRequest) (GetInfoResponse, error)
	getFlashInfo(s *Session) (FlashInfoResponse, error)
	createWindow(s *Session, req CreateWindowRequest) (CreateWindowResponse, error)
	markDirty(s *Session, req MarkDirtyRequest) error
	erase(s *Session, req EraseRequest) error
	flush(s *Session, req *MarkDirtyRequest) error
	close(s *Session, req CloseRequest) error
}

func opsFor(v Version) versionOps {
	if v == Version1 {
		return v1Ops{}
	}

	return v2Ops{}
}

// GetInfo negotiates the version. A version change resets every window
// without telling the host and answers with the new version's fields.
func (s *Session) GetInfo(req GetInfoRequest) (GetInfoResponse, error) {
	return s.ops.getInfo(s, req)
}

// GetFlashInfo describes the flash.
func (s *Session) GetFlashInfo() (FlashInfoResponse, error) {
	if s.version == VersionNone {
		return FlashInfoResponse{}, errkind.New(errkind.Internal,
			"get flash info", "no protocol version negotiated")
	}

	return s.ops.getFlashInfo(s)
}

// CreateWindow points the host at a window holding the requested flash,
// flushing and closing the current window first.
func (s *Session) CreateWindow(req CreateWindowRequest) (CreateWindowResponse, error) {
	return s.ops.createWindow(s, req)
}

// MarkDirty marks part of the write window dirty.
func (s *Session) MarkDirty(req MarkDirtyRequest) error {
	return s.ops.markDirty(s, req)
}

// Erase marks part of the write window erased.
func (s *Session) Erase(req EraseRequest) error {
	return s.ops.erase(s, req)
}

// Flush writes the write window back. Under version 1 a non-nil request
// marks a range dirty first.
func (s *Session) Flush(req *MarkDirtyRequest) error {
	return s.ops.flush(s, req)
}

// Close closes the current window, flushing it first if it was opened for
// writing.
func (s *Session) Close(req CloseRequest) error {
	return s.ops.close(s, req)
}

// Ack clears the acknowledged event bits the host may see.
func (s *Session) Ack(req AckRequest) error {
	return s.ClearEvents(Event(req.Flags) & EventMask(s.version))
}

func (s *Session) suggestedTimeout() uint16 {
	var maxSizeMB uint32
	if w := s.pool.FindLargest(); w != nil {
		maxSizeMB = w.Size() >> 20
	}

	timeout := align.Up(maxSizeMB*flashAccessMsPerMB, 1000) / 1000

	s.log.Debugf("Suggested Timeout: %ds, max window size: %dMB, for %dms/MB",
		timeout, maxSizeMB, flashAccessMsPerMB)

	return uint16(timeout)
}

func (s *Session) lpcAddressShifted() uint16 {
	addr := s.lpc.Base() + s.current.MemOffset()

	s.log.Debugf("LPC address of current window: 0x%.8x", addr)

	return uint16(addr >> s.pool.BlockSizeShift())
}

func (s *Session) windowInfo(phase Phase, err error) WindowInfo {
	return WindowInfo{
		Phase:       phase,
		Index:       s.current.Index(),
		Write:       s.currentIsWrite,
		FlashOffset: s.current.FlashOffset(),
		Size:        s.current.Size(),
		Err:         err,
	}
}

func (s *Session) genericFlush() error {
	s.InvokeHook(hookCtx(s, HookPosWindowFlush, s.windowInfo(PhaseStart, nil), nil))

	err := s.pool.GenericFlush(s.current)

	s.InvokeHook(hookCtx(s, HookPosWindowFlush, s.windowInfo(PhaseDone, err), nil))

	return err
}

type v1Ops struct{}

func (v1Ops) getInfo(s *Session, req GetInfoRequest) (GetInfoResponse, error) {
	old := s.version

	v, err := s.negotiate(req.Version)
	if err != nil {
		return GetInfoResponse{}, err
	}

	if v != old {
		s.ResetAllWindows()
		return s.ops.getInfo(s, req)
	}

	s.pool.SetLayout(BlockSizeShiftV1, true)
	s.log.Infof("Block Size: 0x%.8x (shift: %d)",
		1<<BlockSizeShiftV1, BlockSizeShiftV1)

	blocks := uint16(s.pool.DefaultSize() >> BlockSizeShiftV1)
	resp := GetInfoResponse{
		Version:         v,
		ReadWindowSize:  blocks,
		WriteWindowSize: blocks,
	}

	return resp, s.MapMemory()
}

func (v1Ops) getFlashInfo(s *Session) (FlashInfoResponse, error) {
	g := s.pool.Backend().Geometry()

	return FlashInfoResponse{
		FlashSize: g.FlashSize,
		EraseSize: g.EraseSize(),
	}, nil
}

func (v1Ops) createWindow(s *Session, req CreateWindowRequest) (CreateWindowResponse, error) {
	shift := s.pool.BlockSizeShift()
	offset := uint32(req.Offset) << shift
	size := uint32(req.Size) << shift

	if err := backend.Validate(s.pool.Backend(), offset, size, req.ReadOnly); err != nil {
		return CreateWindowResponse{}, err
	}

	if s.current != nil {
		if s.currentIsWrite {
			if err := s.ops.flush(s, nil); err != nil {
				s.log.Errorf("Couldn't Flush Write Window")
				return CreateWindowResponse{}, err
			}
		}

		s.closeCurrent(FlagsNone)
	}

	s.log.Infof("Host requested flash @ 0x%.8x", offset)

	s.InvokeHook(hookCtx(s, HookPosWindowOpen, WindowInfo{
		Phase:       PhaseStart,
		Index:       -1,
		Write:       !req.ReadOnly,
		FlashOffset: offset,
	}, nil))

	exact := s.version == Version1

	w := s.pool.Search(offset, exact)
	if w == nil {
		s.log.Debugf("No existing window which maps that flash offset")

		var err error

		w, err = s.pool.CreateMap(offset, exact)
		if err != nil {
			s.log.Errorf("Couldn't create window mapping for offset 0x%.8x",
				offset)
			s.InvokeHook(hookCtx(s, HookPosWindowOpen, WindowInfo{
				Phase:       PhaseDone,
				Index:       -1,
				Write:       !req.ReadOnly,
				FlashOffset: offset,
				Err:         err,
			}, nil))

			return CreateWindowResponse{}, err
		}
	}

	s.current = w
	s.currentIsWrite = !req.ReadOnly

	s.InvokeHook(hookCtx(s, HookPosWindowOpen, s.windowInfo(PhaseDone, nil), nil))

	s.log.Infof("Window %d @ 0x%.8x for size 0x%.8x maps flash offset 0x%.8x",
		w.Index(), w.MemOffset(), w.Size(), w.FlashOffset())

	return CreateWindowResponse{LPCAddress: s.lpcAddressShifted()}, nil
}

func (v1Ops) markDirty(s *Session, req MarkDirtyRequest) error {
	if !s.hasWriteWindow() {
		s.log.Errorf("Tried to call mark dirty without open write window")
		return errkind.New(errkind.Permission, "mark dirty",
			"no write window open")
	}

	shift := s.pool.BlockSizeShift()
	start := s.current.FlashOffset() >> shift
	offset := uint32(req.Offset)

	if offset < start {
		s.log.Errorf("Tried to mark dirty before start of window: "+
			"requested offset 0x%x, window start 0x%x",
			offset<<shift, s.current.FlashOffset())
		return errkind.New(errkind.InvalidArgument, "mark dirty",
			"block 0x%x before window start 0x%x", offset, start)
	}

	offset -= start
	count := align.Blocks(req.Size, shift)

	s.log.Infof("Dirty window @ 0x%.8x for 0x%.8x",
		offset<<shift, count<<shift)

	return s.pool.SetBytemap(s.current, offset, count, backend.Dirty)
}

func (v1Ops) erase(s *Session, _ EraseRequest) error {
	s.log.Errorf("Protocol Version invalid for Erase Command")
	return errkind.New(errkind.Unsupported, "erase",
		"erase is not available in %s", s.version)
}

func (o v1Ops) flush(s *Session, req *MarkDirtyRequest) error {
	if !s.hasWriteWindow() {
		s.log.Errorf("Tried to call flush without open write window")
		return errkind.New(errkind.Permission, "flush", "no write window open")
	}

	if req != nil {
		if err := o.markDirty(s, *req); err != nil {
			return err
		}
	}

	return s.genericFlush()
}

func (o v1Ops) close(s *Session, req CloseRequest) error {
	if s.current == nil {
		return nil
	}

	if s.currentIsWrite {
		if err := o.flush(s, nil); err != nil {
			s.log.Errorf("Couldn't Flush Write Window")
			return err
		}
	}

	s.closeCurrent(req.Flags)

	return nil
}

type v2Ops struct {
	v1Ops
}

func (v2Ops) getInfo(s *Session, req GetInfoRequest) (GetInfoResponse, error) {
	old := s.version

	v, err := s.negotiate(req.Version)
	if err != nil {
		return GetInfoResponse{}, err
	}

	if v != old {
		s.ResetAllWindows()
		return s.ops.getInfo(s, req)
	}

	shift := s.pool.Backend().Geometry().EraseSizeShift
	s.pool.SetLayout(shift, false)
	s.log.Infof("Block Size: 0x%.8x (shift: %d)", uint32(1)<<shift, shift)

	resp := GetInfoResponse{
		Version:        v,
		BlockSizeShift: uint8(shift),
		Timeout:        s.suggestedTimeout(),
	}

	return resp, s.MapMemory()
}

func (v2Ops) getFlashInfo(s *Session) (FlashInfoResponse, error) {
	g := s.pool.Backend().Geometry()
	shift := s.pool.BlockSizeShift()

	return FlashInfoResponse{
		FlashSize: g.FlashSize >> shift,
		EraseSize: g.EraseSize() >> shift,
	}, nil
}

func (o v2Ops) createWindow(s *Session, req CreateWindowRequest) (CreateWindowResponse, error) {
	resp, err := o.v1Ops.createWindow(s, req)
	if err != nil {
		return resp, err
	}

	shift := s.pool.BlockSizeShift()
	resp.Size = uint16(s.current.Size() >> shift)
	resp.Offset = uint16(s.current.FlashOffset() >> shift)

	return resp, nil
}

func (v2Ops) markDirty(s *Session, req MarkDirtyRequest) error {
	if !s.hasWriteWindow() {
		s.log.Errorf("Tried to call mark dirty without open write window")
		return errkind.New(errkind.Permission, "mark dirty",
			"no write window open")
	}

	shift := s.pool.BlockSizeShift()
	s.log.Infof("Dirty window @ 0x%.8x for 0x%.8x",
		uint32(req.Offset)<<shift, req.Size<<shift)

	return s.pool.SetBytemap(s.current, uint32(req.Offset), req.Size,
		backend.Dirty)
}

func (v2Ops) erase(s *Session, req EraseRequest) error {
	if !s.hasWriteWindow() {
		s.log.Errorf("Tried to call erase without open write window")
		return errkind.New(errkind.Permission, "erase", "no write window open")
	}

	shift := s.pool.BlockSizeShift()
	s.log.Infof("Erase window @ 0x%.8x for 0x%.8x",
		uint32(req.Offset)<<shift, uint32(req.Size)<<shift)

	err := s.pool.SetBytemap(s.current, uint32(req.Offset), uint32(req.Size),
		backend.Erased)
	if err != nil {
		return err
	}

	start := uint32(req.Offset) << shift
	end := start + uint32(req.Size)<<shift
	data := s.pool.Data(s.current)
	for i := start; i < end; i++ {
		data[i] = 0xff
	}

	return nil
}

func (v2Ops) flush(s *Session, _ *MarkDirtyRequest) error {
	if !s.hasWriteWindow() {
		s.log.Errorf("Tried to call flush without open write window")
		return errkind.New(errkind.Permission, "flush", "no write window open")
	}

	return s.genericFlush()
}

func (o v2Ops) close(s *Session, req CloseRequest) error {
	if s.current == nil {
		return nil
	}

	if s.currentIsWrite {
		if err := o.flush(s, nil); err != nil {
			s.log.Errorf("Couldn't Flush Write Window")
			return err
		}
	}

	s.closeCurrent(req.Flags)

	return nil
}
