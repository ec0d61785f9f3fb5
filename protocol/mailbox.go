package protocol

import (
	"time"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/transport/mbox"
)

// A ResponseWriter sends a mailbox response to the host.
type ResponseWriter interface {
	WriteResponse(resp mbox.Response) error
}

// Exec runs one command with the command hooks around it and returns the
// status the host should see.
func (s *Session) Exec(
	t Transport,
	cmd mbox.Command,
	seq uint8,
	fn func() error,
) (mbox.Status, error) {
	info := &CommandInfo{
		Transport: t,
		Command:   cmd,
		Seq:       seq,
		Start:     time.Now(),
	}
	s.InvokeHook(hookCtx(s, HookPosCommandStart, info, nil))

	err := fn()

	info.End = time.Now()
	info.Version = s.version
	info.Err = err
	info.Status = StatusOf(err, s.version)

	if s.current != nil {
		info.HasWindow = true
		info.WindowOffset = s.current.FlashOffset()
		info.WindowSize = s.current.Size()
		info.WindowWrite = s.currentIsWrite
	}

	s.InvokeHook(hookCtx(s, HookPosCommandEnd, info, nil))

	return info.Status, err
}

// HandleMailbox runs a command read from the mailbox and writes the
// response. When the command made the mailbox the active transport the
// events are pushed to it after the response.
func (s *Session) HandleMailbox(req mbox.Request, w ResponseWriter) error {
	oldTransport := s.transport

	s.log.Infof("Received MBOX command: %s", req.Command)

	resp := mbox.NewResponse(req)
	resp.Status, _ = s.Exec(TransportMailbox, req.Command, req.Seq,
		func() error {
			if err := s.checkRequest(req); err != nil {
				return err
			}

			if err := s.dispatch(req, &resp); err != nil {
				s.log.Errorf("Error handling mbox cmd %s: %v", req.Command, err)
				return err
			}

			return nil
		})
	s.prevSeq = req.Seq

	s.log.Infof("Writing MBOX response: %d (%s)", uint8(resp.Status), resp.Status)

	err := w.WriteResponse(resp)
	if err != nil {
		s.log.Errorf("Didn't write the full response: %v", err)
	}

	if s.transport != oldTransport && s.transport == TransportMailbox {
		if err := s.SetEvents(s.events); err != nil {
			s.log.Warnf("Failed to show BMC events on the mailbox: %v", err)
		}
	}

	return err
}

func (s *Session) checkRequest(req mbox.Request) error {
	cmd := req.Command

	if !cmd.Valid() {
		s.log.Errorf("Unknown mbox command: %d", uint8(cmd))
		return errkind.New(errkind.Unsupported, "mbox request",
			"unknown command %d", uint8(cmd))
	}

	if req.Seq == s.prevSeq && cmd != mbox.CmdGetInfo {
		s.log.Errorf("Invalid sequence number: %d, previous: %d",
			req.Seq, s.prevSeq)
		return errkind.New(errkind.Sequence, "mbox request",
			"sequence number %d repeated", req.Seq)
	}

	if s.state.Suspended &&
		cmd != mbox.CmdGetInfo && cmd != mbox.CmdBMCEventAck {
		s.log.Errorf("Cannot use that cmd while suspended: %s", cmd)
		return errkind.New(errkind.Busy, "mbox request",
			"%s not allowed while suspended", cmd)
	}

	if s.transport != TransportMailbox &&
		cmd != mbox.CmdResetState && cmd != mbox.CmdGetInfo {
		s.log.Errorf("Cannot switch transport with command %s", cmd)
		return errkind.New(errkind.InvalidArgument, "mbox request",
			"%s not allowed before GET_MBOX_INFO on the mailbox", cmd)
	}

	if !s.state.MapsMemory() &&
		cmd != mbox.CmdResetState && cmd != mbox.CmdGetInfo &&
		cmd != mbox.CmdBMCEventAck {
		s.log.Errorf("Must call GET_MBOX_INFO before %s", cmd)
		return errkind.New(errkind.InvalidArgument, "mbox request",
			"%s not allowed before the host sees memory", cmd)
	}

	return nil
}

func (s *Session) dispatch(req mbox.Request, resp *mbox.Response) error {
	args := &req.Args

	switch req.Command {
	case mbox.CmdResetState:
		return s.Reset()
	case mbox.CmdGetInfo:
		return s.mboxGetInfo(args, resp)
	case mbox.CmdGetFlashInfo:
		return s.mboxGetFlashInfo(resp)
	case mbox.CmdCreateReadWindow:
		return s.mboxCreateWindow(args, resp, true)
	case mbox.CmdCreateWriteWindow:
		return s.mboxCreateWindow(args, resp, false)
	case mbox.CmdCloseWindow:
		var flags uint8
		if s.version >= Version2 {
			flags = args.U8(0)
		}

		return s.Close(CloseRequest{Flags: flags})
	case mbox.CmdMarkWriteDirty:
		return s.MarkDirty(s.mboxDirtyRange(args))
	case mbox.CmdWriteFlush:
		if s.version == Version1 {
			r := s.mboxDirtyRange(args)
			return s.Flush(&r)
		}

		return s.Flush(nil)
	case mbox.CmdBMCEventAck:
		return s.Ack(AckRequest{Flags: args.U8(0)})
	case mbox.CmdMarkWriteErased:
		return s.Erase(EraseRequest{
			Offset: args.U16(0),
			Size:   args.U16(2),
		})
	default:
		return errkind.New(errkind.Unsupported, "mbox request",
			"unknown command %d", uint8(req.Command))
	}
}

func (s *Session) mboxGetInfo(args *mbox.Args, resp *mbox.Response) error {
	info, err := s.GetInfo(GetInfoRequest{Version: args.U8(0)})
	if err != nil {
		return err
	}

	s.transport = TransportMailbox

	resp.Args.PutU8(0, uint8(info.Version))

	if info.Version == Version1 {
		resp.Args.PutU16(1, info.ReadWindowSize)
		resp.Args.PutU16(3, info.WriteWindowSize)
	} else {
		resp.Args.PutU8(5, info.BlockSizeShift)
		resp.Args.PutU16(6, info.Timeout)
	}

	return nil
}

func (s *Session) mboxGetFlashInfo(resp *mbox.Response) error {
	info, err := s.GetFlashInfo()
	if err != nil {
		return err
	}

	if s.version == Version1 {
		resp.Args.PutU32(0, info.FlashSize)
		resp.Args.PutU32(4, info.EraseSize)
	} else {
		resp.Args.PutU16(0, uint16(info.FlashSize))
		resp.Args.PutU16(2, uint16(info.EraseSize))
	}

	return nil
}

func (s *Session) mboxCreateWindow(
	args *mbox.Args,
	resp *mbox.Response,
	readOnly bool,
) error {
	req := CreateWindowRequest{
		Offset:   args.U16(0),
		ReadOnly: readOnly,
	}

	if s.version >= Version2 {
		req.Size = args.U16(2)
	}

	win, err := s.CreateWindow(req)
	if err != nil {
		return err
	}

	resp.Args.PutU16(0, win.LPCAddress)

	if s.version >= Version2 {
		resp.Args.PutU16(2, win.Size)
		resp.Args.PutU16(4, win.Offset)
	}

	return nil
}

func (s *Session) mboxDirtyRange(args *mbox.Args) MarkDirtyRequest {
	if s.version == Version1 {
		return MarkDirtyRequest{
			Offset: args.U16(0),
			Size:   args.U32(2),
		}
	}

	return MarkDirtyRequest{
		Offset: args.U16(0),
		Size:   uint32(args.U16(2)),
	}
}
