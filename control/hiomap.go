package control

import (
	"github.com/sarchlab/mboxd/protocol"
	"github.com/sarchlab/mboxd/transport/mbox"
)

// Properties are the event bits the control plane exposes by name. They are
// read from the daemon state, whichever transport is active.
type Properties struct {
	FlashControlLost bool `json:"FlashControlLost"`
	DaemonReady      bool `json:"DaemonReady"`
	WindowReset      bool `json:"WindowReset"`
	ProtocolReset    bool `json:"ProtocolReset"`
}

// HIOMAP is the host protocol offered over the control plane. Arguments
// take their version 2 forms and no gate is applied.
type HIOMAP struct {
	session *protocol.Session
}

// HIOMAP returns the structured form of the host protocol.
func (c *Controller) HIOMAP() *HIOMAP {
	return &HIOMAP{session: c.session}
}

func (h *HIOMAP) exec(cmd mbox.Command, fn func() error) error {
	_, err := h.session.Exec(protocol.TransportControl, cmd, 0, fn)
	return err
}

// Reset resets the protocol state.
func (h *HIOMAP) Reset() error {
	return h.exec(mbox.CmdResetState, h.session.Reset)
}

// GetInfo negotiates the version and makes the control plane the active
// transport.
func (h *HIOMAP) GetInfo(version uint8) (protocol.GetInfoResponse, error) {
	var resp protocol.GetInfoResponse

	old := h.session.Transport()

	err := h.exec(mbox.CmdGetInfo, func() error {
		var err error

		resp, err = h.session.GetInfo(protocol.GetInfoRequest{Version: version})
		if err != nil {
			return err
		}

		h.session.SetTransport(protocol.TransportControl)

		return nil
	})
	if err != nil {
		return resp, err
	}

	if old != protocol.TransportControl {
		if err := h.session.SetEvents(h.session.Events()); err != nil {
			h.session.Logger().Warnf(
				"Failed to show BMC events on the control plane: %v", err)
		}
	}

	return resp, nil
}

// GetFlashInfo describes the flash.
func (h *HIOMAP) GetFlashInfo() (protocol.FlashInfoResponse, error) {
	var resp protocol.FlashInfoResponse

	err := h.exec(mbox.CmdGetFlashInfo, func() error {
		var err error
		resp, err = h.session.GetFlashInfo()

		return err
	})

	return resp, err
}

// CreateWindow opens a read or write window over offset and size blocks.
func (h *HIOMAP) CreateWindow(
	offset, size uint16,
	readOnly bool,
) (protocol.CreateWindowResponse, error) {
	var resp protocol.CreateWindowResponse

	cmd := mbox.CmdCreateWriteWindow
	if readOnly {
		cmd = mbox.CmdCreateReadWindow
	}

	err := h.exec(cmd, func() error {
		var err error
		resp, err = h.session.CreateWindow(protocol.CreateWindowRequest{
			Offset:   offset,
			Size:     size,
			ReadOnly: readOnly,
		})

		return err
	})

	return resp, err
}

// CloseWindow closes the current window.
func (h *HIOMAP) CloseWindow(flags uint8) error {
	return h.exec(mbox.CmdCloseWindow, func() error {
		return h.session.Close(protocol.CloseRequest{Flags: flags})
	})
}

// MarkDirty marks blocks of the write window dirty.
func (h *HIOMAP) MarkDirty(offset, size uint16) error {
	return h.exec(mbox.CmdMarkWriteDirty, func() error {
		return h.session.MarkDirty(protocol.MarkDirtyRequest{
			Offset: offset,
			Size:   uint32(size),
		})
	})
}

// Erase marks blocks of the write window erased.
func (h *HIOMAP) Erase(offset, size uint16) error {
	return h.exec(mbox.CmdMarkWriteErased, func() error {
		return h.session.Erase(protocol.EraseRequest{Offset: offset, Size: size})
	})
}

// Flush writes the write window back.
func (h *HIOMAP) Flush() error {
	return h.exec(mbox.CmdWriteFlush, func() error {
		return h.session.Flush(nil)
	})
}

// Ack acknowledges event bits.
func (h *HIOMAP) Ack(flags uint8) error {
	return h.exec(mbox.CmdBMCEventAck, func() error {
		return h.session.Ack(protocol.AckRequest{Flags: flags})
	})
}

// Properties returns the named event bits.
func (h *HIOMAP) Properties() Properties {
	ev := h.session.Events()

	return Properties{
		FlashControlLost: ev&protocol.EventFlashCtrlLost != 0,
		DaemonReady:      ev&protocol.EventDaemonReady != 0,
		WindowReset:      ev&protocol.EventWindowReset != 0,
		ProtocolReset:    ev&protocol.EventProtocolReset != 0,
	}
}
