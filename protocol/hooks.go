package protocol

import (
	"fmt"
	"time"

	"github.com/sarchlab/mboxd/hooking"
	"github.com/sarchlab/mboxd/transport/mbox"
)

// The positions at which a Session invokes its hooks.
var (
	// HookPosCommandStart is before a command runs. The item is a
	// *CommandInfo.
	HookPosCommandStart = &hooking.HookPos{Name: "Command Start"}

	// HookPosCommandEnd is after a command ran. The item is the same
	// *CommandInfo, now completed.
	HookPosCommandEnd = &hooking.HookPos{Name: "Command End"}

	// HookPosWindowOpen is around loading a window. The item is a
	// WindowInfo.
	HookPosWindowOpen = &hooking.HookPos{Name: "Window Open"}

	// HookPosWindowFlush is around writing a window back. The item is a
	// WindowInfo.
	HookPosWindowFlush = &hooking.HookPos{Name: "Window Flush"}

	// HookPosEvents is whenever the event bits are pushed. The item is the
	// visible Event and the detail the Transport.
	HookPosEvents = &hooking.HookPos{Name: "Events"}
)

// CommandInfo describes one command handled by the session.
type CommandInfo struct {
	Transport Transport
	Command   mbox.Command
	Seq       uint8
	Version   Version
	Status    mbox.Status
	Err       error
	Start     time.Time
	End       time.Time

	// The window current once the command completed, if any.
	HasWindow    bool
	WindowOffset uint32
	WindowSize   uint32
	WindowWrite  bool
}

// Duration returns how long the command took.
func (c *CommandInfo) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Failed reports whether the command failed.
func (c *CommandInfo) Failed() bool {
	return c.Err != nil
}

func (c *CommandInfo) String() string {
	s := fmt.Sprintf("%s %s seq %d (%s): %s in %s",
		c.Transport, c.Command, c.Seq, c.Version, c.Status, c.Duration())

	if c.HasWindow {
		s += fmt.Sprintf(", window 0x%.8x+0x%x", c.WindowOffset, c.WindowSize)
	}

	if c.Err != nil {
		s += fmt.Sprintf(": %v", c.Err)
	}

	return s
}

// Phase tells whether a window hook is before or after the work.
type Phase int

// The phases.
const (
	PhaseStart Phase = iota
	PhaseDone
)

// WindowInfo describes a window being opened or flushed. At PhaseStart of
// an open the offset is the one requested and the size is unknown.
type WindowInfo struct {
	Phase       Phase
	Index       int
	Write       bool
	FlashOffset uint32
	Size        uint32
	Err         error
}

func hookCtx(s *Session, pos *hooking.HookPos, item, detail any) hooking.HookCtx {
	return hooking.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	}
}
