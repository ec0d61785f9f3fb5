package control

import (
	"fmt"

	"github.com/sarchlab/mboxd/errkind"
)

// Command is a legacy control command number, as sent by older tools.
type Command uint8

// The legacy commands.
const (
	CmdPing        Command = 0
	CmdDaemonState Command = 1
	CmdReset       Command = 2
	CmdSuspend     Command = 3
	CmdResume      Command = 4
	CmdModified    Command = 5
	CmdKill        Command = 6
	CmdLPCState    Command = 7
)

var commandNames = map[Command]string{
	CmdPing:        "ping",
	CmdDaemonState: "daemon_state",
	CmdReset:       "reset",
	CmdSuspend:     "suspend",
	CmdResume:      "resume",
	CmdModified:    "modified",
	CmdKill:        "kill",
	CmdLPCState:    "lpc_state",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ReturnCode is the result of a legacy command.
type ReturnCode uint8

// The return codes.
const (
	Success     ReturnCode = 0
	ErrInternal ReturnCode = 1
	ErrInvalid  ReturnCode = 2
	ErrRejected ReturnCode = 3
	ErrHardware ReturnCode = 4
	ErrNoMem    ReturnCode = 5
)

func (r ReturnCode) String() string {
	switch r {
	case Success:
		return "success"
	case ErrInternal:
		return "internal error"
	case ErrInvalid:
		return "invalid request"
	case ErrRejected:
		return "request rejected by daemon"
	case ErrHardware:
		return "bmc hardware error"
	case ErrNoMem:
		return "out of memory"
	default:
		return fmt.Sprintf("return code %d", uint8(r))
	}
}

// ResumeModified is the resume argument telling the daemon the flash was
// modified while suspended.
const ResumeModified = 1

// HandleLegacy runs a legacy command and returns its return code and
// response arguments.
func (c *Controller) HandleLegacy(cmd Command, args []uint8) (ReturnCode, []uint8) {
	c.log.Infof("Received legacy control command: %s", cmd)

	switch cmd {
	case CmdPing:
		return Success, nil
	case CmdDaemonState:
		return Success, []uint8{uint8(c.DaemonState())}
	case CmdLPCState:
		return Success, []uint8{uint8(c.LPCState())}
	case CmdReset:
		err := c.Reset()
		if errkind.Is(err, errkind.Busy) {
			return ErrRejected, nil
		}

		return hardwareOnError(err), nil
	case CmdSuspend:
		return hardwareOnError(c.Suspend()), nil
	case CmdResume:
		if len(args) != 1 {
			return ErrInvalid, nil
		}

		return hardwareOnError(c.Resume(args[0] == ResumeModified)), nil
	case CmdModified:
		return hardwareOnError(c.MarkFlashModified()), nil
	case CmdKill:
		return hardwareOnError(c.Kill()), nil
	default:
		c.log.Errorf("Unknown legacy control command: %d", uint8(cmd))
		return ErrInvalid, nil
	}
}

func hardwareOnError(err error) ReturnCode {
	if err != nil {
		return ErrHardware
	}

	return Success
}
