// Package mbox is the mailbox register transport between the host and the
// daemon. A request is the 16-byte register block written by the host; the
// response overwrites the first 14 bytes and the BMC event byte lives at
// offset 14.
package mbox

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/mboxd/errkind"
)

// Register layout.
const (
	RegisterSize = 16
	ArgsSize     = 11
	ResponseSize = 14
	EventOffset  = 14

	argsOffset   = 2
	statusOffset = 13
)

// Command is a mailbox command id.
type Command uint8

// The mailbox commands.
const (
	CmdResetState        Command = 1
	CmdGetInfo           Command = 2
	CmdGetFlashInfo      Command = 3
	CmdCreateReadWindow  Command = 4
	CmdCloseWindow       Command = 5
	CmdCreateWriteWindow Command = 6
	CmdMarkWriteDirty    Command = 7
	CmdWriteFlush        Command = 8
	CmdBMCEventAck       Command = 9
	CmdMarkWriteErased   Command = 10

	NumCommands = 10
)

var commandNames = map[Command]string{
	CmdResetState:        "RESET_STATE",
	CmdGetInfo:           "GET_MBOX_INFO",
	CmdGetFlashInfo:      "GET_FLASH_INFO",
	CmdCreateReadWindow:  "CREATE_READ_WINDOW",
	CmdCloseWindow:       "CLOSE_WINDOW",
	CmdCreateWriteWindow: "CREATE_WRITE_WINDOW",
	CmdMarkWriteDirty:    "MARK_WRITE_DIRTY",
	CmdWriteFlush:        "WRITE_FLUSH",
	CmdBMCEventAck:       "BMC_EVENT_ACK",
	CmdMarkWriteErased:   "MARK_WRITE_ERASED",
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c >= CmdResetState && c <= NumCommands
}

func (c Command) String() string {
	name, ok := commandNames[c]
	if !ok {
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}

	return name
}

// Status is the response code written to register 13.
type Status uint8

// The response codes.
const (
	StatusSuccess     Status = 1
	StatusParamError  Status = 2
	StatusWriteError  Status = 3
	StatusSystemError Status = 4
	StatusTimeout     Status = 5
	StatusBusy        Status = 6
	StatusWindowError Status = 7
	StatusSeqError    Status = 8
)

var statusNames = map[Status]string{
	StatusSuccess:     "success",
	StatusParamError:  "parameter error",
	StatusWriteError:  "write error",
	StatusSystemError: "system error",
	StatusTimeout:     "timeout",
	StatusBusy:        "busy",
	StatusWindowError: "window error",
	StatusSeqError:    "sequence error",
}

func (s Status) String() string {
	name, ok := statusNames[s]
	if !ok {
		return fmt.Sprintf("status(%d)", uint8(s))
	}

	return name
}

// Args are the argument registers of a request or a response.
type Args [ArgsSize]byte

// U8 returns the byte at i.
func (a *Args) U8(i int) uint8 {
	return a[i]
}

// U16 returns the little-endian half word at i.
func (a *Args) U16(i int) uint16 {
	return binary.LittleEndian.Uint16(a[i:])
}

// U32 returns the little-endian word at i.
func (a *Args) U32(i int) uint32 {
	return binary.LittleEndian.Uint32(a[i:])
}

// PutU8 stores v at i.
func (a *Args) PutU8(i int, v uint8) {
	a[i] = v
}

// PutU16 stores v little-endian at i.
func (a *Args) PutU16(i int, v uint16) {
	binary.LittleEndian.PutUint16(a[i:], v)
}

// PutU32 stores v little-endian at i.
func (a *Args) PutU32(i int, v uint32) {
	binary.LittleEndian.PutUint32(a[i:], v)
}

// Request is a command written by the host.
type Request struct {
	Command Command
	Seq     uint8
	Args    Args
}

// DecodeRequest parses a register block. Anything shorter than the full
// block is an error.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) < RegisterSize {
		return Request{}, errkind.New(errkind.InvalidArgument, "mbox decode",
			"short read: %d expecting %d", len(b), RegisterSize)
	}

	req := Request{
		Command: Command(b[0]),
		Seq:     b[1],
	}
	copy(req.Args[:], b[argsOffset:argsOffset+ArgsSize])

	return req, nil
}

// Encode returns the register block the host writes for r.
func (r Request) Encode() []byte {
	b := make([]byte, RegisterSize)
	b[0] = byte(r.Command)
	b[1] = r.Seq
	copy(b[argsOffset:], r.Args[:])

	return b
}

// Response is the reply the daemon writes back.
type Response struct {
	Command Command
	Seq     uint8
	Args    Args
	Status  Status
}

// NewResponse returns a successful response echoing the request.
func NewResponse(req Request) Response {
	return Response{
		Command: req.Command,
		Seq:     req.Seq,
		Status:  StatusSuccess,
	}
}

// Encode returns the ResponseSize bytes written at register 0.
func (r Response) Encode() []byte {
	b := make([]byte, ResponseSize)
	b[0] = byte(r.Command)
	b[1] = r.Seq
	copy(b[argsOffset:], r.Args[:])
	b[statusOffset] = byte(r.Status)

	return b
}

// DecodeResponse parses the bytes written by Encode.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) < ResponseSize {
		return Response{}, errkind.New(errkind.InvalidArgument, "mbox decode",
			"short response: %d expecting %d", len(b), ResponseSize)
	}

	resp := Response{
		Command: Command(b[0]),
		Seq:     b[1],
		Status:  Status(b[statusOffset]),
	}
	copy(resp.Args[:], b[argsOffset:argsOffset+ArgsSize])

	return resp, nil
}
