package journal

import (
	"github.com/rs/xid"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/hooking"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/protocol"
)

// CommandTable is the table the Recorder writes to.
const CommandTable = "commands"

// Entry is one row of the command table.
type Entry struct {
	ID           string
	Session      string
	Transport    string
	Command      string
	Seq          uint8
	Version      uint8
	Status       string
	ErrorKind    string
	Error        string
	HasWindow    bool
	WindowOffset uint32
	WindowSize   uint32
	WindowWrite  bool
	StartNs      int64
	DurationNs   int64
}

// Recorder is a hook that journals every command the session completes.
type Recorder struct {
	writer  *Writer
	session string
	log     *logging.Logger
}

// NewRecorder creates the command table and returns a recorder writing to
// it. Every recorder gets its own session ID so that several daemon runs
// can be told apart once journals are merged.
func NewRecorder(w *Writer, log *logging.Logger) (*Recorder, error) {
	if err := w.CreateTable(CommandTable, Entry{}); err != nil {
		return nil, err
	}

	return &Recorder{
		writer:  w,
		session: xid.New().String(),
		log:     log,
	}, nil
}

// Session returns the ID written in the Session column.
func (r *Recorder) Session() string {
	return r.session
}

// Func records a completed command.
func (r *Recorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != protocol.HookPosCommandEnd {
		return
	}

	info, ok := ctx.Item.(*protocol.CommandInfo)
	if !ok {
		return
	}

	if err := r.writer.Insert(CommandTable, r.entry(info)); err != nil {
		r.log.Warnf("Failed to journal %s: %v", info.Command, err)
	}
}

func (r *Recorder) entry(info *protocol.CommandInfo) Entry {
	e := Entry{
		ID:           xid.New().String(),
		Session:      r.session,
		Transport:    info.Transport.String(),
		Command:      info.Command.String(),
		Seq:          info.Seq,
		Version:      uint8(info.Version),
		Status:       info.Status.String(),
		HasWindow:    info.HasWindow,
		WindowOffset: info.WindowOffset,
		WindowSize:   info.WindowSize,
		WindowWrite:  info.WindowWrite,
		StartNs:      info.Start.UnixNano(),
		DurationNs:   int64(info.Duration()),
	}

	if info.Err != nil {
		e.ErrorKind = errkind.KindOf(info.Err).String()
		e.Error = info.Err.Error()
	}

	return e
}

// Flush writes out the buffered rows.
func (r *Recorder) Flush() error {
	return r.writer.Flush()
}
