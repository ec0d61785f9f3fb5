package logging

import (
	"github.com/sarchlab/mboxd/hooking"
)

// LogHookBase provides the logger for hooks that print what they observe.
type LogHookBase struct {
	*Logger
}

// A CommandRecord is the item a command hook receives once a command
// completed.
type CommandRecord interface {
	String() string
	Failed() bool
}

// CommandLogHook prints one line per completed command. Failed commands
// are printed when verbose, every command when debugging.
type CommandLogHook struct {
	LogHookBase
	pos *hooking.HookPos
}

// NewCommandLogHook returns a hook that prints the commands reported at pos.
func NewCommandLogHook(logger *Logger, pos *hooking.HookPos) *CommandLogHook {
	h := new(CommandLogHook)
	h.Logger = logger
	h.pos = pos

	return h
}

// Func prints the command if it was reported at the hook's position.
func (h *CommandLogHook) Func(ctx hooking.HookCtx) {
	if ctx.Pos != h.pos {
		return
	}

	rec, ok := ctx.Item.(CommandRecord)
	if !ok {
		return
	}

	if rec.Failed() {
		h.Infof("%s", rec)
		return
	}

	h.Debugf("%s", rec)
}
