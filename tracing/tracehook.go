package tracing

import (
	"fmt"
	"reflect"

	"github.com/rs/xid"

	"github.com/sarchlab/mboxd/hooking"
	"github.com/sarchlab/mboxd/protocol"
)

// CollectTrace lets tracer follow the windows of a protocol session.
func CollectTrace(domain hooking.Hookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf("domain already has tracer %s",
				reflect.TypeOf(tracer)))
		}
	}

	h := &traceHook{
		t:        tracer,
		inflight: make(map[*hooking.HookPos]Task),
	}
	domain.AcceptHook(h)
}

// A traceHook turns the window hooks of a session into tasks.
type traceHook struct {
	t        Tracer
	inflight map[*hooking.HookPos]Task
}

// Func calls the tracer when a window is opened or flushed.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	var kind TaskKind

	switch ctx.Pos {
	case protocol.HookPosWindowOpen:
		kind = TaskRead
	case protocol.HookPosWindowFlush:
		kind = TaskWrite
	default:
		return
	}

	info, ok := ctx.Item.(protocol.WindowInfo)
	if !ok {
		return
	}

	if info.Phase == protocol.PhaseStart {
		task := Task{
			ID:          xid.New().String(),
			Kind:        kind,
			FlashOffset: info.FlashOffset,
			Size:        info.Size,
		}
		h.inflight[ctx.Pos] = task
		h.t.StartTask(task)

		return
	}

	task, ok := h.inflight[ctx.Pos]
	if !ok {
		return
	}

	delete(h.inflight, ctx.Pos)

	task.FlashOffset = info.FlashOffset
	task.Size = info.Size
	task.Err = info.Err
	h.t.EndTask(task)
}
