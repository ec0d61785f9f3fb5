package logging

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/hooking"
)

var _ = Describe("Logger", func() {
	var buf *bytes.Buffer

	BeforeEach(func() {
		buf = &bytes.Buffer{}
	})

	It("should always print errors", func() {
		l := New(buf, None)

		l.Errorf("failed %d", 1)
		l.Infof("hidden")
		l.Debugf("hidden")

		Expect(buf.String()).To(ContainSubstring("E: failed 1"))
		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
	})

	It("should print info when verbose", func() {
		l := New(buf, Info)

		l.Infof("window size 0x%x", 0x100000)
		l.Debugf("hidden")

		Expect(buf.String()).To(ContainSubstring("I: window size 0x100000"))
		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
	})

	It("should print everything when debugging", func() {
		l := New(buf, Info)
		l.SetVerbosity(Debug)

		l.Debugf("search 0x%x", 0x2000)

		Expect(buf.String()).To(ContainSubstring("D: search 0x2000"))
		Expect(l.Verbosity()).To(Equal(Debug))
	})

	It("should ignore calls on a nil logger", func() {
		var l *Logger

		Expect(func() { l.Errorf("x") }).NotTo(Panic())
		Expect(l.Verbosity()).To(Equal(None))
	})
})

type fakeRecord struct {
	text   string
	failed bool
}

func (r fakeRecord) String() string { return r.text }
func (r fakeRecord) Failed() bool   { return r.failed }

var _ = Describe("CommandLogHook", func() {
	var (
		buf  *bytes.Buffer
		l    *Logger
		pos  *hooking.HookPos
		hook *CommandLogHook
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		l = New(buf, Info)
		pos = &hooking.HookPos{Name: "Command End"}
		hook = NewCommandLogHook(l, pos)
	})

	It("should print failed commands when verbose", func() {
		hook.Func(hooking.HookCtx{Pos: pos,
			Item: fakeRecord{text: "CREATE_READ_WINDOW failed", failed: true}})
		hook.Func(hooking.HookCtx{Pos: pos, Item: fakeRecord{text: "ACK ok"}})

		Expect(buf.String()).To(ContainSubstring("I: CREATE_READ_WINDOW failed"))
		Expect(buf.String()).NotTo(ContainSubstring("ACK ok"))
	})

	It("should print every command when debugging", func() {
		l.SetVerbosity(Debug)

		hook.Func(hooking.HookCtx{Pos: pos, Item: fakeRecord{text: "ACK ok"}})

		Expect(buf.String()).To(ContainSubstring("D: ACK ok"))
	})

	It("should ignore other positions and items", func() {
		l.SetVerbosity(Debug)

		hook.Func(hooking.HookCtx{Pos: &hooking.HookPos{Name: "Other"},
			Item: fakeRecord{text: "hidden"}})
		hook.Func(hooking.HookCtx{Pos: pos, Item: 42})

		Expect(buf.String()).To(BeEmpty())
	})
})

var _ = Describe("Warnf", func() {
	It("should print warnings without verbosity", func() {
		buf := &bytes.Buffer{}

		New(buf, None).Warnf("flash size %d", 0)

		Expect(buf.String()).To(ContainSubstring("W: flash size 0"))
	})
})
