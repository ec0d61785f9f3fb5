package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		base     *HookableBase
		pos      *HookPos
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		base = &HookableBase{}
		pos = &HookPos{Name: "Test"}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks in registration order", func() {
		first := NewMockHook(mockCtrl)
		second := NewMockHook(mockCtrl)
		base.AcceptHook(first)
		base.AcceptHook(second)

		ctx := HookCtx{Domain: base, Pos: pos, Item: 42}
		gomock.InOrder(
			first.EXPECT().Func(ctx),
			second.EXPECT().Func(ctx),
		)

		base.InvokeHook(ctx)

		Expect(base.NumHooks()).To(Equal(2))
	})

	It("should panic on a duplicated hook", func() {
		hook := NewMockHook(mockCtrl)
		base.AcceptHook(hook)

		Expect(func() { base.AcceptHook(hook) }).To(Panic())
	})

	It("should accept plain functions", func() {
		var seen []any
		base.AcceptHook(HookFunc(func(ctx HookCtx) {
			seen = append(seen, ctx.Item)
		}))

		base.InvokeHook(HookCtx{Pos: pos, Item: "a"})
		base.InvokeHook(HookCtx{Pos: pos, Item: "b"})

		Expect(seen).To(Equal([]any{"a", "b"}))
	})
})
