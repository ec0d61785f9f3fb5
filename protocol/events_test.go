package protocol

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mboxd/hooking"
	"github.com/sarchlab/mboxd/transport/mbox"
)

type hookRecord struct {
	pos  *hooking.HookPos
	item any
}

var _ = Describe("Events", func() {
	var (
		mockCtrl *gomock.Controller
		f        *fixture
		mboxSink *MockEventSink
		ctlSink  *MockEventSink
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		f = newFixture(0x10000, 12, 4, 0x1000)
		mboxSink = NewMockEventSink(mockCtrl)
		ctlSink = NewMockEventSink(mockCtrl)
		f.session.AttachEventSink(TransportMailbox, mboxSink)
		f.session.AttachEventSink(TransportControl, ctlSink)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should show every bit before negotiation", func() {
		f.session.SetTransport(TransportMailbox)
		mboxSink.EXPECT().PutEvents(uint8(0x80)).Return(nil)

		Expect(f.session.SetEvents(EventDaemonReady)).To(Succeed())
	})

	It("should hide the version 2 bits from a version 1 host", func() {
		_, err := f.session.GetInfo(GetInfoRequest{Version: 1})
		Expect(err).NotTo(HaveOccurred())
		f.session.SetTransport(TransportMailbox)
		mboxSink.EXPECT().PutEvents(uint8(0)).Return(nil)

		Expect(f.session.SetEvents(EventWindowReset)).To(Succeed())

		Expect(f.session.Events()).To(Equal(EventWindowReset))
		Expect(f.session.VisibleEvents()).To(BeZero())
	})

	It("should reveal the hidden bits when the version changes", func() {
		_, err := f.session.GetInfo(GetInfoRequest{Version: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.session.SetEvents(EventDaemonReady)).To(Succeed())

		_, err = f.session.GetInfo(GetInfoRequest{Version: 2})
		Expect(err).NotTo(HaveOccurred())

		Expect(f.session.VisibleEvents()).To(Equal(EventDaemonReady))
	})

	It("should only push to the active transport", func() {
		f.session.SetTransport(TransportControl)
		ctlSink.EXPECT().PutEvents(uint8(0x40)).Return(nil)

		Expect(f.session.SetEvents(EventFlashCtrlLost)).To(Succeed())
	})

	It("should push to every transport on request", func() {
		Expect(f.session.SetEvents(EventDaemonReady | EventProtocolReset)).
			To(Succeed())
		mboxSink.EXPECT().PutEvents(uint8(0x81)).
			Return(errors.New("mailbox gone"))
		ctlSink.EXPECT().PutEvents(uint8(0x81)).Return(nil)

		err := f.session.PutEvents()

		Expect(err).To(MatchError(ContainSubstring("mailbox gone")))
	})

	It("should clear bits", func() {
		f.session.SetTransport(TransportMailbox)
		mboxSink.EXPECT().PutEvents(gomock.Any()).Return(nil).Times(2)
		Expect(f.session.SetEvents(EventDaemonReady | EventWindowReset)).
			To(Succeed())

		Expect(f.session.ClearEvents(EventWindowReset)).To(Succeed())

		Expect(f.session.Events()).To(Equal(EventDaemonReady))
	})
})

var _ = Describe("Hooks", func() {
	var (
		f       *fixture
		h       *host
		records []hookRecord
	)

	BeforeEach(func() {
		f = newFixture(0x10000, 12, 4, 0x1000)
		h = &host{session: f.session}
		h.send(mbox.CmdGetInfo, version(2))

		records = nil
		f.session.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			Expect(ctx.Domain).To(BeIdenticalTo(f.session))
			records = append(records, hookRecord{pos: ctx.Pos, item: ctx.Item})
		}))
	})

	positions := func() []*hooking.HookPos {
		var out []*hooking.HookPos
		for _, r := range records {
			out = append(out, r.pos)
		}

		return out
	}

	It("should wrap a window open in the command hooks", func() {
		h.send(mbox.CmdCreateWriteWindow, blocks(3, 1))

		Expect(positions()).To(Equal([]*hooking.HookPos{
			HookPosCommandStart,
			HookPosWindowOpen,
			HookPosWindowOpen,
			HookPosCommandEnd,
		}))

		start := records[1].item.(WindowInfo)
		Expect(start.Phase).To(Equal(PhaseStart))
		Expect(start.FlashOffset).To(Equal(uint32(0x3000)))
		Expect(start.Write).To(BeTrue())

		done := records[2].item.(WindowInfo)
		Expect(done.Phase).To(Equal(PhaseDone))
		Expect(done.Index).To(Equal(0))
		Expect(done.Size).To(Equal(uint32(0x1000)))

		info := records[3].item.(*CommandInfo)
		Expect(info.Transport).To(Equal(TransportMailbox))
		Expect(info.Command).To(Equal(mbox.CmdCreateWriteWindow))
		Expect(info.Seq).To(Equal(uint8(2)))
		Expect(info.Version).To(Equal(Version2))
		Expect(info.Status).To(Equal(mbox.StatusSuccess))
		Expect(info.HasWindow).To(BeTrue())
		Expect(info.WindowOffset).To(Equal(uint32(0x3000)))
		Expect(info.WindowSize).To(Equal(uint32(0x1000)))
		Expect(info.WindowWrite).To(BeTrue())
		Expect(info.Duration()).To(BeNumerically(">=", 0))
	})

	It("should wrap a flush in the command hooks", func() {
		h.send(mbox.CmdCreateWriteWindow, blocks(0, 1))
		h.send(mbox.CmdMarkWriteDirty, blocks(0, 1))
		records = nil

		h.send(mbox.CmdWriteFlush, nil)

		Expect(positions()).To(Equal([]*hooking.HookPos{
			HookPosCommandStart,
			HookPosWindowFlush,
			HookPosWindowFlush,
			HookPosCommandEnd,
		}))
		Expect(records[2].item.(WindowInfo).Err).NotTo(HaveOccurred())
	})

	It("should record a failed command", func() {
		h.send(mbox.CmdMarkWriteDirty, blocks(0, 1))

		info := records[len(records)-1].item.(*CommandInfo)
		Expect(info.Status).To(Equal(mbox.StatusWindowError))
		Expect(info.Err).To(HaveOccurred())
		Expect(info.HasWindow).To(BeFalse())
	})

	It("should report pushed events", func() {
		Expect(f.session.SetEvents(EventWindowReset)).To(Succeed())

		Expect(positions()).To(Equal([]*hooking.HookPos{HookPosEvents}))
		Expect(records[0].item).To(Equal(EventWindowReset))
	})

	It("should run work given to Exec", func() {
		ran := false

		status, err := f.session.Exec(TransportControl, mbox.CmdBMCEventAck, 0,
			func() error {
				ran = true
				return nil
			})

		Expect(ran).To(BeTrue())
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(mbox.StatusSuccess))
		Expect(records[0].item.(*CommandInfo).Transport).
			To(Equal(TransportControl))
	})
})
