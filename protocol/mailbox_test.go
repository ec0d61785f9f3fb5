package protocol

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/backend/memory"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/transport/mbox"
	"github.com/sarchlab/mboxd/windows"
)

type failingWriter struct{}

type failingSink struct {
	err error
}

func (s failingSink) PutEvents(uint8) error {
	return s.err
}

func (failingWriter) WriteResponse(mbox.Response) error {
	return errors.New("short write")
}

var _ = Describe("Mailbox", func() {
	var (
		f *fixture
		h *host
	)

	BeforeEach(func() {
		f = newFixture(0x10000, 12, 4, 0x1000)
		h = &host{session: f.session}
	})

	Context("before negotiation", func() {
		It("should reject unknown commands", func() {
			Expect(h.send(mbox.Command(0), nil).Status).
				To(Equal(mbox.StatusParamError))
			Expect(h.send(mbox.Command(11), nil).Status).
				To(Equal(mbox.StatusParamError))
		})

		It("should only allow reset and get info", func() {
			Expect(h.send(mbox.CmdGetFlashInfo, nil).Status).
				To(Equal(mbox.StatusParamError))
			Expect(h.send(mbox.CmdBMCEventAck, nil).Status).
				To(Equal(mbox.StatusParamError))
			Expect(h.send(mbox.CmdResetState, nil).Status).
				To(Equal(mbox.StatusSuccess))
			Expect(f.session.Transport()).To(Equal(TransportNone))
		})

		It("should reject version zero", func() {
			resp := h.send(mbox.CmdGetInfo, version(0))

			Expect(resp.Status).To(Equal(mbox.StatusParamError))
			Expect(f.session.Transport()).To(Equal(TransportNone))
		})

		It("should echo the command and sequence number", func() {
			resp := h.sendSeq(0x42, mbox.CmdGetInfo, version(2))

			Expect(resp.Command).To(Equal(mbox.CmdGetInfo))
			Expect(resp.Seq).To(Equal(uint8(0x42)))
		})

		It("should report a response that could not be written", func() {
			req := mbox.Request{Command: mbox.CmdGetInfo, Seq: 1}
			req.Args.PutU8(0, 2)

			err := f.session.HandleMailbox(req, failingWriter{})

			Expect(err).To(HaveOccurred())
			Expect(f.session.Version()).To(Equal(Version2))
		})
	})

	Context("speaking version 1", func() {
		BeforeEach(func() {
			resp := h.send(mbox.CmdGetInfo, version(1))
			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U8(0)).To(Equal(uint8(1)))
			Expect(resp.Args.U16(1)).To(Equal(uint16(1)))
			Expect(resp.Args.U16(3)).To(Equal(uint16(1)))
		})

		It("should make the mailbox the active transport", func() {
			Expect(f.session.Transport()).To(Equal(TransportMailbox))
		})

		It("should describe the flash in bytes", func() {
			resp := h.send(mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U32(0)).To(Equal(uint32(0x10000)))
			Expect(resp.Args.U32(4)).To(Equal(uint32(0x1000)))
		})

		It("should only answer the LPC address of a window", func() {
			resp := h.send(mbox.CmdCreateReadWindow, blocks(1, 7))

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U16(0)).To(Equal(uint16(0xfffc)))
			Expect(resp.Args.U16(2)).To(BeZero())
		})

		It("should mark dirty with a byte count", func() {
			h.send(mbox.CmdCreateWriteWindow, blocks(4, 0))
			w, _ := f.session.Current()

			resp := h.send(mbox.CmdMarkWriteDirty, func(a *mbox.Args) {
				a.PutU16(0, 4)
				a.PutU32(2, 0x800)
			})

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(w.Bytemap()[0]).To(Equal(backend.Dirty))
		})

		It("should mark the range given to flush dirty", func() {
			h.send(mbox.CmdCreateWriteWindow, blocks(4, 0))
			w, _ := f.session.Current()
			f.session.Pool().Data(w)[0x20] = 0x17

			resp := h.send(mbox.CmdWriteFlush, func(a *mbox.Args) {
				a.PutU16(0, 4)
				a.PutU32(2, 1)
			})

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(f.flash.Read(0x4020, 1)).To(Equal([]byte{0x17}))
		})

		It("should report a dirty range before the window", func() {
			h.send(mbox.CmdCreateWriteWindow, blocks(4, 0))

			resp := h.send(mbox.CmdMarkWriteDirty, func(a *mbox.Args) {
				a.PutU16(0, 3)
				a.PutU32(2, 1)
			})

			Expect(resp.Status).To(Equal(mbox.StatusParamError))
		})

		It("should reject erase", func() {
			h.send(mbox.CmdCreateWriteWindow, blocks(0, 0))

			resp := h.send(mbox.CmdMarkWriteErased, blocks(0, 1))

			Expect(resp.Status).To(Equal(mbox.StatusParamError))
		})

		It("should ignore close flags", func() {
			h.send(mbox.CmdCreateReadWindow, blocks(0, 0))
			w, _ := f.session.Current()

			resp := h.send(mbox.CmdCloseWindow, func(a *mbox.Args) {
				a.PutU8(0, FlagShortLifetime)
			})

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(w.Age()).NotTo(BeZero())
		})

		It("should report a busy daemon as a system error", func() {
			f.session.SetSuspended(true)

			resp := h.send(mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSystemError))
		})

		It("should report repeated sequence numbers as parameter errors", func() {
			h.sendSeq(9, mbox.CmdGetFlashInfo, nil)

			resp := h.sendSeq(9, mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusParamError))
		})
	})

	Context("speaking version 2", func() {
		BeforeEach(func() {
			resp := h.send(mbox.CmdGetInfo, version(2))
			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U8(0)).To(Equal(uint8(2)))
			Expect(resp.Args.U8(5)).To(Equal(uint8(12)))
			Expect(resp.Args.U16(6)).To(BeZero())
			Expect(resp.Args.U16(1)).To(BeZero())
		})

		It("should describe the flash in blocks", func() {
			resp := h.send(mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U16(0)).To(Equal(uint16(0x10)))
			Expect(resp.Args.U16(2)).To(Equal(uint16(1)))
		})

		It("should answer the size and offset of a window", func() {
			resp := h.send(mbox.CmdCreateReadWindow, blocks(7, 1))

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(resp.Args.U16(0)).To(Equal(uint16(0xfffc)))
			Expect(resp.Args.U16(2)).To(Equal(uint16(1)))
			Expect(resp.Args.U16(4)).To(Equal(uint16(7)))
		})

		It("should reject a repeated sequence number", func() {
			Expect(h.sendSeq(5, mbox.CmdGetFlashInfo, nil).Status).
				To(Equal(mbox.StatusSuccess))

			resp := h.sendSeq(5, mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSeqError))
		})

		It("should remember the sequence number of a failed command", func() {
			resp := h.sendSeq(6, mbox.CmdMarkWriteDirty, blocks(0, 1))
			Expect(resp.Status).To(Equal(mbox.StatusWindowError))

			resp = h.sendSeq(6, mbox.CmdGetFlashInfo, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSeqError))
		})

		It("should allow get info to repeat its sequence number", func() {
			resp := h.sendSeq(h.seq, mbox.CmdGetInfo, version(2))

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
		})

		It("should only allow get info and ack while suspended", func() {
			f.session.SetSuspended(true)

			Expect(h.send(mbox.CmdGetFlashInfo, nil).Status).
				To(Equal(mbox.StatusBusy))
			Expect(h.send(mbox.CmdResetState, nil).Status).
				To(Equal(mbox.StatusBusy))
			Expect(h.send(mbox.CmdBMCEventAck, nil).Status).
				To(Equal(mbox.StatusSuccess))
			Expect(h.send(mbox.CmdGetInfo, version(2)).Status).
				To(Equal(mbox.StatusSuccess))
		})

		It("should require the host to see memory", func() {
			Expect(f.session.ResetInternal()).To(Succeed())

			Expect(h.send(mbox.CmdCreateReadWindow, blocks(0, 1)).Status).
				To(Equal(mbox.StatusParamError))
			Expect(h.send(mbox.CmdBMCEventAck, nil).Status).
				To(Equal(mbox.StatusSuccess))
		})

		It("should refuse commands while another transport is active", func() {
			f.session.SetTransport(TransportControl)

			Expect(h.send(mbox.CmdGetFlashInfo, nil).Status).
				To(Equal(mbox.StatusParamError))

			Expect(h.send(mbox.CmdGetInfo, version(2)).Status).
				To(Equal(mbox.StatusSuccess))
			Expect(f.session.Transport()).To(Equal(TransportMailbox))
		})

		It("should report a write to a read window as a window error", func() {
			h.send(mbox.CmdCreateReadWindow, blocks(0, 1))

			resp := h.send(mbox.CmdMarkWriteDirty, blocks(0, 1))

			Expect(resp.Status).To(Equal(mbox.StatusWindowError))
		})

		It("should erase through the mailbox", func() {
			h.send(mbox.CmdCreateWriteWindow, blocks(2, 1))
			w, _ := f.session.Current()

			resp := h.send(mbox.CmdMarkWriteErased, blocks(0, 1))

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(f.session.Pool().Data(w)[0]).To(Equal(byte(0xff)))
			Expect(w.Bytemap()[0]).To(Equal(backend.Erased))
		})

		It("should honour the short lifetime flag", func() {
			h.send(mbox.CmdCreateReadWindow, blocks(0, 1))
			w, _ := f.session.Current()

			resp := h.send(mbox.CmdCloseWindow, func(a *mbox.Args) {
				a.PutU8(0, FlagShortLifetime)
			})

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(w.Age()).To(BeZero())
		})

		It("should acknowledge events", func() {
			Expect(f.session.SetEvents(EventWindowReset | EventDaemonReady)).
				To(Succeed())

			resp := h.send(mbox.CmdBMCEventAck, func(a *mbox.Args) {
				a.PutU8(0, uint8(EventWindowReset))
			})

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(f.session.Events()).To(Equal(EventDaemonReady))
		})

		It("should reset on request", func() {
			h.send(mbox.CmdCreateReadWindow, blocks(0, 1))

			resp := h.send(mbox.CmdResetState, nil)

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(f.session.State().MapsFlash()).To(BeTrue())
			cur, _ := f.session.Current()
			Expect(cur).To(BeNil())
		})
	})

	Context("with an event sink on the mailbox", func() {
		var (
			mockCtrl *gomock.Controller
			sink     *MockEventSink
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			sink = NewMockEventSink(mockCtrl)
			f.session.AttachEventSink(TransportMailbox, sink)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should push the events once get info takes over the transport", func() {
			Expect(f.session.SetEvents(EventDaemonReady | EventProtocolReset)).
				To(Succeed())
			sink.EXPECT().PutEvents(uint8(0x81)).Return(nil).Times(1)

			h.send(mbox.CmdGetInfo, version(2))
			h.send(mbox.CmdGetInfo, version(2))
		})
	})

	Context("with an event sink that fails", func() {
		var logs *bytes.Buffer

		BeforeEach(func() {
			logs = &bytes.Buffer{}
			ctrl := lpc.NewSimulated(0x4000)
			pool, err := windows.MakeBuilder().
				WithMemory(ctrl.Memory()).
				WithWindowSize(0x1000).
				WithBackend(memory.New(0x10000, 12)).
				Build()
			Expect(err).NotTo(HaveOccurred())

			session, err := MakeBuilder().
				WithPool(pool).
				WithLPC(ctrl).
				WithLogger(logging.New(logs, logging.None)).
				Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ResetInternal()).To(Succeed())

			session.AttachEventSink(TransportMailbox,
				failingSink{errors.New("bus busy")})
			session.SetTransport(TransportControl)
			h = &host{session: session}
		})

		It("should still answer get info and warn", func() {
			resp := h.send(mbox.CmdGetInfo, version(2))

			Expect(resp.Status).To(Equal(mbox.StatusSuccess))
			Expect(h.session.Transport()).To(Equal(TransportMailbox))
			Expect(logs.String()).To(ContainSubstring(
				"W: Failed to show BMC events on the mailbox: bus busy"))
		})
	})
})
