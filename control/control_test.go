package control

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/backend/memory"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/protocol"
	"github.com/sarchlab/mboxd/windows"
)

var _ = Describe("Controller", func() {
	var (
		mockCtrl   *gomock.Controller
		opener     *MockBackendOpener
		flash      *memory.Flash
		lpcCtrl    *lpc.Simulated
		session    *protocol.Session
		c          *Controller
		terminated int
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		opener = NewMockBackendOpener(mockCtrl)
		flash = memory.New(0x10000, 12)
		lpcCtrl = lpc.NewSimulated(0x4000)

		pool, err := windows.MakeBuilder().
			WithMemory(lpcCtrl.Memory()).
			WithWindowSize(0x1000).
			WithBackend(flash).
			Build()
		Expect(err).NotTo(HaveOccurred())

		session, err = protocol.MakeBuilder().
			WithPool(pool).
			WithLPC(lpcCtrl).
			Build()
		Expect(err).NotTo(HaveOccurred())
		Expect(session.ResetInternal()).To(Succeed())

		terminated = 0
		c, err = MakeBuilder().
			WithSession(session).
			WithBackendOpener(opener).
			WithTerminate(func() { terminated++ }).
			Build()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	openWindow := func(readOnly bool) {
		_, err := session.GetInfo(protocol.GetInfoRequest{Version: 2})
		Expect(err).NotTo(HaveOccurred())
		_, err = session.CreateWindow(protocol.CreateWindowRequest{
			Offset:   1,
			ReadOnly: readOnly,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	It("should require a session", func() {
		_, err := MakeBuilder().Build()

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})

	It("should answer a ping", func() {
		Expect(c.Ping()).To(Succeed())
	})

	It("should report the LPC state", func() {
		Expect(c.LPCState()).To(Equal(LPCFlash))

		openWindow(true)

		Expect(c.LPCState()).To(Equal(LPCMemory))
	})

	It("should kill the daemon", func() {
		Expect(c.Kill()).To(Succeed())

		Expect(terminated).To(Equal(1))
	})

	Context("when resetting", func() {
		It("should report a dropped window", func() {
			openWindow(true)

			Expect(c.Reset()).To(Succeed())

			Expect(session.Events()).To(Equal(protocol.EventWindowReset))
			Expect(c.LPCState()).To(Equal(LPCFlash))
			cur, _ := session.Current()
			Expect(cur).To(BeNil())
		})

		It("should stay quiet when no window was open", func() {
			Expect(c.Reset()).To(Succeed())

			Expect(session.Events()).To(BeZero())
		})

		It("should refuse while suspended", func() {
			Expect(c.Suspend()).To(Succeed())

			err := c.Reset()

			Expect(errkind.KindOf(err)).To(Equal(errkind.Busy))
		})
	})

	Context("when suspending", func() {
		It("should tell the host the flash is gone", func() {
			Expect(c.Suspend()).To(Succeed())

			Expect(c.DaemonState()).To(Equal(DaemonSuspended))
			Expect(session.Events()).To(Equal(protocol.EventFlashCtrlLost))
		})

		It("should do nothing the second time", func() {
			Expect(c.Suspend()).To(Succeed())
			Expect(session.ClearEvents(protocol.EventFlashCtrlLost)).To(Succeed())

			Expect(c.Suspend()).To(Succeed())

			Expect(session.Events()).To(BeZero())
		})

		It("should give the flash back on resume", func() {
			Expect(c.Suspend()).To(Succeed())

			Expect(c.Resume(false)).To(Succeed())

			Expect(c.DaemonState()).To(Equal(DaemonActive))
			Expect(session.Events()).To(BeZero())
		})

		It("should resume an active daemon without effect", func() {
			Expect(session.SetEvents(protocol.EventFlashCtrlLost)).To(Succeed())

			Expect(c.Resume(true)).To(Succeed())

			Expect(session.Events()).To(Equal(protocol.EventFlashCtrlLost))
		})

		It("should drop the windows when resumed as modified", func() {
			openWindow(true)
			Expect(c.Suspend()).To(Succeed())

			Expect(c.Resume(true)).To(Succeed())

			Expect(session.Events()).To(Equal(protocol.EventWindowReset))
			for _, w := range session.Pool().Windows() {
				Expect(w.IsInitialised()).To(BeFalse())
			}
		})
	})

	It("should forget what it knew about the flash when modified", func() {
		openWindow(false)
		Expect(flash.Erase(0, 0x1000)).To(Succeed())
		Expect(flash.EraseCalls).To(HaveLen(1))

		Expect(c.MarkFlashModified()).To(Succeed())
		Expect(flash.Erase(0, 0x1000)).To(Succeed())

		Expect(flash.EraseCalls).To(HaveLen(2))
		Expect(session.Events()).To(Equal(protocol.EventWindowReset))
	})

	Context("when changing the backend", func() {
		It("should swap and signal a protocol reset", func() {
			next := memory.New(0x20000, 12)
			opener.EXPECT().OpenBackend("file", "/tmp/pnor").Return(next, nil)
			openWindow(false)

			Expect(c.SetBackend("file", "/tmp/pnor")).To(Succeed())

			Expect(session.Backend()).To(BeIdenticalTo(next))
			Expect(session.Events()).To(Equal(
				protocol.EventDaemonReady | protocol.EventProtocolReset))
			Expect(c.LPCState()).To(Equal(LPCFlash))
			_, err := flash.Read(0, 1)
			Expect(errkind.KindOf(err)).To(Equal(errkind.BackendIO))
		})

		It("should keep the old backend when the new one fails", func() {
			Expect(session.SetEvents(protocol.EventDaemonReady)).To(Succeed())
			opener.EXPECT().OpenBackend("mtd", "").
				Return(nil, errors.New("no such device"))

			err := c.SetBackend("mtd", "")

			Expect(err).To(HaveOccurred())
			Expect(session.Backend()).To(BeIdenticalTo(backend.Backend(flash)))
			Expect(session.Events()).To(Equal(protocol.EventDaemonReady))
		})

		It("should refuse while suspended", func() {
			Expect(c.Suspend()).To(Succeed())

			err := c.SetBackend("vpnor", "")

			Expect(errkind.KindOf(err)).To(Equal(errkind.InvalidArgument))
		})
	})
})
