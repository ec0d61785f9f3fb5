package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/backend/memory"
	"github.com/sarchlab/mboxd/control"
	"github.com/sarchlab/mboxd/control/server"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/protocol"
	"github.com/sarchlab/mboxd/transport/mbox"
	"github.com/sarchlab/mboxd/windows"
)

func newSession() *protocol.Session {
	ctrl := lpc.NewSimulated(0x4000)

	pool, err := windows.MakeBuilder().
		WithMemory(ctrl.Memory()).
		WithWindowSize(0x1000).
		WithBackend(memory.New(0x10000, 12)).
		Build()
	Expect(err).NotTo(HaveOccurred())

	session, err := protocol.MakeBuilder().WithPool(pool).WithLPC(ctrl).Build()
	Expect(err).NotTo(HaveOccurred())

	return session
}

type brokenMailbox struct {
	closed bool
}

func (m *brokenMailbox) ReadRequest() (mbox.Request, error) {
	return mbox.Request{}, errors.New("device gone")
}

func (m *brokenMailbox) WriteResponse(mbox.Response) error { return nil }
func (m *brokenMailbox) PutEvents(uint8) error             { return nil }

func (m *brokenMailbox) Close() error {
	m.closed = true
	return nil
}

type closeCounter struct {
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

var _ = Describe("Daemon", func() {
	var (
		pipe    *mbox.Pipe
		closer  *closeCounter
		d       *Daemon
		ctx     context.Context
		cancel  context.CancelFunc
		runErr  chan error
		seq     uint8
		timeout = 5 * time.Second
	)

	BeforeEach(func() {
		pipe = mbox.NewPipe()
		closer = &closeCounter{}
		seq = 0

		var err error
		d, err = MakeBuilder().
			WithSession(newSession()).
			WithMailbox(pipe).
			WithCloser(closer).
			WithLogger(logging.Discard()).
			Build()
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithTimeout(context.Background(), timeout)
		runErr = make(chan error, 1)
	})

	AfterEach(func() {
		cancel()
	})

	start := func() {
		go func() { runErr <- d.Run(ctx) }()
	}

	transact := func(cmd mbox.Command, fill func(a *mbox.Args)) mbox.Response {
		seq++
		req := mbox.Request{Command: cmd, Seq: seq}
		if fill != nil {
			fill(&req.Args)
		}

		resp, err := pipe.Transact(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		return resp
	}

	onLoop := func(work func()) {
		Expect(d.Execute(ctx, work)).To(Succeed())
	}

	It("should need a session", func() {
		_, err := MakeBuilder().Build()

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})

	It("should announce itself and serve the host", func() {
		start()

		resp := transact(mbox.CmdGetInfo, func(a *mbox.Args) { a.PutU8(0, 2) })

		Expect(resp.Status).To(Equal(mbox.StatusSuccess))
		Expect(resp.Args.U8(0)).To(Equal(uint8(2)))
		Expect(pipe.Events()).To(Equal(uint8(protocol.EventDaemonReady |
			protocol.EventProtocolReset)))

		onLoop(func() {
			Expect(d.Session().Transport()).To(Equal(protocol.TransportMailbox))
		})

		d.Terminate()
		Eventually(runErr, timeout).Should(Receive(BeNil()))
	})

	It("should run control work on the loop", func() {
		start()

		var state control.DaemonState
		onLoop(func() {
			Expect(d.Controller().Suspend()).To(Succeed())
			state = d.Controller().DaemonState()
		})

		Expect(state).To(Equal(control.DaemonSuspended))

		resp := transact(mbox.CmdGetInfo, func(a *mbox.Args) { a.PutU8(0, 2) })
		Expect(resp.Status).To(Equal(mbox.StatusSuccess))

		resp = transact(mbox.CmdCreateReadWindow, nil)
		Expect(resp.Status).To(Equal(mbox.StatusBusy))

		d.Terminate()
		Eventually(runErr, timeout).Should(Receive(BeNil()))
	})

	It("should reset the protocol on SIGHUP", func() {
		start()

		transact(mbox.CmdGetInfo, func(a *mbox.Args) { a.PutU8(0, 2) })
		resp := transact(mbox.CmdBMCEventAck, func(a *mbox.Args) {
			a.PutU8(0, uint8(protocol.EventProtocolReset))
		})
		Expect(resp.Status).To(Equal(mbox.StatusSuccess))
		Expect(pipe.Events()).To(Equal(uint8(protocol.EventDaemonReady)))

		resp = transact(mbox.CmdCreateReadWindow, func(a *mbox.Args) {
			a.PutU16(0, 1)
			a.PutU16(2, 1)
		})
		Expect(resp.Status).To(Equal(mbox.StatusSuccess))

		d.Signal(syscall.SIGHUP)

		Eventually(pipe.Events, timeout).Should(Equal(
			uint8(protocol.EventDaemonReady | protocol.EventProtocolReset)))

		onLoop(func() {
			w, _ := d.Session().Current()
			Expect(w).To(BeNil())
		})

		d.Signal(syscall.SIGTERM)
		Eventually(runErr, timeout).Should(Receive(BeNil()))
	})

	It("should tell the host it is going away", func() {
		start()

		transact(mbox.CmdGetInfo, func(a *mbox.Args) { a.PutU8(0, 2) })

		d.Terminate()
		Eventually(runErr, timeout).Should(Receive(BeNil()))

		Expect(pipe.Events()).To(Equal(uint8(protocol.EventProtocolReset)))
		Expect(closer.closed).To(Equal(1))

		_, err := pipe.Transact(ctx, mbox.Request{Command: mbox.CmdGetInfo})
		Expect(err).To(HaveOccurred())

		err = d.Execute(ctx, func() {})
		Expect(errkind.KindOf(err)).To(Equal(errkind.Busy))
	})

	It("should stop with its context", func() {
		start()

		cancel()

		Eventually(runErr, timeout).Should(Receive(BeNil()))
	})

	It("should stop when the mailbox fails", func() {
		mailbox := &brokenMailbox{}

		var err error
		d, err = MakeBuilder().
			WithSession(newSession()).
			WithMailbox(mailbox).
			Build()
		Expect(err).NotTo(HaveOccurred())

		err = d.Run(ctx)

		Expect(errkind.KindOf(err)).To(Equal(errkind.BackendIO))
		Expect(mailbox.closed).To(BeTrue())
	})

	It("should serve the control socket", func() {
		dir, err := os.MkdirTemp("", "mboxd")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		socket := filepath.Join(dir, "mboxd.sock")

		d, err = MakeBuilder().
			WithSession(newSession()).
			WithMailbox(pipe).
			WithControlSocket(socket).
			WithLogger(logging.Discard()).
			Build()
		Expect(err).NotTo(HaveOccurred())

		start()

		client := server.NewClient(socket)
		Eventually(client.Ping, timeout).Should(Succeed())

		st, err := client.LPCState()
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(control.LPCFlash))

		rc, _, err := client.Legacy(control.CmdKill)
		Expect(err).NotTo(HaveOccurred())
		Expect(rc).To(Equal(control.Success))

		Eventually(runErr, timeout).Should(Receive(BeNil()))

		_, err = os.Stat(socket)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})

var _ = Describe("Opener", func() {
	It("should open the memory backend", func() {
		o := Opener{FlashSize: 0x10000, Log: logging.Discard()}

		be, err := o.OpenBackend("memory", "")

		Expect(err).NotTo(HaveOccurred())
		Expect(be.Name()).To(Equal("memory"))
		Expect(be.Geometry().FlashSize).To(Equal(uint32(0x10000)))
	})

	It("should need a flash size for the memory backend", func() {
		_, err := Opener{}.OpenBackend("memory", "")

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})

	It("should open a file backend", func() {
		dir, err := os.MkdirTemp("", "mboxd")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		o := Opener{FlashSize: 0x4000, Log: logging.Discard()}

		be, err := o.OpenBackend("file", filepath.Join(dir, "pnor.img"))

		Expect(err).NotTo(HaveOccurred())
		Expect(be.Geometry().FlashSize).To(Equal(uint32(0x4000)))
		Expect(be.Close()).To(Succeed())
	})

	It("should reject unknown backends", func() {
		_, err := Opener{}.OpenBackend("nand", "")

		Expect(errkind.KindOf(err)).To(Equal(errkind.InvalidArgument))
	})
})
