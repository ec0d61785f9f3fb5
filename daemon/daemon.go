// Package daemon runs the protocol session on a single goroutine, feeding
// it the mailbox commands, control plane requests and signals.
package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/mboxd/control"
	"github.com/sarchlab/mboxd/control/server"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/protocol"
	"github.com/sarchlab/mboxd/transport/mbox"
)

const shutdownTimeout = 5 * time.Second

type job struct {
	work func()
	done chan struct{}
}

// Daemon owns a protocol session. Every access to the session happens on
// the goroutine running Run.
type Daemon struct {
	session *protocol.Session
	ctrl    *control.Controller
	mailbox mbox.Device
	server  *server.Server
	socket  string
	closers []io.Closer
	log     *logging.Logger

	jobs      chan job
	requests  chan mbox.Request
	signals   chan os.Signal
	terminate chan struct{}
	stopped   chan struct{}
	termOnce  sync.Once
	stopOnce  sync.Once
}

// Builder creates daemons.
type Builder struct {
	session *protocol.Session
	mailbox mbox.Device
	opener  control.BackendOpener
	socket  string
	serve   bool
	closers []io.Closer
	log     *logging.Logger
}

// MakeBuilder returns a builder with no mailbox and no control socket.
func MakeBuilder() Builder {
	return Builder{}
}

// WithSession sets the protocol session to run.
func (b Builder) WithSession(s *protocol.Session) Builder {
	b.session = s
	return b
}

// WithMailbox sets the device the host commands arrive on.
func (b Builder) WithMailbox(dev mbox.Device) Builder {
	b.mailbox = dev
	return b
}

// WithBackendOpener lets the control plane switch backends.
func (b Builder) WithBackendOpener(o control.BackendOpener) Builder {
	b.opener = o
	return b
}

// WithControlSocket serves the control plane on a UNIX socket at path.
func (b Builder) WithControlSocket(path string) Builder {
	b.socket = path
	b.serve = true

	return b
}

// WithCloser adds a resource released when the daemon exits, after the
// session's own devices.
func (b Builder) WithCloser(c io.Closer) Builder {
	b.closers = append(b.closers, c)
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// Build creates the daemon.
func (b Builder) Build() (*Daemon, error) {
	if b.session == nil {
		return nil, errkind.New(errkind.Configuration, "daemon init",
			"a protocol session is required")
	}

	d := &Daemon{
		session:   b.session,
		mailbox:   b.mailbox,
		socket:    b.socket,
		closers:   append([]io.Closer(nil), b.closers...),
		log:       b.log,
		jobs:      make(chan job),
		requests:  make(chan mbox.Request),
		signals:   make(chan os.Signal, 1),
		terminate: make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	ctrl, err := control.MakeBuilder().
		WithSession(b.session).
		WithBackendOpener(b.opener).
		WithTerminate(d.Terminate).
		WithLogger(b.log).
		Build()
	if err != nil {
		return nil, err
	}

	d.ctrl = ctrl

	if b.mailbox != nil {
		b.session.AttachEventSink(protocol.TransportMailbox, b.mailbox)
	}

	if b.serve {
		d.server = server.New(ctrl, d, b.log)
	}

	return d, nil
}

// Controller returns the control directives of the daemon. They must only
// be called through Execute.
func (d *Daemon) Controller() *control.Controller {
	return d.ctrl
}

// Session returns the protocol session. It must only be used through
// Execute.
func (d *Daemon) Session() *protocol.Session {
	return d.session
}

// Terminate asks the daemon to exit.
func (d *Daemon) Terminate() {
	d.termOnce.Do(func() { close(d.terminate) })
}

// Execute runs work on the daemon goroutine and waits for it to complete.
func (d *Daemon) Execute(ctx context.Context, work func()) error {
	j := job{work: work, done: make(chan struct{})}

	select {
	case d.jobs <- j:
	case <-d.stopped:
		return errkind.New(errkind.Busy, "daemon", "daemon is stopping")
	case <-ctx.Done():
		return ctx.Err()
	}

	<-j.done

	return nil
}

// Signal delivers a signal to the daemon as if the process received it.
func (d *Daemon) Signal(sig os.Signal) {
	d.signals <- sig
}

// Run starts the daemon and handles events until it is terminated, the
// context is done or an event source fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.start(); err != nil {
		return multierr.Combine(err, d.shutdown(), d.close())
	}

	signal.Notify(d.signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(d.signals)

	g, gctx := errgroup.WithContext(ctx)

	if d.mailbox != nil {
		g.Go(func() error { return d.readMailbox(gctx) })
	}

	if d.server != nil {
		g.Go(d.server.Serve)
	}

	d.log.Infof("Entering polling loop")

	d.loop(gctx)
	d.stop()

	return multierr.Combine(d.shutdown(), g.Wait(), d.close())
}

func (d *Daemon) start() error {
	if err := d.session.ResetInternal(); err != nil {
		d.log.Errorf("Failed to reset the protocol: %v", err)
		return err
	}

	err := d.session.SetEvents(protocol.EventDaemonReady |
		protocol.EventProtocolReset)
	if err == nil {
		err = d.session.PutEvents()
	}

	if err != nil {
		d.log.Warnf("Failed to announce the daemon: %v", err)
	}

	if d.server != nil {
		if err := d.server.Listen(d.socket); err != nil {
			return err
		}
	}

	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	for {
		select {
		case req := <-d.requests:
			if err := d.session.HandleMailbox(req, d.mailbox); err != nil {
				d.log.Errorf("Failed to answer %s: %v", req.Command, err)
			}
		case j := <-d.jobs:
			j.work()
			close(j.done)
		case sig := <-d.signals:
			if !d.handleSignal(sig) {
				return
			}
		case <-d.terminate:
			d.log.Infof("Terminating")
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleSignal reports whether the daemon keeps running.
func (d *Daemon) handleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGHUP:
		d.log.Infof("Caught SIGHUP, resetting the protocol")

		if err := d.session.ProtocolReset(); err != nil {
			d.log.Errorf("Failed to reset on SIGHUP: %v", err)
		}

		return true
	default:
		d.log.Infof("Caught %s, exiting", sig)
		return false
	}
}

func (d *Daemon) readMailbox(ctx context.Context) error {
	for {
		req, err := d.mailbox.ReadRequest()
		if err != nil {
			select {
			case <-d.stopped:
				return nil
			default:
			}

			return errkind.Wrap(errkind.BackendIO, "mbox read", err)
		}

		select {
		case d.requests <- req:
		case <-ctx.Done():
			return nil
		case <-d.stopped:
			return nil
		}
	}
}

// stop tells the host the daemon is going away.
func (d *Daemon) stop() {
	d.stopOnce.Do(func() { close(d.stopped) })

	if err := d.session.ProtocolReset(); err != nil {
		d.log.Errorf("Failed to reset the protocol on exit: %v", err)
	}

	err := multierr.Combine(
		d.session.ClearEvents(protocol.EventDaemonReady),
		d.session.SetEvents(protocol.EventProtocolReset),
		d.session.PutEvents(),
	)
	if err != nil {
		d.log.Warnf("Failed to tell the host the daemon is exiting: %v", err)
	}
}

func (d *Daemon) shutdown() error {
	var err error

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err = d.server.Shutdown(ctx)
	}

	if d.mailbox != nil {
		err = multierr.Append(err, d.mailbox.Close())
	}

	return err
}

func (d *Daemon) close() error {
	var err error

	if d.server != nil && d.socket != "" {
		if rmErr := os.Remove(d.socket); rmErr != nil &&
			!errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}

	err = multierr.Append(err, d.session.Backend().Close())
	err = multierr.Append(err, d.session.LPC().Close())

	for _, c := range d.closers {
		err = multierr.Append(err, c.Close())
	}

	return err
}
