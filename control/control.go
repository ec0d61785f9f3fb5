// Package control implements the daemon directives: the requests the BMC
// side makes of the daemon, as opposed to the commands of the host.
package control

import (
	"go.uber.org/multierr"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/protocol"
)

// DaemonState is what the daemon state directive reports.
type DaemonState uint8

// The daemon states.
const (
	DaemonActive    DaemonState = 1
	DaemonSuspended DaemonState = 2
)

func (s DaemonState) String() string {
	if s == DaemonSuspended {
		return "suspended"
	}

	return "active"
}

// LPCState is what the LPC state directive reports.
type LPCState uint8

// The LPC states.
const (
	LPCInvalid LPCState = 0
	LPCFlash   LPCState = 1
	LPCMemory  LPCState = 2
)

func (s LPCState) String() string {
	switch s {
	case LPCFlash:
		return "flash"
	case LPCMemory:
		return "memory"
	default:
		return "invalid"
	}
}

// A BackendOpener builds the backend a set backend directive names.
type BackendOpener interface {
	OpenBackend(name, path string) (backend.Backend, error)
}

// Controller runs the directives against a protocol session.
type Controller struct {
	session   *protocol.Session
	opener    BackendOpener
	terminate func()
	log       *logging.Logger
}

// A Builder can build controllers.
type Builder struct {
	session   *protocol.Session
	opener    BackendOpener
	terminate func()
	log       *logging.Logger
}

// MakeBuilder returns an empty Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithSession sets the session the directives act on.
func (b Builder) WithSession(s *protocol.Session) Builder {
	b.session = s
	return b
}

// WithBackendOpener sets how backends are built for SetBackend.
func (b Builder) WithBackendOpener(o BackendOpener) Builder {
	b.opener = o
	return b
}

// WithTerminate sets the function Kill calls to stop the daemon.
func (b Builder) WithTerminate(f func()) Builder {
	b.terminate = f
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// Build creates the controller.
func (b Builder) Build() (*Controller, error) {
	if b.session == nil {
		return nil, errkind.New(errkind.Configuration, "control init",
			"a protocol session is required")
	}

	terminate := b.terminate
	if terminate == nil {
		terminate = func() {}
	}

	return &Controller{
		session:   b.session,
		opener:    b.opener,
		terminate: terminate,
		log:       b.log,
	}, nil
}

// Session returns the session the directives act on.
func (c *Controller) Session() *protocol.Session {
	return c.session
}

// Ping checks that the daemon answers.
func (c *Controller) Ping() error {
	return nil
}

// DaemonState reports whether the daemon is suspended.
func (c *Controller) DaemonState() DaemonState {
	if c.session.State().Suspended {
		return DaemonSuspended
	}

	return DaemonActive
}

// LPCState reports what the host LPC firmware space points at.
func (c *Controller) LPCState() LPCState {
	switch c.session.State().Mapping {
	case protocol.MapsFlash:
		return LPCFlash
	case protocol.MapsMemory:
		return LPCMemory
	default:
		return LPCInvalid
	}
}

// Reset drops every window and points the host where the backend wants.
// An open window is reported to the host as a window reset.
func (c *Controller) Reset() error {
	if c.session.State().Suspended {
		return errkind.New(errkind.Busy, "control reset", "daemon is suspended")
	}

	if c.session.ResetAllWindows() {
		if err := c.session.SetEvents(protocol.EventWindowReset); err != nil {
			return err
		}
	}

	return c.session.ResetMapping()
}

// Kill asks the daemon to exit.
func (c *Controller) Kill() error {
	c.log.Infof("Exiting on kill command")
	c.terminate()

	return nil
}

// MarkFlashModified tells the daemon the flash changed behind its back. The
// windows are dropped without flushing and nothing is assumed erased.
func (c *Controller) MarkFlashModified() error {
	be := c.session.Backend()

	err := backend.SetBytemap(be, 0, be.Geometry().FlashSize, backend.Dirty)
	if err != nil {
		return err
	}

	if c.session.ResetAllWindows() {
		return c.session.SetEvents(protocol.EventWindowReset)
	}

	return nil
}

// Suspend tells the host the BMC is taking the flash away. Suspending a
// suspended daemon does nothing.
func (c *Controller) Suspend() error {
	if c.session.State().Suspended {
		return nil
	}

	if err := c.session.SetEvents(protocol.EventFlashCtrlLost); err != nil {
		return err
	}

	c.session.SetSuspended(true)

	return nil
}

// Resume gives the flash back to the host. With modified set the flash is
// treated as changed while suspended.
func (c *Controller) Resume(modified bool) error {
	if !c.session.State().Suspended {
		return nil
	}

	if modified {
		if err := c.MarkFlashModified(); err != nil {
			return err
		}
	}

	if err := c.session.ClearEvents(protocol.EventFlashCtrlLost); err != nil {
		return err
	}

	c.session.SetSuspended(false)

	return nil
}

// SetBackend replaces the backend. The new backend is built before the old
// one is released; the daemon is not ready in between and the host sees a
// protocol reset afterwards. If the new backend cannot be opened the old
// one stays and the daemon is ready again.
func (c *Controller) SetBackend(name, path string) error {
	if c.session.State().Suspended {
		return errkind.New(errkind.InvalidArgument, "set backend",
			"daemon is suspended")
	}

	if c.opener == nil {
		return errkind.New(errkind.Unsupported, "set backend",
			"backends cannot be changed")
	}

	if err := c.session.ClearEvents(protocol.EventDaemonReady); err != nil {
		return err
	}

	be, err := c.opener.OpenBackend(name, path)
	if err != nil {
		c.log.Errorf("Failed to open %s backend: %v", name, err)
		return multierr.Append(err,
			c.session.SetEvents(protocol.EventDaemonReady))
	}

	c.session.ResetAllWindows()

	old := c.session.Pool().Backend()
	c.session.Pool().SetBackend(be)

	if err := old.Close(); err != nil {
		c.log.Warnf("Failed to close %s backend: %v", old.Name(), err)
	}

	c.log.Infof("Switched to %s backend", be.Name())

	if err := c.session.ResetInternal(); err != nil {
		return err
	}

	return c.session.SetEvents(
		protocol.EventDaemonReady | protocol.EventProtocolReset)
}
