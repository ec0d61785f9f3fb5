package protocol

import (
	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/hooking"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/windows"
)

// Session is the protocol state of the daemon.
type Session struct {
	hooking.HookableBase

	pool *windows.Pool
	lpc  lpc.Controller
	log  *logging.Logger

	version   Version
	ops       versionOps
	state     State
	transport Transport
	events    Event
	sinks     map[Transport]EventSink
	prevSeq   uint8

	current        *windows.Window
	currentIsWrite bool
}

// A Builder can build sessions.
type Builder struct {
	pool *windows.Pool
	lpc  lpc.Controller
	log  *logging.Logger
}

// MakeBuilder returns an empty Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithPool sets the window pool.
func (b Builder) WithPool(p *windows.Pool) Builder {
	b.pool = p
	return b
}

// WithLPC sets the LPC controller.
func (b Builder) WithLPC(c lpc.Controller) Builder {
	b.lpc = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// Build creates an uninitialised session.
func (b Builder) Build() (*Session, error) {
	if b.pool == nil || b.lpc == nil {
		return nil, errkind.New(errkind.Configuration, "protocol init",
			"a window pool and an LPC controller are required")
	}

	return &Session{
		pool:  b.pool,
		lpc:   b.lpc,
		log:   b.log,
		ops:   opsFor(VersionNone),
		sinks: make(map[Transport]EventSink),
	}, nil
}

// Version returns the negotiated version.
func (s *Session) Version() Version {
	return s.version
}

// State returns the suspend and mapping state.
func (s *Session) State() State {
	return s.state
}

// SetSuspended suspends or resumes the session. The mapping is kept.
func (s *Session) SetSuspended(suspended bool) {
	s.state.Suspended = suspended
}

// Transport returns the active transport.
func (s *Session) Transport() Transport {
	return s.transport
}

// SetTransport changes the active transport.
func (s *Session) SetTransport(t Transport) {
	s.transport = t
}

// Pool returns the window pool.
func (s *Session) Pool() *windows.Pool {
	return s.pool
}

// Backend returns the backend behind the windows.
func (s *Session) Backend() backend.Backend {
	return s.pool.Backend()
}

// LPC returns the LPC controller.
func (s *Session) LPC() lpc.Controller {
	return s.lpc
}

// Logger returns the session logger.
func (s *Session) Logger() *logging.Logger {
	return s.log
}

// BlockSizeShift returns the negotiated block size.
func (s *Session) BlockSizeShift() uint32 {
	return s.pool.BlockSizeShift()
}

// Current returns the window the host is pointed at, if any, and whether
// it was opened for writing.
func (s *Session) Current() (*windows.Window, bool) {
	return s.current, s.currentIsWrite
}

func (s *Session) hasWriteWindow() bool {
	return s.current != nil && s.currentIsWrite
}

func (s *Session) closeCurrent(flags uint8) {
	s.log.Debugf("Close current window, flags: 0x%.2x", flags)

	if flags&FlagShortLifetime != 0 {
		s.pool.Expire(s.current)
	}

	s.current = nil
	s.currentIsWrite = false
}

// ResetAllWindows closes the current window without flushing it and resets
// every window. It reports whether a window was open.
func (s *Session) ResetAllWindows() bool {
	closed := s.current != nil
	if closed {
		s.closeCurrent(FlagsNone)
	}

	s.pool.ResetAll()

	return closed
}

func (s *Session) negotiate(requested uint8) (Version, error) {
	if requested < uint8(MinVersion) {
		return s.version, errkind.New(errkind.InvalidArgument,
			"negotiate version", "version %d is not supported", requested)
	}

	v := Version(requested)
	if v > MaxVersion {
		v = MaxVersion
	}

	s.version = v
	s.ops = opsFor(v)

	return v, nil
}

// ResetMapping resets the backend and points the LPC bus where the backend
// asks.
func (s *Session) ResetMapping() error {
	mode, err := s.pool.Backend().Reset(s.lpc.Memory())
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "protocol reset", err)
	}

	switch mode {
	case backend.PreferFlash:
		return s.MapFlash()
	case backend.PreferMemory:
		return s.MapMemory()
	default:
		return errkind.New(errkind.InvalidArgument, "protocol reset",
			"backend asked for reset mode %d", int(mode))
	}
}

// ResetInternal resets every window and the LPC mapping without touching
// the event bits.
func (s *Session) ResetInternal() error {
	s.ResetAllWindows()
	return s.ResetMapping()
}

// Reset is the reset the host asks for.
func (s *Session) Reset() error {
	return s.ResetInternal()
}

// ProtocolReset resets the protocol while telling the host: the daemon is
// not ready while the reset runs and signals a protocol reset once done.
func (s *Session) ProtocolReset() error {
	if err := s.ClearEvents(EventDaemonReady); err != nil {
		s.log.Errorf("Failed to clear daemon ready state, reset failed")
		return err
	}

	if err := s.ResetInternal(); err != nil {
		s.log.Errorf("Failed to reset protocol, daemon remains not ready")
		return err
	}

	if err := s.SetEvents(EventDaemonReady | EventProtocolReset); err != nil {
		s.log.Errorf("Failed to set daemon ready state, " +
			"daemon remains not ready")
		return err
	}

	return nil
}

// MapFlash points the host at the flash. Since the host can then change
// the flash behind the daemon, the backend forgets what it knew was erased.
func (s *Session) MapFlash() error {
	if s.state.MapsFlash() {
		return nil
	}

	if s.state.Suspended {
		s.log.Errorf("Can't point lpc mapping to flash while suspended")
		return errkind.New(errkind.Busy, "map flash", "daemon is suspended")
	}

	be := s.pool.Backend()
	flashSize := be.Geometry().FlashSize

	s.log.Infof("Pointing HOST LPC bus at the flash")

	if err := s.lpc.MapFlash(flashSize); err != nil {
		s.log.Errorf("Failed to point the LPC bus at the flash: %v", err)
		return errkind.Wrap(errkind.BackendIO, "map flash", err)
	}

	s.state.Mapping = MapsFlash

	return backend.SetBytemap(be, 0, flashSize, backend.Dirty)
}

// MapMemory points the host at the reserved memory.
func (s *Session) MapMemory() error {
	if s.state.MapsMemory() {
		return nil
	}

	s.log.Infof("Pointing HOST LPC bus at memory region")

	if err := s.lpc.MapMemory(); err != nil {
		s.log.Errorf("Failed to point the LPC bus to memory: %v", err)
		return errkind.Wrap(errkind.BackendIO, "map memory", err)
	}

	s.state.Mapping = MapsMemory

	return nil
}
