package protocol

import (
	"go.uber.org/multierr"
)

// Event is a set of BMC event bits.
type Event uint8

// The BMC event bits.
const (
	EventProtocolReset Event = 0x01
	EventWindowReset   Event = 0x02
	EventFlashCtrlLost Event = 0x40
	EventDaemonReady   Event = 0x80

	EventMaskV1 = EventProtocolReset
	EventMaskV2 = EventProtocolReset | EventWindowReset |
		EventFlashCtrlLost | EventDaemonReady
)

// EventMask returns the bits a host speaking v may see. Before
// negotiation the host may see every bit.
func EventMask(v Version) Event {
	if v == Version1 {
		return EventMaskV1
	}

	return EventMaskV2
}

// An EventSink shows the BMC event bits to the host.
type EventSink interface {
	PutEvents(events uint8) error
}

// AttachEventSink makes sink receive the events while t is the active
// transport.
func (s *Session) AttachEventSink(t Transport, sink EventSink) {
	s.sinks[t] = sink
}

// Events returns every event bit that is set, including those the
// negotiated version hides.
func (s *Session) Events() Event {
	return s.events
}

// VisibleEvents returns the event bits the host can currently see.
func (s *Session) VisibleEvents() Event {
	return s.events & EventMask(s.version)
}

// SetEvents sets bits and pushes the result to the active transport. The
// raw bits are kept so a later version change can reveal them.
func (s *Session) SetEvents(ev Event) error {
	s.events |= ev
	return s.pushEvents(s.transport)
}

// ClearEvents clears bits and pushes the result to the active transport.
func (s *Session) ClearEvents(ev Event) error {
	s.events &^= ev
	return s.pushEvents(s.transport)
}

// PutEvents pushes the events to every attached sink, whichever transport
// is active.
func (s *Session) PutEvents() error {
	var err error

	for t := range s.sinks {
		err = multierr.Append(err, s.pushEvents(t))
	}

	return err
}

func (s *Session) pushEvents(t Transport) error {
	visible := s.VisibleEvents()

	s.InvokeHook(hookCtx(s, HookPosEvents, visible, t))

	sink, ok := s.sinks[t]
	if !ok || sink == nil {
		return nil
	}

	if err := sink.PutEvents(uint8(visible)); err != nil {
		s.log.Errorf("Couldn't write BMC events 0x%.2x on %s: %v",
			uint8(visible), t, err)
		return err
	}

	return nil
}
