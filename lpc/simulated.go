package lpc

import (
	"github.com/sarchlab/mboxd/errkind"
)

// Simulated is an LPC controller with heap memory. It remembers the mapping
// requests it received.
type Simulated struct {
	mem      []byte
	mappings []Mapping
	closed   bool

	// MapErr, when set, makes every mapping request fail.
	MapErr error
}

// NewSimulated creates a simulated controller with size bytes of reserved
// memory.
func NewSimulated(size uint32) *Simulated {
	return &Simulated{mem: make([]byte, size)}
}

// Memory returns the reserved memory.
func (s *Simulated) Memory() []byte {
	return s.mem
}

// Base returns the LPC address of the reserved memory.
func (s *Simulated) Base() uint32 {
	return BaseFor(uint32(len(s.mem)))
}

func (s *Simulated) apply(m Mapping) error {
	if s.closed {
		return errkind.New(errkind.Internal, "lpc map", "controller is closed")
	}

	if s.MapErr != nil {
		return errkind.Wrap(errkind.BackendIO, "lpc map", s.MapErr)
	}

	s.mappings = append(s.mappings, m)

	return nil
}

// MapFlash records a flash mapping.
func (s *Simulated) MapFlash(flashSize uint32) error {
	return s.apply(FlashMapping(flashSize))
}

// MapMemory records a memory mapping.
func (s *Simulated) MapMemory() error {
	return s.apply(MemoryMapping(uint32(len(s.mem))))
}

// Mappings returns every mapping applied so far.
func (s *Simulated) Mappings() []Mapping {
	return s.mappings
}

// Current returns the last mapping applied, and false if there is none.
func (s *Simulated) Current() (Mapping, bool) {
	if len(s.mappings) == 0 {
		return Mapping{}, false
	}

	return s.mappings[len(s.mappings)-1], true
}

// Close marks the controller closed.
func (s *Simulated) Close() error {
	s.closed = true
	return nil
}
