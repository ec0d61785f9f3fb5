// Package protocol implements the HIOMAP state machine: version
// negotiation, the per-version command handlers, the validity gate applied
// to mailbox commands and the BMC event bits shown to the host.
//
// A Session is owned by a single goroutine. None of its methods may be
// called concurrently.
package protocol

import (
	"fmt"
)

// Version is a negotiated protocol version.
type Version uint8

// The protocol versions. VersionNone is the state before the first
// successful negotiation.
const (
	VersionNone Version = 0
	Version1    Version = 1
	Version2    Version = 2

	MinVersion = Version1
	MaxVersion = Version2
)

func (v Version) String() string {
	if v == VersionNone {
		return "none"
	}

	return fmt.Sprintf("v%d", uint8(v))
}

// BlockSizeShiftV1 is the fixed 4KiB block size of version 1.
const BlockSizeShiftV1 = 12

// flashAccessMsPerMB is the assumed worst case flash access time used to
// suggest a host timeout.
const flashAccessMsPerMB = 8000

// Close window flags.
const (
	FlagsNone         uint8 = 0x00
	FlagShortLifetime uint8 = 0x01
)

// Transport is the channel the host currently talks to the daemon through.
type Transport int

// The transports. TransportNone is active until the first GetInfo.
const (
	TransportNone Transport = iota
	TransportMailbox
	TransportControl
)

func (t Transport) String() string {
	switch t {
	case TransportMailbox:
		return "mbox"
	case TransportControl:
		return "control"
	default:
		return "none"
	}
}

// Mapping is what the host LPC firmware space points at.
type Mapping int

// The mappings.
const (
	MapsNothing Mapping = iota
	MapsFlash
	MapsMemory
)

func (m Mapping) String() string {
	switch m {
	case MapsFlash:
		return "MAPS_FLASH"
	case MapsMemory:
		return "MAPS_MEM"
	default:
		return "UNMAPPED"
	}
}

// State is the daemon state as seen by the host: whether it is suspended
// and what the LPC bus points at. The zero State is uninitialised.
type State struct {
	Mapping   Mapping
	Suspended bool
}

// Uninitialised reports whether the LPC bus was never mapped.
func (s State) Uninitialised() bool {
	return s.Mapping == MapsNothing && !s.Suspended
}

// MapsMemory reports whether the host sees the reserved memory.
func (s State) MapsMemory() bool {
	return s.Mapping == MapsMemory
}

// MapsFlash reports whether the host sees the flash directly.
func (s State) MapsFlash() bool {
	return s.Mapping == MapsFlash
}

func (s State) String() string {
	if s.Uninitialised() {
		return "UNINITIALISED"
	}

	phase := "ACTIVE"
	if s.Suspended {
		phase = "SUSPEND"
	}

	return phase + "_" + s.Mapping.String()
}
