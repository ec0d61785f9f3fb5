package config

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/mboxd/errkind"
)

// ParseSize parses a decimal byte count optionally followed by K or M,
// both binary units.
func ParseSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)

	shift := 0

	switch {
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "K"):
		shift = 10
	}

	digits := s
	if shift != 0 {
		digits = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, errkind.New(errkind.Configuration, "parse size",
			"unparseable size %q", s)
	}

	if n<<shift > 0xffffffff {
		return 0, errkind.New(errkind.Configuration, "parse size",
			"size %q does not fit 32 bits", s)
	}

	return uint32(n << shift), nil
}

// Size is a byte count given as accepted by ParseSize.
type Size uint32

// Bytes returns the size in bytes.
func (s Size) Bytes() uint32 {
	return uint32(s)
}

// String formats the size the way ParseSize reads it.
func (s Size) String() string {
	switch {
	case s != 0 && s&(1<<20-1) == 0:
		return strconv.FormatUint(uint64(s>>20), 10) + "M"
	case s != 0 && s&(1<<10-1) == 0:
		return strconv.FormatUint(uint64(s>>10), 10) + "K"
	default:
		return strconv.FormatUint(uint64(s), 10)
	}
}

// Human formats the size for people.
func (s Size) Human() string {
	return humanize.IBytes(uint64(s))
}

// Set parses v.
func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}

	*s = Size(n)

	return nil
}

// Type names the flag value type.
func (s *Size) Type() string {
	return "size"
}

// UnmarshalYAML accepts both plain numbers and suffixed sizes.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	return s.Set(node.Value)
}

// MiB is a size given in mebibytes, with an optional M suffix.
type MiB uint32

// Bytes returns the size in bytes.
func (m MiB) Bytes() uint32 {
	return uint32(m) << 20
}

func (m MiB) String() string {
	return strconv.FormatUint(uint64(m), 10) + "M"
}

// Set parses v.
func (m *MiB) Set(v string) error {
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(v), "M"),
		10, 12)
	if err != nil {
		return errkind.New(errkind.Configuration, "parse size",
			"unparseable size in MiB %q", v)
	}

	*m = MiB(n)

	return nil
}

// Type names the flag value type.
func (m *MiB) Type() string {
	return "mebibytes"
}

// UnmarshalYAML accepts a number of mebibytes.
func (m *MiB) UnmarshalYAML(node *yaml.Node) error {
	return m.Set(node.Value)
}
