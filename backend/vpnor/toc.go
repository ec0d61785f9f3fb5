package vpnor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
	"github.com/sarchlab/mboxd/logging"
)

// User word 1 permission flags of a partition entry.
const (
	FlagPreserved   uint32 = 0x00800000
	FlagReadOnly    uint32 = 0x00400000
	FlagReprovision uint32 = 0x00100000
	FlagVolatile    uint32 = 0x00080000
	FlagClearECC    uint32 = 0x00040000
)

// ECCProtected is the user word 0 value of partitions with ECC.
const ECCProtected uint32 = 0x8000

const (
	nameMax         = 15
	parentPartition = 0xffffffff
	typeData        = 1
	versionShift    = 24
)

// Partition is one entry of the partition table, in host byte order. Base
// and Size are in blocks; Actual is in bytes.
type Partition struct {
	Name   string
	ID     uint32
	Base   uint32
	Size   uint32
	PID    uint32
	Type   uint32
	Flags  uint32
	Actual uint32
	User   [16]uint32
}

// ReadOnly reports whether the host may not write the partition.
func (p *Partition) ReadOnly() bool {
	return p.User[1]&FlagReadOnly != 0
}

// Preserved reports whether writes go to the preserved location.
func (p *Partition) Preserved() bool {
	return p.User[1]&FlagPreserved != 0
}

// Version returns the partition version byte.
func (p *Partition) Version() uint8 {
	return uint8(p.User[1] >> versionShift)
}

var tocLine = regexp.MustCompile(
	`^partition([0-9]+)=([A-Za-z0-9_]+),` +
		`(0x)?([0-9a-fA-F]+),(0x)?([0-9a-fA-F]+),(0x)?([A-Fa-f0-9]{2})`)

// ParseTocLine parses a line such as
//
//	partition01=HBB,0x00010000,0x000a0000,0x80,ECC,PRESERVED
//
// into a partition whose sizes are expressed in blocks of blockSize bytes.
func ParseTocLine(
	line string,
	blockSize uint32,
	log *logging.Logger,
) (Partition, error) {
	m := tocLine.FindStringSubmatchIndex(line)
	if m == nil {
		return Partition{}, errkind.New(errkind.Configuration, "parse toc",
			"malformed partition description: %s", line)
	}

	group := func(i int) string {
		return line[m[2*i]:m[2*i+1]]
	}

	name := group(2)
	if len(name) > nameMax {
		name = name[:nameMax]
	}

	id, err := strconv.ParseUint(group(1), 10, 32)
	if err != nil {
		return Partition{}, errkind.Wrap(errkind.Configuration, "parse toc", err)
	}

	start, err := strconv.ParseUint(group(4), 16, 32)
	if err != nil {
		return Partition{}, errkind.Wrap(errkind.Configuration, "parse toc", err)
	}

	end, err := strconv.ParseUint(group(6), 16, 32)
	if err != nil {
		return Partition{}, errkind.Wrap(errkind.Configuration, "parse toc", err)
	}

	version, _ := strconv.ParseUint(group(8), 16, 8)

	if uint32(start)&(blockSize-1) != 0 {
		log.Errorf("Start offset 0x%x for partition '%s' is not aligned "+
			"to block size 0x%x", start, name, blockSize)
	}

	if start >= end {
		return Partition{}, errkind.New(errkind.Configuration, "parse toc",
			"partition %s has an invalid range: start 0x%x is beyond "+
				"open end 0x%x", name, start, end)
	}

	if uint32(end-start)&(blockSize-1) != 0 {
		log.Errorf("Partition '%s' has a size 0x%x that is not aligned "+
			"to block size 0x%x", name, end-start, blockSize)
	}

	p := Partition{
		Name:   name,
		ID:     uint32(id),
		Base:   align.Up(uint32(start), blockSize) / blockSize,
		Size:   align.Up(uint32(end-start), blockSize) / blockSize,
		PID:    parentPartition,
		Type:   typeData,
		Actual: uint32(end - start),
	}

	p.User[0], p.User[1] = userData(&p, line[m[1]:], log)
	p.User[1] |= uint32(version) << versionShift

	return p, nil
}

func userData(p *Partition, flags string, log *logging.Logger) (state, perms uint32) {
	for _, flag := range strings.Split(flags, ",") {
		switch flag {
		case "":
		case "ECC":
			state |= ECCProtected
		case "READONLY":
			perms |= FlagReadOnly
		case "READWRITE":
			perms &^= FlagReadOnly
		case "PRESERVED":
			perms |= FlagPreserved
		case "REPROVISION":
			perms |= FlagReprovision
		case "VOLATILE":
			perms |= FlagVolatile
		case "CLEARECC":
			perms |= FlagClearECC
		default:
			log.Infof("Found unimplemented partition property: %s", flag)
		}
	}

	// The ToC partition itself.
	if p.ID == 0 && p.Base == 0 && p.Size != 0 {
		perms |= FlagReadOnly
	}

	return state, perms
}
