package vpnor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
	"github.com/sarchlab/mboxd/logging"
)

// TocFile is the name of the table of contents in the read-only directory.
const TocFile = "pnor.toc"

// Layout of the FFS partition table the host reads at flash offset 0.
const (
	HeaderMagic  uint32 = 0x50415254
	Version1     uint32 = 1
	HeaderSize          = 48
	EntrySize           = 128
	headerWords         = 11
	entryDataLen        = EntrySize - 4
)

// Paths are the directories partition files are looked up in.
type Paths struct {
	RO        string `yaml:"ro"`
	RW        string `yaml:"rw"`
	Preserved string `yaml:"prsv"`
	Patch     string `yaml:"patch"`
}

// DefaultPaths returns the locations the software manager unpacks the host
// firmware to.
func DefaultPaths() Paths {
	return Paths{
		RO:        "/var/lib/phosphor-software-manager/pnor/ro",
		RW:        "/var/lib/phosphor-software-manager/pnor/rw",
		Preserved: "/var/lib/phosphor-software-manager/pnor/prsv",
		Patch:     "/usr/local/share/pnor",
	}
}

// UnmappedError is returned for offsets no partition covers. Next is the
// start of the following partition, or the flash size.
type UnmappedError struct {
	Offset uint32
	Next   uint32
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("offset 0x%x is not mapped by any partition "+
		"(next mapped offset 0x%x)", e.Offset, e.Next)
}

// Table is the partition table built from the ToC file.
type Table struct {
	parts     []Partition
	blockSize uint32
	flashSize uint32
	host      []byte
}

// LoadTable parses the ToC file in paths.RO. Every problem found in the file
// is reported, not only the first.
func LoadTable(
	paths Paths,
	blockSize, flashSize uint32,
	log *logging.Logger,
) (*Table, error) {
	f, err := os.Open(filepath.Join(paths.RO, TocFile))
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "load toc", err)
	}
	defer f.Close()

	var (
		parts []Partition
		errs  error
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "partition") {
			continue
		}

		p, err := ParseTocLine(line, blockSize, log)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if n := len(parts); n > 0 {
			prev := &parts[n-1]
			if p.ID == prev.ID {
				log.Errorf("ID for previous partition '%s' at block 0x%x "+
					"matches current partition '%s' at block 0x%x: %d",
					prev.Name, prev.Base, p.Name, p.Base, p.ID)
			}

			if p.Base < prev.Base+prev.Size {
				errs = multierr.Append(errs, errkind.New(errkind.Configuration,
					"load toc", "partition '%s' start block 0x%x is less "+
						"than the end block 0x%x of '%s'",
					p.Name, p.Base, prev.Base+prev.Size, prev.Name))

				continue
			}
		}

		if _, err := os.Stat(filepath.Join(paths.RO, p.Name)); err != nil {
			errs = multierr.Append(errs, errkind.New(errkind.Configuration,
				"load toc", "partition file %s does not exist",
				filepath.Join(paths.RO, p.Name)))

			continue
		}

		if info, err := os.Stat(filepath.Join(paths.Patch, p.Name)); err == nil &&
			info.Mode().IsRegular() {
			size := uint64(p.Size) * uint64(blockSize)
			if uint64(info.Size()) < size {
				size = uint64(info.Size())
			}

			p.Actual = uint32(size)
		}

		parts = append(parts, p)
	}

	errs = multierr.Append(errs, scanner.Err())
	if errs != nil {
		return nil, errkind.Wrap(errkind.Configuration, "load toc", errs)
	}

	return NewTable(parts, blockSize, flashSize), nil
}

// NewTable builds a table from already parsed partitions.
func NewTable(parts []Partition, blockSize, flashSize uint32) *Table {
	t := &Table{
		parts:     parts,
		blockSize: blockSize,
		flashSize: flashSize,
	}
	t.host = t.encode()

	return t
}

// Partitions returns the partitions in ToC order.
func (t *Table) Partitions() []Partition {
	return t.parts
}

// Size returns the number of bytes of the encoded table.
func (t *Table) Size() uint32 {
	return HeaderSize + EntrySize*uint32(len(t.parts))
}

// Capacity returns the encoded table size rounded up to whole blocks.
func (t *Table) Capacity() uint32 {
	return align.Up(t.Size(), t.blockSize)
}

// Blocks returns the capacity in blocks.
func (t *Table) Blocks() uint32 {
	return t.Capacity() / t.blockSize
}

// HostTable returns the big-endian table the host reads.
func (t *Table) HostTable() []byte {
	return t.host
}

// Partition returns the partition containing the flash offset.
func (t *Table) Partition(offset uint32) (*Partition, error) {
	block := offset / t.blockSize

	for i := range t.parts {
		p := &t.parts[i]
		if block >= p.Base && block < p.Base+p.Size {
			return p, nil
		}

		if block < p.Base {
			return nil, &UnmappedError{Offset: offset, Next: p.Base * t.blockSize}
		}
	}

	return nil, &UnmappedError{Offset: offset, Next: t.flashSize}
}

// PartitionByName looks a partition up by name.
func (t *Table) PartitionByName(name string) (*Partition, error) {
	for i := range t.parts {
		if t.parts[i].Name == name {
			return &t.parts[i], nil
		}
	}

	return nil, errkind.New(errkind.Configuration, "find partition",
		"partition %s is not listed in the table of contents", name)
}

func (t *Table) encode() []byte {
	buf := make([]byte, t.Capacity())
	be := binary.BigEndian

	header := [headerWords]uint32{
		HeaderMagic,
		Version1,
		t.Blocks(),
		EntrySize,
		uint32(len(t.parts)),
		t.blockSize,
		t.flashSize / t.blockSize,
	}
	for i, w := range header {
		be.PutUint32(buf[4*i:], w)
	}
	be.PutUint32(buf[HeaderSize-4:], checksum(buf[:HeaderSize-4]))

	for i := range t.parts {
		entry := buf[HeaderSize+EntrySize*i : HeaderSize+EntrySize*(i+1)]
		encodeEntry(entry, &t.parts[i])
	}

	return buf
}

func encodeEntry(entry []byte, p *Partition) {
	be := binary.BigEndian

	copy(entry[:nameMax], p.Name)

	words := []uint32{p.Base, p.Size, p.PID, p.ID, p.Type, p.Flags, p.Actual}
	for i, w := range words {
		be.PutUint32(entry[16+4*i:], w)
	}

	user := entry[16+4*len(words)+16:]
	for i, w := range p.User {
		be.PutUint32(user[4*i:], w)
	}

	be.PutUint32(entry[entryDataLen:], checksum(entry[:entryDataLen]))
}

// checksum XORs the 32-bit words of data.
func checksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum ^= binary.BigEndian.Uint32(data[i:])
	}

	return sum
}
