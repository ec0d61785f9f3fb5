// Package vpnor provides a virtual PNOR backend. The host sees a flash
// image assembled from per-partition files described by a table of
// contents, with an FFS partition table at offset 0.
package vpnor

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

const (
	eraseSizeShift = 12
	eraseSize      = 1 << eraseSizeShift

	// Hostboot looks for a 64MiB PNOR with the ToC one page below the end
	// of the last 32KiB.
	pnorSize      = 0x4000000
	tocMaxSize    = 0x8000
	pageSize      = 0x1000
	tocStart      = pnorSize - tocMaxSize - pageSize
	bootPartition = "HBB"
)

// Flash is the virtual PNOR backend.
type Flash struct {
	paths     Paths
	flashSize uint32
	table     *Table
	log       *logging.Logger
}

// Open checks the partition directories and loads the table of contents.
func Open(paths Paths, flashSize uint32, log *logging.Logger) (*Flash, error) {
	for _, dir := range []string{paths.RO, paths.RW, paths.Preserved} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, errkind.New(errkind.InvalidArgument, "vpnor init",
				"%s is not a directory", dir)
		}
	}

	if flashSize == 0 {
		return nil, errkind.New(errkind.Configuration, "vpnor init",
			"the virtual pnor needs a flash size")
	}

	f := &Flash{paths: paths, flashSize: flashSize, log: log}
	if err := f.load(); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Flash) load() error {
	table, err := LoadTable(f.paths, eraseSize, f.flashSize, f.log)
	if err != nil {
		f.log.Errorf("%v", err)
		return err
	}

	f.table = table

	return nil
}

// Name returns "vpnor".
func (f *Flash) Name() string {
	return "vpnor"
}

// Table returns the current partition table.
func (f *Flash) Table() *Table {
	return f.table
}

// Geometry returns the flash geometry. Hostboot requires 4KiB blocks.
func (f *Flash) Geometry() backend.Geometry {
	return backend.Geometry{
		FlashSize:      f.flashSize,
		EraseSizeShift: eraseSizeShift,
	}
}

// Copy reads the virtual flash. Offsets inside the partition table return
// the table, unmapped offsets read as erased flash up to the next
// partition, and mapped offsets read the partition file up to the end of
// the partition.
func (f *Flash) Copy(offset uint32, buf []byte) (int, error) {
	f.log.Debugf("Copy virtual pnor for size 0x%.8x from offset 0x%.8x",
		len(buf), offset)

	if size := f.table.Size(); offset < size {
		return copy(buf, f.table.HostTable()[offset:size]), nil
	}

	p, err := f.table.Partition(offset)

	var unmapped *UnmappedError
	if errors.As(err, &unmapped) {
		f.log.Infof("Host requested unmapped region of %d bytes at "+
			"offset 0x%x", len(buf), offset)

		n := len(buf)
		if span := unmapped.Next - offset; uint64(n) > uint64(span) {
			n = int(span)
		}

		for i := range buf[:n] {
			buf[i] = 0xff
		}

		return n, nil
	}

	if err != nil {
		return 0, errkind.Wrap(errkind.BackendIO, "vpnor copy", err)
	}

	return f.readPartition(p, offset, buf)
}

func (f *Flash) partitionRange(p *Partition, offset uint32) (start, end uint32) {
	base := p.Base * eraseSize
	return offset - base, p.Size * eraseSize
}

func (f *Flash) readPartition(p *Partition, offset uint32, buf []byte) (int, error) {
	start, end := f.partitionRange(p, offset)
	if uint64(len(buf)) > uint64(end-start) {
		buf = buf[:end-start]
	}

	path := f.filePath(p, false)

	file, err := os.Open(path)
	if err != nil {
		return 0, errkind.Wrap(errkind.BackendIO, "vpnor copy", err)
	}
	defer file.Close()

	n, err := file.ReadAt(buf, int64(start))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, errkind.Wrap(errkind.BackendIO, "vpnor copy", err)
	}

	for i := n; i < len(buf); i++ {
		buf[i] = 0xff
	}

	return len(buf), nil
}

// filePath picks the file backing the partition: a patch file always wins,
// then the writable copy for writable partitions, then the read-only image.
func (f *Flash) filePath(p *Partition, forWrite bool) string {
	patch := filepath.Join(f.paths.Patch, p.Name)
	if info, err := os.Stat(patch); err == nil && info.Mode().IsRegular() {
		return patch
	}

	dir := f.paths.RW

	switch {
	case p.ReadOnly():
		dir = f.paths.RO
	case p.Preserved():
		dir = f.paths.Preserved
	}

	path := filepath.Join(dir, p.Name)
	if _, err := os.Stat(path); err == nil || forWrite {
		return path
	}

	return filepath.Join(f.paths.RO, p.Name)
}

// Write stores buf into the partition's writable copy, creating the copy
// from the read-only image first if needed.
func (f *Flash) Write(offset uint32, buf []byte) error {
	p, err := f.table.Partition(offset)
	if err != nil {
		f.log.Errorf("Host attempted to write %d bytes to unmapped "+
			"offset 0x%x", len(buf), offset)

		return errkind.Wrap(errkind.Unmapped, "vpnor write", err)
	}

	if p.ReadOnly() {
		f.log.Errorf("Host attempted to write to read-only partition %s",
			p.Name)

		return errkind.New(errkind.Permission, "vpnor write",
			"partition %s is read-only", p.Name)
	}

	start, end := f.partitionRange(p, offset)
	if uint64(start)+uint64(len(buf)) > uint64(end) {
		return errkind.New(errkind.InvalidArgument, "vpnor write",
			"write of 0x%x bytes at 0x%x runs past the end of partition %s",
			len(buf), offset, p.Name)
	}

	f.log.Debugf("Write flash @ 0x%.8x for 0x%.8x", offset, len(buf))

	path := f.filePath(p, true)
	if err := f.ensureCopy(p, path); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "vpnor write", err)
	}
	defer file.Close()

	if _, err := file.WriteAt(buf, int64(start)); err != nil {
		return errkind.Wrap(errkind.BackendIO, "vpnor write", err)
	}

	return nil
}

func (f *Flash) ensureCopy(p *Partition, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	content, err := os.ReadFile(filepath.Join(f.paths.RO, p.Name))
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "vpnor write", err)
	}

	f.log.Infof("Creating writable copy of %s at %s", p.Name, path)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errkind.Wrap(errkind.BackendIO, "vpnor write", err)
	}

	return nil
}

// Erase does nothing. Partition files are rewritten in place.
func (f *Flash) Erase(_, _ uint32) error {
	return nil
}

// Validate allows every read, and writes only to writable partitions.
func (f *Flash) Validate(offset, _ uint32, readOnly bool) error {
	if readOnly {
		return nil
	}

	p, err := f.table.Partition(offset)
	if err != nil {
		return errkind.Wrap(errkind.Unmapped, "vpnor validate", err)
	}

	if p.ReadOnly() {
		f.log.Debugf("Try to write read only partition (part=%s, "+
			"offset=0x%x)", p.Name, offset)

		return errkind.New(errkind.Permission, "vpnor validate",
			"partition %s is read-only", p.Name)
	}

	return nil
}

// AlignOffset aligns the offset to the window size relative to the base of
// its partition, so windows do not straddle partition starts.
func (f *Flash) AlignOffset(offset, windowSize uint32) (uint32, error) {
	p, err := f.table.Partition(offset)
	if err != nil {
		return 0, errkind.Wrap(errkind.Unmapped, "vpnor align", err)
	}

	base := p.Base * eraseSize
	baseOffset := base & (windowSize - 1)
	aligned := ((offset - baseOffset) &^ (windowSize - 1)) + baseOffset

	f.log.Debugf("Aligned 0x%.8x to 0x%.8x (base=0x%.8x base_offset=0x%.8x)",
		offset, aligned, base, baseOffset)

	return aligned, nil
}

// Reset reloads the table of contents and stages the partition table and
// the hostboot bootloader into mem where hostboot looks for them before the
// protocol is up.
func (f *Flash) Reset(mem []byte) (backend.ResetMode, error) {
	if err := f.load(); err != nil {
		return 0, err
	}

	hbb, err := f.table.PartitionByName(bootPartition)
	if err != nil {
		return 0, errkind.Wrap(errkind.BackendIO, "vpnor reset", err)
	}

	hbbOffset := uint64(hbb.Base) * eraseSize
	hbbSize := uint64(hbb.Actual)
	capacity := uint64(f.table.Capacity())

	if uint64(len(mem)) < tocStart+capacity ||
		uint64(len(mem)) < hbbOffset+hbbSize {
		f.log.Errorf("Reserved memory too small for dumb bootstrap")

		return 0, errkind.New(errkind.InvalidArgument, "vpnor reset",
			"reserved memory of 0x%x bytes is too small for the bootloader",
			len(mem))
	}

	if _, err := f.Copy(0, mem[tocStart:tocStart+capacity]); err != nil {
		return 0, err
	}

	if _, err := f.Copy(uint32(hbbOffset), mem[hbbOffset:hbbOffset+hbbSize]); err != nil {
		return 0, err
	}

	return backend.PreferMemory, nil
}

// Close does nothing; files are opened per access.
func (f *Flash) Close() error {
	return nil
}
