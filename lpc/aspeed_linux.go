package lpc

import (
	"os"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

const (
	ioctlGetSize = 0xc010b200
	ioctlMap     = 0x4010b201
)

// Aspeed drives the Aspeed LPC control device.
type Aspeed struct {
	f   *os.File
	mem []byte
	log *logging.Logger
}

// Open opens the LPC control device, sizes the reserved memory and maps it
// into the daemon.
func Open(path string, log *logging.Logger) (*Aspeed, error) {
	if path == "" {
		path = DefaultDevice
	}

	log.Debugf("Opening %s", path)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "lpc init", err)
	}

	a := &Aspeed{f: f, log: log}

	m := Mapping{Type: WindowMemory}
	if err := a.ioctl(ioctlGetSize, &m); err != nil {
		_ = f.Close()
		return nil, errkind.Wrap(errkind.BackendIO, "lpc init", err)
	}

	log.Infof("Reserved memory size: %s", humanize.IBytes(uint64(m.Size)))

	mem, err := unix.Mmap(int(f.Fd()), 0, int(m.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, errkind.Wrap(errkind.BackendIO, "lpc init", err)
	}

	a.mem = mem

	return a, nil
}

func (a *Aspeed) ioctl(req uintptr, m *Mapping) error {
	_, _, e := unix.Syscall(unix.SYS_IOCTL, a.f.Fd(), req, uintptr(unsafe.Pointer(m)))
	if e != 0 {
		return os.NewSyscallError("ioctl", e)
	}

	return nil
}

// Memory returns the mapped reserved memory.
func (a *Aspeed) Memory() []byte {
	return a.mem
}

// Base returns the LPC address of the reserved memory.
func (a *Aspeed) Base() uint32 {
	return BaseFor(uint32(len(a.mem)))
}

// MapFlash points the host at the flash.
func (a *Aspeed) MapFlash(flashSize uint32) error {
	m := FlashMapping(flashSize)
	a.log.Debugf("Pointing HOST LPC bus at the flash")

	if err := a.ioctl(ioctlMap, &m); err != nil {
		a.log.Errorf("Failed to point the LPC BUS at the actual flash: %v", err)
		return errkind.Wrap(errkind.BackendIO, "lpc map flash", err)
	}

	return nil
}

// MapMemory points the host at the reserved memory.
func (a *Aspeed) MapMemory() error {
	m := MemoryMapping(uint32(len(a.mem)))
	a.log.Debugf("Pointing HOST LPC bus at memory region %p of size 0x%.8x",
		a.mem, len(a.mem))

	if err := a.ioctl(ioctlMap, &m); err != nil {
		a.log.Errorf("Failed to point the LPC BUS to memory: %v", err)
		return errkind.Wrap(errkind.BackendIO, "lpc map memory", err)
	}

	return nil
}

// Close unmaps the memory and closes the device.
func (a *Aspeed) Close() error {
	var err error
	if a.mem != nil {
		err = unix.Munmap(a.mem)
		a.mem = nil
	}

	if cerr := a.f.Close(); err == nil {
		err = cerr
	}

	return err
}
