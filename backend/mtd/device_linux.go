package mtd

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/mboxd/errkind"
)

const (
	memGetInfo = 0x80204d01
	memErase   = 0x40084d02
)

type mtdInfoUser struct {
	Type uint8
	_    [3]uint8

	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OobSize   uint32

	_ uint32
	_ uint32
}

type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

type device struct {
	*os.File
}

// Open opens an MTD character device. An empty path looks up the partition
// labelled "pnor" in /proc/mtd.
func Open(path string) (Device, error) {
	if path == "" {
		found, err := findPNOR("/proc/mtd")
		if err != nil {
			return nil, err
		}

		path = found
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendIO, "mtd open", err)
	}

	d := &device{File: f}
	if _, err := d.Info(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return d, nil
}

func (d *device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, e := unix.Syscall(unix.SYS_IOCTL, d.Fd(), req, uintptr(arg))
	if e != 0 {
		return os.NewSyscallError("ioctl", e)
	}

	return nil
}

func (d *device) Info() (Info, error) {
	var info mtdInfoUser
	if err := d.ioctl(memGetInfo, unsafe.Pointer(&info)); err != nil {
		return Info{}, errkind.Wrap(errkind.BackendIO, "mtd info", err)
	}

	return Info{
		Size:      info.Size,
		EraseSize: info.EraseSize,
		WriteSize: info.WriteSize,
	}, nil
}

func (d *device) Erase(start, length uint32) error {
	ei := eraseInfoUser{Start: start, Length: length}

	return d.ioctl(memErase, unsafe.Pointer(&ei))
}
