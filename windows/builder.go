package windows

import (
	"github.com/dustin/go-humanize"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/internal/align"
	"github.com/sarchlab/mboxd/logging"
)

// DefaultWindowSize is the window size used when none is configured.
const DefaultWindowSize = 1 << 20

// A Builder can build window pools.
type Builder struct {
	mem          []byte
	numWindows   int
	windowSize   uint32
	backend      backend.Backend
	victimFinder VictimFinder
	log          *logging.Logger
}

// MakeBuilder returns a Builder with the default window size and an LRU
// victim finder.
func MakeBuilder() Builder {
	return Builder{
		windowSize:   DefaultWindowSize,
		victimFinder: NewLRUVictimFinder(),
	}
}

// WithMemory sets the reserved memory region the windows are carved from.
func (b Builder) WithMemory(mem []byte) Builder {
	b.mem = mem
	return b
}

// WithNumWindows sets the number of windows. Zero fills the memory.
func (b Builder) WithNumWindows(n int) Builder {
	b.numWindows = n
	return b
}

// WithWindowSize sets the default window size. Zero selects 1MiB.
func (b Builder) WithWindowSize(size uint32) Builder {
	b.windowSize = size
	return b
}

// WithBackend sets the backend the windows mirror.
func (b Builder) WithBackend(be backend.Backend) Builder {
	b.backend = be
	return b
}

// WithVictimFinder sets the eviction policy.
func (b Builder) WithVictimFinder(f VictimFinder) Builder {
	b.victimFinder = f
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// Build creates the pool. The windows are placed one after the other from
// the start of the memory; a pool that does not fit is a configuration
// error.
func (b Builder) Build() (*Pool, error) {
	size := b.windowSize
	if size == 0 {
		size = DefaultWindowSize
	}

	if !align.IsPowerOf2(size) {
		return nil, errkind.New(errkind.Configuration, "windows init",
			"window size 0x%x is not a power of two", size)
	}

	num := b.numWindows
	if num == 0 {
		num = len(b.mem) / int(size)
	}

	if num <= 0 {
		return nil, errkind.New(errkind.Configuration, "windows init",
			"reserved memory of %s cannot hold a window of %s",
			humanize.IBytes(uint64(len(b.mem))), humanize.IBytes(uint64(size)))
	}

	b.log.Infof("Window size: %s, number of windows: %d",
		humanize.IBytes(uint64(size)), num)

	p := &Pool{
		mem:          b.mem,
		defaultSize:  size,
		backend:      b.backend,
		victimFinder: b.victimFinder,
		log:          b.log,
	}

	var memOffset uint64
	for i := 0; i < num; i++ {
		if memOffset+uint64(size) > uint64(len(b.mem)) {
			return nil, errkind.New(errkind.Configuration, "windows init",
				"%d windows of %s exceed the reserved memory of %s",
				num, humanize.IBytes(uint64(size)),
				humanize.IBytes(uint64(len(b.mem))))
		}

		p.windows = append(p.windows, &Window{
			index:       i,
			memOffset:   uint32(memOffset),
			capacity:    size,
			size:        size,
			flashOffset: Uninitialised,
		})

		b.log.Debugf("Window %d @ 0x%.8x for size 0x%.8x", i, memOffset, size)
		memOffset += uint64(size)
	}

	return p, nil
}
