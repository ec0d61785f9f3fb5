package tracing

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

// The blktrace record format, as read by blkparse.
const (
	BlkTraceMagic      = 0x65617400
	BlkTraceVersion    = 0x07
	BlkTraceRecordSize = 48
	sectorShift        = 9

	tcShift    = 16
	tcRead     = 1 << 0
	tcWrite    = 1 << 1
	tcQueue    = 1 << 6
	tcIssue    = 1 << 7
	tcComplete = 1 << 8

	taQueue    = 1
	taIssue    = 7
	taComplete = 8

	errIO = 5
)

// The blktrace actions written for each task.
const (
	ActionQueue    uint32 = taQueue | tcQueue<<tcShift
	ActionIssue    uint32 = taIssue | tcIssue<<tcShift
	ActionComplete uint32 = taComplete | tcComplete<<tcShift
	ActionRead     uint32 = tcRead << tcShift
	ActionWrite    uint32 = tcWrite << tcShift
)

// BlkRecord is one blk_io_trace record.
type BlkRecord struct {
	Magic    uint32
	Sequence uint32
	Time     uint64
	Sector   uint64
	Bytes    uint32
	Action   uint32
	PID      uint32
	Device   uint32
	CPU      uint32
	Error    uint16
	PDULen   uint16
}

// BlkTracer writes window loads as reads and write-backs as writes in the
// blktrace format, so that blkparse and friends can show how the host uses
// the flash. Each task becomes a queue, an issue and a completion record.
// Sectors are 512 bytes and times are relative to the first task.
type BlkTracer struct {
	timeTeller TimeTeller
	log        *logging.Logger

	lock     sync.Mutex
	w        io.Writer
	closer   io.Closer
	origin   time.Time
	sequence uint32
	inflight map[string]Task
}

// NewBlkTracer creates a tracer writing to w.
func NewBlkTracer(w io.Writer, timeTeller TimeTeller, log *logging.Logger) *BlkTracer {
	if timeTeller == nil {
		timeTeller = WallClock{}
	}

	return &BlkTracer{
		timeTeller: timeTeller,
		log:        log,
		w:          w,
		inflight:   make(map[string]Task),
	}
}

// CreateBlkTracer creates a tracer writing to a new file at path.
func CreateBlkTracer(path string, log *logging.Logger) (*BlkTracer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "blktrace", err)
	}

	t := NewBlkTracer(f, WallClock{}, log)
	t.closer = f

	log.Infof("Recording flash accesses to %s", path)

	return t, nil
}

// StartTask records when the task started.
func (t *BlkTracer) StartTask(task Task) {
	now := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.origin.IsZero() {
		t.origin = now
	}

	task.StartTime = now
	t.inflight[task.ID] = task
}

// EndTask writes the records of the task.
func (t *BlkTracer) EndTask(task Task) {
	now := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	started, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	delete(t.inflight, task.ID)

	rec := BlkRecord{
		Magic:  BlkTraceMagic | BlkTraceVersion,
		Sector: uint64(task.FlashOffset) >> sectorShift,
		Bytes:  task.Size,
	}

	category := ActionRead
	if task.Kind == TaskWrite {
		category = ActionWrite
	}

	start := uint64(started.StartTime.Sub(t.origin))

	t.write(rec, start, ActionQueue|category)
	t.write(rec, start, ActionIssue|category)

	if task.Err != nil {
		rec.Error = errIO
	}

	t.write(rec, uint64(now.Sub(t.origin)), ActionComplete|category)
}

func (t *BlkTracer) write(rec BlkRecord, at uint64, action uint32) {
	t.sequence++

	rec.Sequence = t.sequence
	rec.Time = at
	rec.Action = action

	if err := binary.Write(t.w, binary.NativeEndian, &rec); err != nil {
		t.log.Warnf("Failed to write blktrace record: %v", err)
	}
}

// Close closes the file the tracer writes to, if it opened one.
func (t *BlkTracer) Close() error {
	if t.closer == nil {
		return nil
	}

	return t.closer.Close()
}

// ReadBlkRecords decodes every record in r.
func ReadBlkRecords(r io.Reader) ([]BlkRecord, error) {
	var records []BlkRecord

	for {
		var rec BlkRecord

		err := binary.Read(r, binary.NativeEndian, &rec)
		if err == io.EOF {
			return records, nil
		}

		if err != nil {
			return records, errkind.Wrap(errkind.InvalidArgument, "blktrace", err)
		}

		records = append(records, rec)
	}
}
