package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/mboxd/errkind"
)

// WindowSnapshot is one window of a Snapshot.
type WindowSnapshot struct {
	Index       int
	MemOffset   uint32
	Size        uint32
	FlashOffset uint32
	Age         uint32
	Initialised bool
	Current     bool
	Write       bool
}

// Snapshot is the daemon state shown by /api/state.
type Snapshot struct {
	Version        string
	State          string
	Transport      string
	Events         uint8
	VisibleEvents  uint8
	Backend        string
	FlashSize      uint32
	EraseSizeShift uint32
	BlockSizeShift uint32
	LPCBase        uint32
	Windows        []WindowSnapshot
}

func (s *Server) snapshot() Snapshot {
	session := s.ctrl.Session()
	pool := session.Pool()
	geometry := session.Backend().Geometry()
	current, write := session.Current()

	snap := Snapshot{
		Version:        session.Version().String(),
		State:          session.State().String(),
		Transport:      session.Transport().String(),
		Events:         uint8(session.Events()),
		VisibleEvents:  uint8(session.VisibleEvents()),
		Backend:        session.Backend().Name(),
		FlashSize:      geometry.FlashSize,
		EraseSizeShift: geometry.EraseSizeShift,
		BlockSizeShift: pool.BlockSizeShift(),
		LPCBase:        session.LPC().Base(),
	}

	for _, w := range pool.Windows() {
		snap.Windows = append(snap.Windows, WindowSnapshot{
			Index:       w.Index(),
			MemOffset:   w.MemOffset(),
			Size:        w.Size(),
			FlashOffset: w.FlashOffset(),
			Age:         w.Age(),
			Initialised: w.IsInitialised(),
			Current:     w == current,
			Write:       w == current && write,
		})
	}

	return snap
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	var snap Snapshot

	err := s.exec.Execute(r.Context(), func() {
		snap = s.snapshot()
	})
	if err != nil {
		s.writeError(w, errkind.Wrap(errkind.Timeout, "control state", err))
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snap)
	serializer.SetMaxDepth(3)

	buf := bytes.NewBuffer(nil)
	if err := serializer.Serialize(buf); err != nil {
		s.writeError(w, errkind.Wrap(errkind.Internal, "control state", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.writeError(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		s.writeError(w, err)
		return
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: mem.RSS,
	})
}

// collectProfile samples the daemon for ?seconds (1 by default) and
// returns the parsed CPU profile.
func (s *Server) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if v := r.URL.Query().Get("seconds"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 || secs > 60 {
			s.writeError(w, errkind.New(errkind.InvalidArgument, "profile",
				"bad duration %q", v))
			return
		}

		duration = time.Duration(secs) * time.Second
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		s.writeError(w, errkind.Wrap(errkind.Busy, "profile", err))
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		s.writeError(w, err)
		return
	}

	data, err := json.Marshal(prof)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
