// Package server exposes the daemon directives and the structured host
// protocol as HTTP over a UNIX socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sarchlab/mboxd/control"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
)

// DefaultSocket is where the control socket is created when none is
// configured.
const DefaultSocket = "/run/mboxd.sock"

// An Executor runs work on the goroutine that owns the daemon state and
// returns once the work completed.
type Executor interface {
	Execute(ctx context.Context, work func()) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, work func()) error

// Execute calls f(ctx, work).
func (f ExecutorFunc) Execute(ctx context.Context, work func()) error {
	return f(ctx, work)
}

// Inline runs the work on the calling goroutine. It is only safe when
// nothing else touches the daemon state.
var Inline = ExecutorFunc(func(_ context.Context, work func()) error {
	work()
	return nil
})

// Server is the control plane.
type Server struct {
	ctrl     *control.Controller
	exec     Executor
	log      *logging.Logger
	router   *mux.Router
	srv      *http.Server
	listener net.Listener
}

// New creates a server running the directives of ctrl through exec.
func New(ctrl *control.Controller, exec Executor, log *logging.Logger) *Server {
	s := &Server{
		ctrl: ctrl,
		exec: exec,
		log:  log,
	}

	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", s.ping).Methods(http.MethodPost)
	api.HandleFunc("/daemon_state", s.daemonState).Methods(http.MethodGet)
	api.HandleFunc("/lpc_state", s.lpcState).Methods(http.MethodGet)
	api.HandleFunc("/reset", s.reset).Methods(http.MethodPost)
	api.HandleFunc("/kill", s.kill).Methods(http.MethodPost)
	api.HandleFunc("/modified", s.modified).Methods(http.MethodPost)
	api.HandleFunc("/suspend", s.suspend).Methods(http.MethodPost)
	api.HandleFunc("/resume/{mode:clean|modified}", s.resume).
		Methods(http.MethodPost)
	api.HandleFunc("/backend", s.setBackend).Methods(http.MethodPost)
	api.HandleFunc("/legacy/{cmd:[0-9]+}", s.legacy).Methods(http.MethodPost)

	s.registerHIOMAP(api.PathPrefix("/hiomap").Subrouter())

	api.HandleFunc("/state", s.state).Methods(http.MethodGet)
	api.HandleFunc("/resource", s.listResources).Methods(http.MethodGet)
	api.HandleFunc("/profile", s.collectProfile).Methods(http.MethodGet)

	s.router = r

	return s
}

// Handler returns the HTTP handler of the control plane.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen creates the control socket at path, replacing a stale one.
func (s *Server) Listen(path string) error {
	if path == "" {
		path = DefaultSocket
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errkind.Wrap(errkind.Configuration, "control listen", err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "control listen", err)
	}

	s.listener = l
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Infof("Control socket at %s", path)

	return nil
}

// Serve answers requests until Shutdown is called.
func (s *Server) Serve() error {
	if s.srv == nil {
		return errkind.New(errkind.Internal, "control serve",
			"Listen must be called first")
	}

	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown stops the server and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	return s.srv.Shutdown(ctx)
}

// Error is the body of a failed request.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

var kindStatus = map[errkind.Kind]int{
	errkind.InvalidArgument: http.StatusBadRequest,
	errkind.Sequence:        http.StatusBadRequest,
	errkind.Unsupported:     http.StatusNotImplemented,
	errkind.Busy:            http.StatusConflict,
	errkind.Permission:      http.StatusForbidden,
	errkind.Window:          http.StatusRequestedRangeNotSatisfiable,
	errkind.Unmapped:        http.StatusRequestedRangeNotSatisfiable,
	errkind.Timeout:         http.StatusGatewayTimeout,
}

// run executes work on the daemon goroutine and writes its result.
func (s *Server) run(w http.ResponseWriter, r *http.Request, work func() (any, error)) {
	var (
		rsp any
		err error
	)

	execErr := s.exec.Execute(r.Context(), func() {
		rsp, err = work()
	})
	if execErr != nil {
		err = errkind.Wrap(errkind.Timeout, "control request", execErr)
	}

	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rsp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)

	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	s.writeJSON(w, status, &Error{Kind: kind.String(), Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v == nil {
		v = struct{}{}
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("Failed to write control response: %v", err)
	}
}

func parseUint(vars map[string]string, name string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(vars[name], 0, bits)
	if err != nil {
		return 0, errkind.New(errkind.InvalidArgument, "control request",
			"bad %s %q", name, vars[name])
	}

	return v, nil
}

func noResult(err error) (any, error) {
	return nil, err
}

// StateResponse is a daemon or LPC state.
type StateResponse struct {
	State uint8  `json:"state"`
	Name  string `json:"name"`
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.Ping())
	})
}

func (s *Server) daemonState(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		st := s.ctrl.DaemonState()
		return StateResponse{State: uint8(st), Name: st.String()}, nil
	})
}

func (s *Server) lpcState(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		st := s.ctrl.LPCState()
		return StateResponse{State: uint8(st), Name: st.String()}, nil
	})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.Reset())
	})
}

func (s *Server) kill(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.Kill())
	})
}

func (s *Server) modified(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.MarkFlashModified())
	})
}

func (s *Server) suspend(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.Suspend())
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	modified := mux.Vars(r)["mode"] == "modified"

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.Resume(modified))
	})
}

// BackendRequest names the backend to switch to.
type BackendRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (s *Server) setBackend(w http.ResponseWriter, r *http.Request) {
	var req BackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errkind.Wrap(errkind.InvalidArgument, "set backend", err))
		return
	}

	s.run(w, r, func() (any, error) {
		return noResult(s.ctrl.SetBackend(req.Name, req.Path))
	})
}

// LegacyRequest carries the arguments of a legacy command.
type LegacyRequest struct {
	Args []int `json:"args"`
}

// LegacyResponse is the result of a legacy command.
type LegacyResponse struct {
	ReturnCode control.ReturnCode `json:"rc"`
	Args       []int              `json:"args"`
}

func (s *Server) legacy(w http.ResponseWriter, r *http.Request) {
	cmd, err := parseUint(mux.Vars(r), "cmd", 8)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req LegacyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errkind.Wrap(errkind.InvalidArgument, "legacy", err))
			return
		}
	}

	args := make([]uint8, len(req.Args))
	for i, a := range req.Args {
		args[i] = uint8(a)
	}

	s.run(w, r, func() (any, error) {
		rc, out := s.ctrl.HandleLegacy(control.Command(cmd), args)

		rsp := LegacyResponse{ReturnCode: rc, Args: []int{}}
		for _, a := range out {
			rsp.Args = append(rsp.Args, int(a))
		}

		return rsp, nil
	})
}
