// Command mboxctl drives a running mboxd through its control socket.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mboxd/config"
	"github.com/sarchlab/mboxd/control"
	"github.com/sarchlab/mboxd/control/server"
	"github.com/sarchlab/mboxd/errkind"
)

var version = "dev"

// A daemonClient sends directives to the daemon.
type daemonClient interface {
	Legacy(cmd control.Command, args ...uint8) (control.ReturnCode, []uint8, error)
	SetBackend(name, path string) error
}

type action struct {
	flag  string
	short string
	usage string
	run   func(c *mboxctl) control.ReturnCode
}

var actions = []action{
	{"ping", "p", "ping the daemon", (*mboxctl).ping},
	{"daemon-state", "d", "check state of the daemon", (*mboxctl).daemonState},
	{"lpc-state", "l", "check the state of the lpc mapping", (*mboxctl).lpcState},
	{"kill", "k", "stop the daemon [no flush]", (*mboxctl).kill},
	{"reset", "r", "hard reset the daemon state", (*mboxctl).reset},
	{"point-to-flash", "f", "point the lpc mapping back to flash", (*mboxctl).reset},
	{"suspend", "u", "suspend the daemon to inhibit flash accesses", (*mboxctl).suspend},
	{"clear-cache", "c", "tell the daemon to discard any caches", (*mboxctl).clearCache},
}

type mboxctl struct {
	dial   func(socket string) daemonClient
	out    io.Writer
	errOut io.Writer
	client daemonClient

	silent  bool
	socket  string
	resume  string
	backend string
	chosen  map[string]*bool

	rc control.ReturnCode
}

func newMboxctl(dial func(socket string) daemonClient, out, errOut io.Writer) *mboxctl {
	return &mboxctl{
		dial:   dial,
		out:    out,
		errOut: errOut,
		chosen: make(map[string]*bool),
	}
}

func (c *mboxctl) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mboxctl [--silent] <command> [args]",
		Short:         "Mailbox Control",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}

	flags := cmd.Flags()
	flags.BoolVarP(&c.silent, "silent", "s", false, "no output on the command line")
	flags.StringVar(&c.socket, "socket", server.DefaultSocket, "daemon control socket")

	for _, a := range actions {
		c.chosen[a.flag] = flags.BoolP(a.flag, a.short, false, a.usage)
	}

	flags.StringVarP(&c.resume, "resume", "e", "",
		`resume the daemon, < "clean" | "modified" >`)
	flags.StringVarP(&c.backend, "backend", "b", "",
		"switch backend, <vpnor|mtd[:PATH]|file:PATH>")
	flags.BoolP("version", "v", false, "print the version")

	cmd.SetOut(c.out)
	cmd.SetErr(c.errOut)

	return cmd
}

func (c *mboxctl) printf(format string, args ...any) {
	if !c.silent {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *mboxctl) errorf(format string, args ...any) {
	if !c.silent {
		fmt.Fprintf(c.errOut, format, args...)
	}
}

// run executes the chosen commands in table order and stops at the first
// that fails.
func (c *mboxctl) run(cmd *cobra.Command, _ []string) error {
	var steps []func(*mboxctl) control.ReturnCode

	for _, a := range actions {
		if *c.chosen[a.flag] {
			steps = append(steps, a.run)
		}
	}

	if cmd.Flags().Changed("resume") {
		steps = append(steps, (*mboxctl).resumeDaemon)
	}

	if cmd.Flags().Changed("backend") {
		steps = append(steps, (*mboxctl).setBackend)
	}

	if len(steps) == 0 {
		if !c.silent {
			return cmd.Help()
		}

		return nil
	}

	c.client = c.dial(c.socket)

	for _, step := range steps {
		c.rc = step(c)
		if c.rc != control.Success {
			break
		}
	}

	return nil
}

// legacy runs cmd and reports transport failures as internal errors.
func (c *mboxctl) legacy(cmd control.Command, args ...uint8) (control.ReturnCode, []uint8) {
	rc, out, err := c.client.Legacy(cmd, args...)
	if err != nil {
		c.errorf("Failed to post message: %v\n", err)
		return control.ErrInternal, nil
	}

	return rc, out
}

func result(rc control.ReturnCode) string {
	if rc == control.Success {
		return "Success"
	}

	return rc.String()
}

func (c *mboxctl) directive(name string, cmd control.Command, args ...uint8) control.ReturnCode {
	rc, _ := c.legacy(cmd, args...)
	c.printf("%s: %s\n", name, result(rc))

	return rc
}

func (c *mboxctl) ping() control.ReturnCode {
	return c.directive("Ping", control.CmdPing)
}

func (c *mboxctl) kill() control.ReturnCode {
	return c.directive("Kill", control.CmdKill)
}

func (c *mboxctl) reset() control.ReturnCode {
	return c.directive("Reset", control.CmdReset)
}

func (c *mboxctl) suspend() control.ReturnCode {
	return c.directive("Suspend", control.CmdSuspend)
}

func (c *mboxctl) clearCache() control.ReturnCode {
	return c.directive("Clear Cache", control.CmdModified)
}

func (c *mboxctl) getter(cmd control.Command) (uint8, control.ReturnCode) {
	rc, out := c.legacy(cmd)
	if rc != control.Success {
		c.errorf("Failed to get %s: %s\n", cmd, rc)
		return 0, rc
	}

	if len(out) != 1 {
		c.errorf("Bad %s response: %v\n", cmd, out)
		return 0, control.ErrInternal
	}

	return out[0], rc
}

func (c *mboxctl) daemonState() control.ReturnCode {
	state, rc := c.getter(control.CmdDaemonState)
	if rc != control.Success {
		return rc
	}

	name := "Active"
	if control.DaemonState(state) != control.DaemonActive {
		name = "Suspended"
	}

	c.printf("Daemon State: %s\n", name)

	return rc
}

func (c *mboxctl) lpcState() control.ReturnCode {
	state, rc := c.getter(control.CmdLPCState)
	if rc != control.Success {
		return rc
	}

	var name string

	switch control.LPCState(state) {
	case control.LPCMemory:
		name = "BMC Memory"
	case control.LPCFlash:
		name = "Flash Device"
	default:
		name = "Invalid System State"
	}

	c.printf("LPC Bus Maps: %s\n", name)

	return rc
}

func (c *mboxctl) resumeDaemon() control.ReturnCode {
	var arg uint8

	switch c.resume {
	case "clean":
	case "modified":
		arg = control.ResumeModified
	default:
		c.errorf("Resume command takes argument < \"clean\" | \"modified\" >\n")
		return control.ErrInvalid
	}

	return c.directive("Resume", control.CmdResume, arg)
}

// backendCode maps a set backend failure to a legacy return code.
func backendCode(err error) control.ReturnCode {
	switch errkind.KindOf(err) {
	case errkind.InvalidArgument, errkind.Configuration, errkind.Unsupported:
		return control.ErrInvalid
	case errkind.Busy:
		return control.ErrRejected
	case errkind.BackendIO:
		return control.ErrHardware
	default:
		return control.ErrInternal
	}
}

func (c *mboxctl) setBackend() control.ReturnCode {
	name, path, err := config.ParseBackend(c.backend)
	if err != nil {
		c.errorf("%v\n", err)
		return control.ErrInvalid
	}

	if path != "" {
		path, err = resolve(path)
		if err != nil {
			c.errorf("Failed to resolve path: %v\n", err)
			return control.ErrInvalid
		}
	}

	if err := c.client.SetBackend(name, path); err != nil {
		c.errorf("Failed to post message: %v\n", err)
		return backendCode(err)
	}

	c.printf("SetBackend: Success\n")

	return control.Success
}

// resolve turns path into the absolute path the daemon can open.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.EvalSymlinks(abs)
}

func dialSocket(socket string) daemonClient {
	return server.NewClient(socket)
}

func main() {
	c := newMboxctl(dialSocket, os.Stdout, os.Stderr)

	if err := c.command().Execute(); err != nil {
		c.errorf("%v\n", err)
		os.Exit(int(control.ErrInvalid))
	}

	os.Exit(int(c.rc))
}
