package config

import (
	"strconv"

	"github.com/spf13/pflag"
)

type stringValue struct{ p *string }

func (v stringValue) String() string     { return *v.p }
func (v stringValue) Set(s string) error { *v.p = s; return nil }
func (v stringValue) Type() string       { return "string" }

type intValue struct{ p *int }

func (v intValue) String() string { return strconv.Itoa(*v.p) }
func (v intValue) Type() string   { return "int" }

func (v intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}

	*v.p = n

	return nil
}

type boolValue struct{ p *bool }

func (v boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v boolValue) Type() string   { return "bool" }

func (v boolValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}

	*v.p = b

	return nil
}

type option struct {
	name  string
	short string
	usage string
	value func(c *Config) pflag.Value
}

var options = []option{
	{"flash", "f", "size of flash in [K|M] bytes",
		func(c *Config) pflag.Value { return &c.FlashSize }},
	{"backend", "b", "backend: vpnor, mtd[:PATH], file:PATH or memory",
		func(c *Config) pflag.Value { return stringValue{&c.Backend} }},
	{"window-size", "w", "the window size (power of 2) in MB",
		func(c *Config) pflag.Value { return &c.WindowSize }},
	{"window-num", "n", "the number of windows (default: fill the reserved memory)",
		func(c *Config) pflag.Value { return intValue{&c.WindowNum} }},
	{"verbosity", "", "0 for errors only, 1 for verbose, 2 for debug",
		func(c *Config) pflag.Value { return intValue{&c.Verbosity} }},
	{"syslog", "s", "log output to syslog",
		func(c *Config) pflag.Value { return boolValue{&c.Syslog} }},
	{"trace", "t", "file to write trace data to (in blktrace format)",
		func(c *Config) pflag.Value { return stringValue{&c.TracePath} }},
	{"journal", "j", "SQLite database to record the handled commands in",
		func(c *Config) pflag.Value { return stringValue{&c.JournalPath} }},
	{"control-socket", "", "path of the control socket",
		func(c *Config) pflag.Value { return stringValue{&c.ControlSocket} }},
	{"mbox-device", "", "mailbox device",
		func(c *Config) pflag.Value { return stringValue{&c.MboxDevice} }},
	{"lpc-device", "", "LPC control device",
		func(c *Config) pflag.Value { return stringValue{&c.LPCDevice} }},
	{"simulate", "", "run without hardware, with the host on a local pipe",
		func(c *Config) pflag.Value { return boolValue{&c.Simulate} }},
	{"reserved-memory", "", "reserved memory size when simulating",
		func(c *Config) pflag.Value { return &c.ReservedMemory }},
	{"vpnor-ro", "", "read-only partition directory",
		func(c *Config) pflag.Value { return stringValue{&c.VPNOR.RO} }},
	{"vpnor-rw", "", "read-write partition directory",
		func(c *Config) pflag.Value { return stringValue{&c.VPNOR.RW} }},
	{"vpnor-prsv", "", "preserved partition directory",
		func(c *Config) pflag.Value { return stringValue{&c.VPNOR.Preserved} }},
	{"vpnor-patch", "", "partition patch directory",
		func(c *Config) pflag.Value { return stringValue{&c.VPNOR.Patch} }},
}

// AddFlags registers a flag per option, storing into c.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	for _, o := range options {
		f := fs.VarPF(o.value(c), o.name, o.short, o.usage)
		if o.value(c).Type() == "bool" {
			f.NoOptDefVal = "true"
		}
	}
}

// Merge copies the options of src whose flag changed reports as set.
func (c *Config) Merge(src *Config, changed func(name string) bool) error {
	for _, o := range options {
		if !changed(o.name) {
			continue
		}

		if err := o.value(c).Set(o.value(src).String()); err != nil {
			return err
		}
	}

	return nil
}
