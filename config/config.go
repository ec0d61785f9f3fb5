// Package config gathers the daemon settings from defaults, a YAML file,
// the environment and the command line, in increasing precedence.
package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/mboxd/backend/vpnor"
	"github.com/sarchlab/mboxd/control/server"
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/transport/mbox"
)

// EnvPrefix starts the name of every environment variable read.
const EnvPrefix = "MBOXD_"

// Config is everything the daemon can be told.
type Config struct {
	FlashSize      Size        `yaml:"flash"`
	Backend        string      `yaml:"backend"`
	WindowSize     MiB         `yaml:"window_size"`
	WindowNum      int         `yaml:"window_num"`
	Verbosity      int         `yaml:"verbosity"`
	Syslog         bool        `yaml:"syslog"`
	TracePath      string      `yaml:"trace"`
	JournalPath    string      `yaml:"journal"`
	ControlSocket  string      `yaml:"control_socket"`
	MboxDevice     string      `yaml:"mbox_device"`
	LPCDevice      string      `yaml:"lpc_device"`
	Simulate       bool        `yaml:"simulate"`
	ReservedMemory Size        `yaml:"reserved_memory"`
	VPNOR          vpnor.Paths `yaml:"vpnor"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Backend:        "mtd",
		WindowSize:     1,
		ControlSocket:  server.DefaultSocket,
		MboxDevice:     mbox.DefaultDevice,
		LPCDevice:      lpc.DefaultDevice,
		ReservedMemory: 32 << 20,
		VPNOR:          vpnor.DefaultPaths(),
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// and the environment. A .env file at envFile fills in variables the
// environment does not set. Empty paths are skipped.
func Load(path, envFile string) (Config, error) {
	c := Default()

	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return c, err
		}
	}

	env, err := Environ(envFile)
	if err != nil {
		return c, err
	}

	if err := c.ApplyEnv(env); err != nil {
		return c, err
	}

	return c, nil
}

// LoadFile overlays the settings found in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "config file", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil {
		return errkind.Wrap(errkind.Configuration, "config file "+path, err)
	}

	return nil
}

// Environ returns the process environment, completed by envFile when it
// is not empty.
func Environ(envFile string) (map[string]string, error) {
	env := make(map[string]string)

	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)
		if err != nil {
			return nil, errkind.Wrap(errkind.Configuration, "env file", err)
		}

		for k, v := range fromFile {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	return env, nil
}

// EnvName returns the environment variable for the option name.
func EnvName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// ApplyEnv overlays the MBOXD_* variables of env.
func (c *Config) ApplyEnv(env map[string]string) error {
	for _, o := range options {
		v, ok := env[EnvName(o.name)]
		if !ok {
			continue
		}

		if err := o.value(c).Set(v); err != nil {
			return errkind.Wrap(errkind.Configuration, EnvName(o.name), err)
		}
	}

	return nil
}

// Validate checks the settings make a runnable daemon.
func (c *Config) Validate() error {
	name, _, err := ParseBackend(c.Backend)
	if err != nil {
		return err
	}

	if c.FlashSize == 0 && name != "mtd" && name != "vpnor" {
		return errkind.New(errkind.Configuration, "config",
			"must specify a non-zero flash size")
	}

	size := c.WindowSize.Bytes()
	if size == 0 || size&(size-1) != 0 {
		return errkind.New(errkind.Configuration, "config",
			"window size %s is not a power of 2", c.WindowSize)
	}

	if c.WindowNum < 0 {
		return errkind.New(errkind.Configuration, "config",
			"negative window count %d", c.WindowNum)
	}

	if c.Verbosity < 0 || c.Verbosity > 2 {
		return errkind.New(errkind.Configuration, "config",
			"verbosity %d out of range", c.Verbosity)
	}

	if c.Simulate && c.ReservedMemory == 0 {
		return errkind.New(errkind.Configuration, "config",
			"simulation needs reserved memory")
	}

	return nil
}

// ParseBackend splits a backend selector such as "mtd:/dev/mtd6" into the
// backend name and its path.
func ParseBackend(sel string) (name, path string, err error) {
	name, path, _ = strings.Cut(sel, ":")

	switch name {
	case "mtd":
		return name, path, nil
	case "file":
		if path == "" {
			return "", "", errkind.New(errkind.Configuration, "backend",
				"file backend needs a path")
		}

		return name, path, nil
	case "vpnor", "memory":
		if path != "" {
			return "", "", errkind.New(errkind.Configuration, "backend",
				"%s backend takes no path", name)
		}

		return name, "", nil
	default:
		return "", "", errkind.New(errkind.Configuration, "backend",
			"unknown backend %q", sel)
	}
}
