package main

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/sarchlab/mboxd/config"
	"github.com/sarchlab/mboxd/daemon"
	"github.com/sarchlab/mboxd/journal"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/lpc"
	"github.com/sarchlab/mboxd/protocol"
	"github.com/sarchlab/mboxd/tracing"
	"github.com/sarchlab/mboxd/transport/mbox"
	"github.com/sarchlab/mboxd/windows"
)

// journalBatchSize is how many commands are buffered before the journal
// writes them out.
const journalBatchSize = 1000

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	log.Infof("Starting mboxd %s", version)

	res := &resources{}

	d, st, err := build(cfg, log, res)
	if err != nil {
		return multierr.Append(err, res.release())
	}

	err = d.Run(cmd.Context())
	st.report(log)

	return err
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return cfg, err
	}

	if err := cfg.Merge(&flagCfg, cmd.Flags().Changed); err != nil {
		return cfg, err
	}

	if verbose > cfg.Verbosity {
		cfg.Verbosity = min(verbose, int(logging.Debug))
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	v := logging.Verbosity(cfg.Verbosity)

	if cfg.Syslog {
		return logging.NewSyslog("mboxd", v)
	}

	return logging.NewConsole(v), nil
}

// resources are released in reverse order if the daemon cannot be built.
type resources struct {
	closers []io.Closer
}

func (r *resources) add(c io.Closer) {
	r.closers = append(r.closers, c)
}

func (r *resources) release() error {
	var err error

	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i].Close())
	}

	return err
}

// stats sums up the window traffic of a run.
type stats struct {
	reads  *tracing.TotalTimeTracer
	writes *tracing.TotalTimeTracer
}

func newStats(session *protocol.Session) stats {
	st := stats{
		reads: tracing.NewTotalTimeTracer(tracing.WallClock{},
			tracing.KindFilter(tracing.TaskRead)),
		writes: tracing.NewTotalTimeTracer(tracing.WallClock{},
			tracing.KindFilter(tracing.TaskWrite)),
	}

	tracing.CollectTrace(session, st.reads)
	tracing.CollectTrace(session, st.writes)

	return st
}

func (s stats) report(log *logging.Logger) {
	log.Infof("Loaded %d windows, %s in %s (%s average)",
		s.reads.TaskCount(), humanize.IBytes(s.reads.TotalBytes()),
		s.reads.TotalTime(), s.reads.AverageTime())
	log.Infof("Flushed %d windows, %s in %s (%s average)",
		s.writes.TaskCount(), humanize.IBytes(s.writes.TotalBytes()),
		s.writes.TotalTime(), s.writes.AverageTime())
}

func build(
	cfg config.Config,
	log *logging.Logger,
	res *resources,
) (*daemon.Daemon, stats, error) {
	ctrl, err := openLPC(cfg, log)
	if err != nil {
		return nil, stats{}, err
	}

	res.add(ctrl)

	opener := daemon.Opener{
		FlashSize: cfg.FlashSize.Bytes(),
		VPNOR:     cfg.VPNOR,
		Log:       log,
	}

	name, path, err := config.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, stats{}, err
	}

	be, err := opener.OpenBackend(name, path)
	if err != nil {
		return nil, stats{}, err
	}

	res.add(be)

	pool, err := windows.MakeBuilder().
		WithMemory(ctrl.Memory()).
		WithNumWindows(cfg.WindowNum).
		WithWindowSize(cfg.WindowSize.Bytes()).
		WithBackend(be).
		WithLogger(log).
		Build()
	if err != nil {
		return nil, stats{}, err
	}

	session, err := protocol.MakeBuilder().
		WithPool(pool).
		WithLPC(ctrl).
		WithLogger(log).
		Build()
	if err != nil {
		return nil, stats{}, err
	}

	session.AcceptHook(logging.NewCommandLogHook(log, protocol.HookPosCommandEnd))

	st := newStats(session)

	b := daemon.MakeBuilder().
		WithSession(session).
		WithBackendOpener(opener).
		WithControlSocket(cfg.ControlSocket).
		WithLogger(log)

	if cfg.TracePath != "" {
		tracer, err := tracing.CreateBlkTracer(cfg.TracePath, log)
		if err != nil {
			return nil, stats{}, err
		}

		res.add(tracer)
		tracing.CollectTrace(session, tracer)
		b = b.WithCloser(tracer)
	}

	if cfg.JournalPath != "" {
		w, err := journal.Open(cfg.JournalPath, journalBatchSize)
		if err != nil {
			return nil, stats{}, err
		}

		res.add(w)

		rec, err := journal.NewRecorder(w, log)
		if err != nil {
			return nil, stats{}, err
		}

		log.Infof("Journaling session %s to %s", rec.Session(), w.Path())
		session.AcceptHook(rec)
		b = b.WithCloser(w)
	}

	dev, err := openMailbox(cfg)
	if err != nil {
		return nil, stats{}, err
	}

	res.add(dev)

	d, err := b.WithMailbox(dev).Build()
	if err != nil {
		return nil, stats{}, err
	}

	return d, st, nil
}

func openLPC(cfg config.Config, log *logging.Logger) (lpc.Controller, error) {
	if cfg.Simulate {
		log.Infof("Simulating %s of reserved memory",
			humanize.IBytes(uint64(cfg.ReservedMemory.Bytes())))
		return lpc.NewSimulated(cfg.ReservedMemory.Bytes()), nil
	}

	return openAspeed(cfg.LPCDevice, log)
}

func openMailbox(cfg config.Config) (mbox.Device, error) {
	if cfg.Simulate {
		return mbox.NewPipe(), nil
	}

	return mbox.Open(cfg.MboxDevice)
}
