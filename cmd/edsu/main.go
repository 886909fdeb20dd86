// Command edsu sends files over an Ethernet interface as raw frames whose
// type field carries the payload length.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edsu/channel"
	"edsu/config"
	"edsu/internal/logging"
	"edsu/internal/management"
	"edsu/internal/ratelimit"
	"edsu/internal/state"
	"edsu/sender"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// newTransport is replaced in tests to observe the frames a run sends.
var newTransport = channel.NewTransport

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// The first signal cancels the run; a second one gets the default action.
	context.AfterFunc(ctx, stop)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

type options struct {
	config     string
	typ        string
	peer       string
	iface      string
	pause      string
	quiet      bool
	verbose    bool
	transport  string
	management string
}

func newFlagSet(stderr io.Writer, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("edsu", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.config, "config", "", "Path to YAML configuration file (or '-' for stdin)")
	fs.StringVar(&o.typ, "e", "0004", "Protocol type in hex")
	fs.StringVar(&o.peer, "d", channel.DefaultPeer.String(), "Destination hardware address")
	fs.StringVar(&o.iface, "i", channel.DefaultInterface, "Interface name or index")
	fs.StringVar(&o.pause, "p", "0", "Pause between frames in seconds (0-255)")
	fs.BoolVar(&o.quiet, "q", false, "Quiet: report warnings and errors only")
	fs.BoolVar(&o.verbose, "v", false, "Verbose: dump every frame")
	fs.StringVar(&o.transport, "t", channel.AFPacket, "Transport: afpacket, pcap or loopback")
	fs.StringVar(&o.management, "management", "", "Serve transfer status on this address")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: edsu [options] [file ...]\n\n")
		fmt.Fprintf(stderr, "Sends each file, or stdin when none is given, as a sequence of frames.\n")
		fmt.Fprintf(stderr, "The %s environment variable overrides the interface.\n\n", config.EnvInterface)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly, in that order. A non-zero code reports
// which kind of failure occurred.
func loadConfig(fs *flag.FlagSet, o *options, lookupEnv func(string) (string, bool)) (*config.Config, int, error) {
	cfg := config.Default()
	if o.config != "" {
		loaded, err := config.Load(o.config)
		if err != nil {
			return nil, exitFatal, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv(lookupEnv)

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		if flagErr != nil {
			return
		}
		switch f.Name {
		case "e":
			if _, err := config.ParseType(o.typ); err != nil {
				flagErr = &config.FieldError{Field: "-e", Value: o.typ, Err: err}
				return
			}
			cfg.Type = o.typ
		case "d":
			if _, err := config.ParseHardwareAddr(o.peer); err != nil {
				flagErr = &config.FieldError{Field: "-d", Value: o.peer, Err: err}
				return
			}
			cfg.Peer = o.peer
		case "i":
			cfg.Interface = o.iface
		case "p":
			p, err := config.ParsePause(o.pause)
			if err != nil {
				flagErr = &config.FieldError{Field: "-p", Value: o.pause, Err: err}
				return
			}
			cfg.Pause = p
		case "q":
			cfg.Quiet = o.quiet
		case "v":
			cfg.Verbose = o.verbose
		case "t":
			cfg.Transport = o.transport
		case "management":
			cfg.Management.Bind = o.management
		}
	})
	if flagErr != nil {
		return nil, exitUsage, flagErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitUsage, err
	}
	return cfg, exitOK, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	var o options
	fs := newFlagSet(stderr, &o)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, code, err := loadConfig(fs, &o, lookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "edsu: %v\n", err)
		if code == exitUsage {
			fs.Usage()
		}
		return code
	}

	logOpts := cfg.LogOptions()
	logOpts.Stderr = stderr
	baseLogger, err := logging.Build(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "edsu: open log: %v\n", err)
		return exitFatal
	}
	defer baseLogger.Sync()
	logger := baseLogger.With(map[string]interface{}{"component": "edsu"})

	if err := transfer(ctx, cfg, fs.Args(), stdin, baseLogger); err != nil {
		logger.Error("transfer failed", map[string]interface{}{"error": err.Error()})
		return exitFatal
	}
	return exitOK
}

func transfer(ctx context.Context, cfg *config.Config, paths []string, stdin io.Reader, baseLogger *logging.Logger) error {
	logger := baseLogger.With(map[string]interface{}{"component": "edsu"})

	chCfg, err := cfg.ChannelConfig()
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		return err
	}
	ch, err := channel.Open(chCfg, tr, baseLogger.With(map[string]interface{}{"component": "channel"}))
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Warn("channel close error", map[string]interface{}{"error": err.Error()})
		}
	}()

	history := state.NewHistory(cfg.Management.History)
	s, err := sender.New(ch,
		sender.WithPause(cfg.PauseDuration()),
		sender.WithLogger(baseLogger.With(map[string]interface{}{"component": "sender"})),
		sender.WithReport(func(r sender.Result) {
			t := state.Transfer{Name: r.Name, Frames: r.Frames, Bytes: r.Bytes, Skipped: r.Skipped}
			if r.Err != nil {
				t.Error = r.Err.Error()
			}
			history.Record(t)
		}),
	)
	if err != nil {
		return err
	}

	if cfg.Management.Bind != "" {
		mgmt, err := startManagement(cfg, s, ch, history, baseLogger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := mgmt.Close(shutdownCtx); err != nil {
				logger.Warn("management server close error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	started := time.Now()
	err = s.SendFiles(ctx, paths, stdin)
	st := s.Stats()
	logger.Info("transfer complete", map[string]interface{}{
		"files":    st.Files,
		"skipped":  st.Skipped,
		"frames":   st.Frames,
		"bytes":    st.PayloadBytes,
		"duration": time.Since(started).String(),
	})
	return err
}

func startManagement(cfg *config.Config, s *sender.Sender, ch *channel.Channel, history *state.History, baseLogger *logging.Logger) (*management.Server, error) {
	prefixes, err := cfg.ManagementPrefixes()
	if err != nil {
		return nil, err
	}
	rl := cfg.Management.RateLimit
	limiter := ratelimit.New(rl.MaxInFlight, rl.PerMinute, rl.Burst)
	chCfg := ch.Config()
	mgmt, err := management.New(cfg.Management.Bind, func() any {
		return statusPayload(chCfg, ch, s, history, limiter)
	}, baseLogger,
		management.WithMetrics(s.Metrics),
		management.WithACL(prefixes),
		management.WithLimiter(limiter),
	)
	if err != nil {
		return nil, err
	}
	mgmt.Start()
	return mgmt, nil
}

func statusPayload(chCfg channel.Config, ch *channel.Channel, s *sender.Sender, history *state.History, limiter *ratelimit.Limiter) map[string]interface{} {
	return map[string]interface{}{
		"interface":  chCfg.Interface.String(),
		"local":      ch.LocalAddr().String(),
		"peer":       ch.Peer().String(),
		"type":       fmt.Sprintf("0x%04x", chCfg.Type),
		"stats":      s.Stats(),
		"summary":    history.Summary(),
		"transfers":  history.Recent(),
		"management": limiter.Snapshot(),
	}
}
