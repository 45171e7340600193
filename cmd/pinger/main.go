package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/pinger/config"
	"github.com/malbeclabs/pinger/internal/metrics"
	"github.com/malbeclabs/pinger/internal/pinger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type options struct {
	ListenAddr  string
	ForwardAddr string
	Interval    time.Duration
	MetricsAddr string
	EnvFile     string
	Verbose     bool
	ShowVersion bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseFlags parses args and resolves each setting from, in order, an
// explicit flag, a PINGER_* environment variable, and the built-in default.
func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.ListenAddr, "listen-addr", config.DefaultListenAddr, "UDP address to listen on")
	fs.StringVar(&opts.ForwardAddr, "forward-addr", config.DefaultForwardAddr, "UDP address that receives the fixed forward datagram")
	fs.DurationVar(&opts.Interval, "interval", config.DefaultInterval, "pause after each answered datagram")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to listen on for prometheus metrics (disabled when empty)")
	fs.StringVar(&opts.EnvFile, "env-file", "", "file with PINGER_* environment overrides (default: ./.env if present)")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose logging")
	fs.BoolVar(&opts.ShowVersion, "version", false, "show version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.ShowVersion {
		return opts, nil
	}

	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	if !fs.Changed("listen-addr") {
		opts.ListenAddr = config.EnvString(config.EnvListenAddr, opts.ListenAddr)
	}
	if !fs.Changed("forward-addr") {
		opts.ForwardAddr = config.EnvString(config.EnvForwardAddr, opts.ForwardAddr)
	}
	if !fs.Changed("interval") {
		interval, err := config.EnvDuration(config.EnvInterval, opts.Interval)
		if err != nil {
			return nil, err
		}
		opts.Interval = interval
	}
	if !fs.Changed("metrics-addr") {
		opts.MetricsAddr = config.EnvString(config.EnvMetricsAddr, opts.MetricsAddr)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(flag.NewFlagSet("pinger", flag.ContinueOnError), args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	if opts.ShowVersion {
		fmt.Fprintf(stdout, "pinger version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(stderr, opts.Verbose)

	p, err := startPinger(&pinger.Config{
		Logger:         log.With("component", "pinger"),
		Clock:          clockwork.NewRealClock(),
		ListenAddr:     opts.ListenAddr,
		ForwardAddr:    opts.ForwardAddr,
		ForwardPayload: config.DefaultForwardPayload,
		ReplyPayload:   config.DefaultReplyPayload,
		Interval:       opts.Interval,
		BufferSize:     config.DefaultBufferSize,
		Output:         stdout,
	}, stderr)
	if err != nil {
		return err
	}
	defer p.Close()

	if opts.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		if err := serveMetrics(ctx, log, opts.MetricsAddr); err != nil {
			return err
		}
	}

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pinger: %w", err)
	}

	log.Info("pinger shutdown complete")
	return nil
}

// startPinger binds the socket and only then announces itself on stderr.
func startPinger(cfg *pinger.Config, stderr io.Writer) (*pinger.Pinger, error) {
	p, err := pinger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinger: %w", err)
	}
	fmt.Fprintln(stderr, "pinging...")
	return p, nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server failed", "error", err)
		}
	}()
	context.AfterFunc(ctx, func() { _ = srv.Close() })
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}
