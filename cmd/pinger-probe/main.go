package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/pinger/config"
	"github.com/malbeclabs/pinger/internal/pinger"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	targetFlag := flag.String("target", config.DefaultProbeTargetAddr, "pinger address to probe")
	localAddrFlag := flag.String("local-addr", "", "local UDP address to send from (default: ephemeral port)")
	payloadFlag := flag.String("payload", config.DefaultProbePayload, "datagram payload")
	timeoutFlag := flag.Duration("timeout", config.DefaultProbeTimeout, "how long to wait for a reply per attempt")
	attemptsFlag := flag.Int("attempts", config.DefaultProbeMaxAttempts, "number of sends before giving up")
	verboseFlag := flag.BoolP("verbose", "v", false, "enable verbose logging")
	showVersionFlag := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersionFlag {
		fmt.Printf("pinger-probe version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	level := slog.LevelWarn
	if *verboseFlag {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))

	if !flag.CommandLine.Changed("target") {
		*targetFlag = config.EnvString(config.EnvProbeTarget, *targetFlag)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("send <%s>\n", *payloadFlag)

	res, err := pinger.Probe(ctx, pinger.ProbeConfig{
		Logger:      log,
		LocalAddr:   *localAddrFlag,
		TargetAddr:  *targetFlag,
		Payload:     *payloadFlag,
		Timeout:     *timeoutFlag,
		MaxAttempts: *attemptsFlag,
	})
	if err != nil {
		return err
	}

	fmt.Printf("receive reply <%s>\n", res.Reply)
	log.Info("probe complete", "from", res.From, "rtt", res.RTT, "attempts", res.Attempts)
	return nil
}
