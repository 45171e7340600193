package pinger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/pinger/config"
)

var (
	ErrNoReply = errors.New("no reply")
)

type ProbeConfig struct {
	Logger *slog.Logger

	// LocalAddr is the source address; empty means an ephemeral port.
	LocalAddr   string
	TargetAddr  string
	Payload     string
	Timeout     time.Duration // per attempt
	MaxAttempts int
}

func (cfg *ProbeConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TargetAddr == "" {
		cfg.TargetAddr = config.DefaultProbeTargetAddr
	}
	if cfg.Payload == "" {
		cfg.Payload = config.DefaultProbePayload
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultProbeTimeout
	}
	if cfg.Timeout < 0 {
		return errors.New("timeout must be greater than 0")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = config.DefaultProbeMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return errors.New("max attempts must be greater than 0")
	}
	return nil
}

type ProbeResult struct {
	Reply    string
	From     *net.UDPAddr
	RTT      time.Duration
	Attempts int
}

// Probe sends the payload to a pinger and waits for the first datagram that
// comes back. Attempts that time out are retried with exponential backoff.
func Probe(ctx context.Context, cfg ProbeConfig) (*ProbeResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := cfg.Logger

	target, err := net.ResolveUDPAddr("udp4", cfg.TargetAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve target addr: %w", err)
	}
	var local *net.UDPAddr
	if cfg.LocalAddr != "" {
		local, err = net.ResolveUDPAddr("udp4", cfg.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve local addr: %w", err)
		}
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	buf := make([]byte, config.DefaultBufferSize)
	attempt := 0
	res, err := backoff.Retry(ctx, func() (*ProbeResult, error) {
		attempt++
		if attempt > 1 {
			log.Warn("no reply from pinger, retrying", "attempt", attempt, "target", target)
		}

		start := time.Now()
		if _, err := conn.WriteToUDP([]byte(cfg.Payload), target); err != nil {
			return nil, fmt.Errorf("failed to send probe: %w", err)
		}
		if err := conn.SetReadDeadline(start.Add(cfg.Timeout)); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("error setting read deadline: %w", err))
		}
		// A cancellation that fired before the deadline was set would be overwritten by it.
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrNoReply
			}
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}

		return &ProbeResult{
			Reply:    strings.ToValidUTF8(string(buf[:n]), "\uFFFD"),
			From:     from,
			RTT:      time.Since(start),
			Attempts: attempt,
		}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(cfg.MaxAttempts)))
	if err != nil {
		return nil, fmt.Errorf("probe %s after %d attempt(s): %w", target, attempt, err)
	}

	log.Debug("probe reply received", "from", res.From, "rtt", res.RTT, "attempts", res.Attempts)
	return res, nil
}
