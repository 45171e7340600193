package pinger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/pinger/config"
	"github.com/malbeclabs/pinger/internal/metrics"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
)

// Config holds configuration for the pinger. Zero values are replaced with
// defaults by Validate.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	ListenAddr     string
	ForwardAddr    string
	ForwardPayload string
	ReplyPayload   string

	// Interval is the pause after each answered datagram.
	Interval   time.Duration
	BufferSize int

	// Output receives one "receive: <text>" line per datagram.
	Output io.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if cfg.ForwardAddr == "" {
		return errors.New("forward address is required")
	}
	if cfg.ForwardPayload == "" {
		cfg.ForwardPayload = config.DefaultForwardPayload
	}
	if cfg.ReplyPayload == "" {
		cfg.ReplyPayload = config.DefaultReplyPayload
	}
	if cfg.Interval == 0 {
		cfg.Interval = config.DefaultInterval
	}
	if cfg.Interval < 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	if cfg.BufferSize < 0 {
		return errors.New("buffer size must be greater than 0")
	}
	return nil
}

// DefaultConfig returns a Config that binds localhost:26099 and forwards to
// 127.0.0.1:6200, pausing one second between datagrams.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     config.DefaultListenAddr,
		ForwardAddr:    config.DefaultForwardAddr,
		ForwardPayload: config.DefaultForwardPayload,
		ReplyPayload:   config.DefaultReplyPayload,
		Interval:       config.DefaultInterval,
		BufferSize:     config.DefaultBufferSize,
	}
}

// udpConn is the subset of *net.UDPConn the loop uses.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Pinger answers every datagram on its socket with two fixed datagrams: one
// to the forward address and one back to the sender.
//
// It runs a single-threaded loop with no receive timeout. Run blocks until
// the context is cancelled, the socket is closed, a read fails, or a datagram
// that is not valid UTF-8 arrives. The socket is closed on every exit path of Run.
//
// Pinger is not safe for concurrent use, except for Close.
type Pinger struct {
	log     *slog.Logger
	clock   clockwork.Clock
	conn    udpConn
	forward *net.UDPAddr
	out     io.Writer

	forwardPayload []byte
	replyPayload   []byte
	interval       time.Duration
	bufferSize     int

	once sync.Once
}

// New binds the pinger socket. It fails if the listen address is already in use.
func New(cfg *Config) (*Pinger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	listenAddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	forwardAddr, err := net.ResolveUDPAddr("udp4", cfg.ForwardAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve forward addr: %w", err)
	}

	conn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", listenAddr.Port, err)
	}

	return newPinger(cfg, conn, forwardAddr), nil
}

func newPinger(cfg *Config, conn udpConn, forward *net.UDPAddr) *Pinger {
	return &Pinger{
		log:            cfg.Logger,
		clock:          cfg.Clock,
		conn:           conn,
		forward:        forward,
		out:            cfg.Output,
		forwardPayload: []byte(cfg.ForwardPayload),
		replyPayload:   []byte(cfg.ReplyPayload),
		interval:       cfg.Interval,
		bufferSize:     cfg.BufferSize,
	}
}

// Run starts the receive/reply loop.
func (p *Pinger) Run(ctx context.Context) error {
	defer p.Close()

	// The receive has no deadline, so cancellation unblocks it by closing the socket.
	stop := context.AfterFunc(ctx, func() { p.Close() })
	defer stop()

	p.log.Info("pinger started", "address", p.conn.LocalAddr(), "forward", p.forward, "interval", p.interval)

	buf := make([]byte, p.bufferSize)
	for {
		n, from, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosedErr(err) {
				p.log.Debug("pinger socket closed")
				return nil
			}
			metrics.ReadErrors.Inc()
			p.log.Error("error reading from UDP", "error", err)
			return fmt.Errorf("failed to read from UDP: %w", err)
		}
		metrics.DatagramsReceived.Inc()

		if !utf8.Valid(buf[:n]) {
			metrics.DatagramsRejected.WithLabelValues(metrics.ReasonInvalidUTF8).Inc()
			p.log.Error("received datagram that is not valid UTF-8", "from", from, "length", n)
			return fmt.Errorf("%w: %d bytes from %s are not valid UTF-8", ErrInvalidPayload, n, from)
		}

		fmt.Fprintf(p.out, "receive: %s\n", buf[:n])
		p.log.Debug("received datagram", "from", from, "length", n)

		p.send(p.forwardPayload, p.forward, metrics.TargetForward)
		p.send(p.replyPayload, from, metrics.TargetReply)

		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

// send writes one datagram. UDP gives no delivery confirmation, so failures
// are only logged and counted.
func (p *Pinger) send(payload []byte, to *net.UDPAddr, target string) {
	if _, err := p.conn.WriteToUDP(payload, to); err != nil {
		metrics.SendErrors.WithLabelValues(target).Inc()
		p.log.Debug("error writing to UDP", "target", target, "address", to, "error", err)
		return
	}
	metrics.DatagramsSent.WithLabelValues(target).Inc()
}

// Close closes the pinger socket. It is safe to call more than once.
func (p *Pinger) Close() error {
	var err error
	p.once.Do(func() {
		p.log.Debug("closing pinger")
		err = p.conn.Close()
	})
	return err
}

// LocalAddr returns the address the pinger is bound to.
func (p *Pinger) LocalAddr() *net.UDPAddr {
	return p.conn.LocalAddr().(*net.UDPAddr)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
