// Package relay is the native messaging host: it bridges length-prefixed
// frames on stdin/stdout to newline-delimited JSON on the broker socket.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/tablease/internal/types"
	"github.com/dgnsrekt/tablease/internal/wire"
)

const DefaultReconnectDelay = 500 * time.Millisecond

// errStdinClosed ends the pumps when the browser side goes away.
var errStdinClosed = errors.New("relay: stdin closed")

// Options configures a Relay.
type Options struct {
	// Dial opens a fresh broker connection. It is called again after the
	// broker connection drops.
	Dial           func(ctx context.Context) (net.Conn, error)
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Relay owns one browser connection (in/out) and at most one broker
// connection at a time.
type Relay struct {
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	dial   func(ctx context.Context) (net.Conn, error)
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	broker  *wire.LineWriter
	stopped bool
}

// New creates a relay reading frames from in and writing frames to out.
// out must not be shared with logging.
func New(in io.Reader, out io.Writer, opts Options) *Relay {
	r := &Relay{
		in:     in,
		out:    out,
		dial:   opts.Dial,
		delay:  opts.ReconnectDelay,
		logger: opts.Logger,
	}
	if r.delay <= 0 {
		r.delay = DefaultReconnectDelay
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Run pumps messages until stdin reaches end of stream (returns nil) or
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.dial == nil {
		return fmt.Errorf("relay: no broker dialer configured")
	}
	g, gctx := errgroup.WithContext(ctx)

	// Unblock a pending stdin read and any writer waiting for the broker.
	stop := context.AfterFunc(gctx, func() {
		if c, ok := r.in.(io.Closer); ok && ctx.Err() != nil {
			_ = c.Close()
		}
		r.mu.Lock()
		r.stopped = true
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	g.Go(func() error { return r.pumpBrowser() })
	g.Go(func() error { return r.superviseBroker(gctx) })

	err := g.Wait()
	if errors.Is(err, errStdinClosed) {
		r.logger.Info("browser closed the channel, exiting")
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// pumpBrowser wraps every frame from the browser as from_extension and
// forwards it to the broker.
func (r *Relay) pumpBrowser() error {
	fr := wire.NewFrameReader(r.in)
	for {
		msg, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return errStdinClosed
			}
			return fmt.Errorf("relay: read frame: %w", err)
		}
		if !gjson.ValidBytes(msg) {
			r.logger.Warn("dropping invalid frame from browser", "bytes", len(msg))
			continue
		}
		w := r.waitBroker()
		if w == nil {
			return errStdinClosed
		}
		if err := w.Write(types.FromExtension{Type: types.MsgFromExtension, Message: msg}); err != nil {
			r.logger.Warn("dropping browser message, broker write failed", "error", err)
		}
	}
}

// waitBroker blocks until a broker connection is up or the relay stops.
func (r *Relay) waitBroker() *wire.LineWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.broker == nil && !r.stopped {
		r.cond.Wait()
	}
	if r.stopped {
		return nil
	}
	return r.broker
}

func (r *Relay) setBroker(w *wire.LineWriter) {
	r.mu.Lock()
	r.broker = w
	r.cond.Broadcast()
	r.mu.Unlock()
}

// superviseBroker keeps one broker connection alive, redialling after
// every drop until ctx is done.
func (r *Relay) superviseBroker(ctx context.Context) error {
	for {
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("broker dial failed", "error", err)
		} else {
			r.serveBroker(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("broker connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.delay):
		}
	}
}

func (r *Relay) serveBroker(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	w := wire.NewLineWriter(conn)
	if err := w.Write(types.Hello{Type: types.MsgHello, Role: types.RoleNativeHost}); err != nil {
		r.logger.Warn("broker hello failed", "error", err)
		return
	}
	r.setBroker(w)
	defer r.setBroker(nil)
	r.logger.Info("registered with broker")

	lr := wire.NewLineReader(conn)
	for {
		line, err := lr.Next()
		if err != nil {
			return
		}
		var frame []byte
		switch kind := gjson.GetBytes(line, "type").String(); kind {
		case types.MsgToExtension:
			msg := gjson.GetBytes(line, "message")
			if !msg.Exists() {
				continue
			}
			frame = []byte(msg.Raw)
		case types.MsgHostReady:
			frame = line
		default:
			r.logger.Debug("ignoring broker message", "type", kind)
			continue
		}
		if err := r.writeFrame(frame); err != nil {
			r.logger.Error("write frame to browser failed", "error", err)
			return
		}
	}
}

func (r *Relay) writeFrame(msg []byte) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	return wire.WriteFrame(r.out, msg)
}
