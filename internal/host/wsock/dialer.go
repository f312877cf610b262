package wsock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/host"
)

// Dialer is a core.Host whose workers live behind ws:// or wss:// urls.
type Dialer struct {
	opts        Options
	logger      *log.Logger
	dialTimeout time.Duration
}

// NewDialer creates a Dialer. A nil logger means log.Default().
func NewDialer(opts Options, logger *log.Logger) *Dialer {
	if logger == nil {
		logger = log.Default()
	}
	return &Dialer{opts: opts.withDefaults(), logger: logger, dialTimeout: 10 * time.Second}
}

// Spawn connects to the worker at url.
func (d *Dialer) Spawn(url string) (core.Port, error) {
	dctx, cancel := context.WithTimeout(context.Background(), d.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing worker %s: %w", url, err)
	}
	conn.SetReadLimit(d.opts.MaxMessageBytes)

	ctx, stop := context.WithCancel(context.Background())
	p := &remotePort{
		conn:   conn,
		opts:   d.opts,
		logger: d.logger,
		out:    host.NewMailbox(),
		in:     host.NewMailbox(),
		errs:   make(chan error, 8),
		stop:   stop,
	}
	go p.readLoop(ctx)
	go p.writeLoop(ctx)
	if d.opts.PingInterval > 0 {
		go p.pingLoop(ctx)
	}
	return p, nil
}

// remotePort is the client end of a worker connection.
type remotePort struct {
	conn   *websocket.Conn
	opts   Options
	logger *log.Logger

	out, in *host.Mailbox
	errs    chan error
	stop    context.CancelFunc
	once    sync.Once
}

func (p *remotePort) PostMessage(msg []byte) error { return p.out.Put(msg) }
func (p *remotePort) Messages() <-chan []byte      { return p.in.C() }
func (p *remotePort) Errors() <-chan error         { return p.errs }

func (p *remotePort) Terminate() error {
	p.once.Do(func() {
		p.stop()
		p.out.Close()
		p.in.Close()
		p.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (p *remotePort) report(err error) {
	select {
	case p.errs <- err:
	default:
		p.logger.Printf("taskworker: dropped worker error: %v", err)
	}
}

func (p *remotePort) readLoop(ctx context.Context) {
	defer p.Terminate()
	for {
		msg, err := readFrame(ctx, p.conn, p.opts)
		if err != nil {
			if !closedNormally(err) {
				p.report(fmt.Errorf("reading from worker: %w", err))
			}
			return
		}
		if err := p.in.Put(msg); err != nil {
			return
		}
	}
}

func (p *remotePort) writeLoop(ctx context.Context) {
	for msg := range p.out.C() {
		if err := writeFrame(ctx, p.conn, msg, p.opts); err != nil {
			if !closedNormally(err) {
				p.report(fmt.Errorf("writing to worker: %w", err))
			}
			p.Terminate()
			return
		}
	}
}

func (p *remotePort) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
			err := p.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
