// Package wsock carries worker messages over WebSocket: a Dialer host that
// spawns remote workers and a Server that runs workers for remote clients.
//
// Small messages travel as text frames of plain JSON. Messages above the
// compression threshold travel as binary frames of brotli-compressed JSON.
package wsock

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/wire"
)

// Options tunes both ends of a connection.
type Options struct {
	CompressThreshold int           // bytes; <= 0 sends everything uncompressed
	MaxMessageBytes   int64         // largest message accepted, after decompression
	WriteTimeout      time.Duration // per-frame write limit
	PingInterval      time.Duration // keepalive; <= 0 disables pings

	// OriginPatterns lists the browser origins a Server accepts besides its
	// own host, as path.Match patterns such as "*.example.com". Requests
	// without an Origin header are always accepted.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = core.DefaultMaxMessageBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// OptionsFrom derives connection options from host configuration.
func OptionsFrom(cfg core.Config) Options {
	cfg = cfg.WithDefaults()
	return Options{
		CompressThreshold: cfg.CompressThreshold,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		PingInterval:      30 * time.Second,
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, msg []byte, o Options) error {
	data, compressed, err := wire.EncodeFrame(msg, o.CompressThreshold)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if compressed {
		typ = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(ctx, o.WriteTimeout)
	defer cancel()
	return c.Write(ctx, typ, data)
}

func readFrame(ctx context.Context, c *websocket.Conn, o Options) ([]byte, error) {
	typ, data, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return wire.DecodeFrame(data, typ == websocket.MessageBinary, o.MaxMessageBytes)
}

// closedNormally reports whether err only signals the peer hanging up.
func closedNormally(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
