package wsgate

import (
	"context"
	"sync"
	"time"

	"github.com/park285/threeslide-arena/pkg/arenadto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// peer is one accepted connection. Writes are serialised by wmu.
type peer struct {
	id           string
	conn         *websocket.Conn
	wmu          sync.Mutex
	writeTimeout time.Duration
}

func (p *peer) ID() string { return p.id }

// Deliver writes ev as one JSON text frame.
func (p *peer) Deliver(ctx context.Context, ev arenadto.Event) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, p.conn, ev)
}

// pingLoop closes the connection after two consecutive failed pings.
func (p *peer) pingLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := p.conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = p.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
