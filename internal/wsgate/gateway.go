// Package wsgate is the real-time transport of the push path: it accepts
// websocket clients, feeds their events into the pairing queue and the
// session registry, and delivers room events back.
package wsgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/threeslide-arena/internal/arenaerr"
	"github.com/park285/threeslide-arena/internal/board"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/msgcat"
	"github.com/park285/threeslide-arena/internal/session"
	"github.com/park285/threeslide-arena/pkg/arenadto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// RatingSource resolves ratings for joins that omit one.
type RatingSource interface {
	Rating(ctx context.Context, userID string) (int, error)
}

type Gateway struct {
	queue    *matchmaking.Queue
	registry *session.Registry
	ratings  RatingSource
	messages *msgcat.Catalog
	log      *zap.Logger

	origins      []string
	pingInterval time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	peers map[string]*peer
	wg    sync.WaitGroup
}

type Option func(*Gateway)

func WithRatings(r RatingSource) Option { return func(g *Gateway) { g.ratings = r } }

func WithMessages(c *msgcat.Catalog) Option { return func(g *Gateway) { g.messages = c } }

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithOriginPatterns allows cross-origin browsers matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gateway) { g.origins = append(g.origins, patterns...) }
}

func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pingInterval = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.writeTimeout = d
		}
	}
}

func New(queue *matchmaking.Queue, registry *session.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		queue:        queue,
		registry:     registry,
		log:          zap.NewNop(),
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
		peers:        make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		g.log.Debug("ws_accept_error", zap.Error(err))
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn, writeTimeout: g.writeTimeout}

	g.mu.Lock()
	g.peers[p.id] = p
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go p.pingLoop(ctx, g.pingInterval)

	g.log.Info("ws_connect", zap.String("peer_id", p.id), zap.String("remote", r.RemoteAddr))
	reason := g.readLoop(ctx, p)
	g.disconnect(p, reason)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) readLoop(ctx context.Context, p *peer) error {
	for {
		var in arenadto.Inbound
		if err := wsjson.Read(ctx, p.conn, &in); err != nil {
			return err
		}
		g.dispatch(ctx, p, in)
	}
}

// disconnect withdraws p's waiting parties first, then abandons its rooms.
func (g *Gateway) disconnect(p *peer, reason error) {
	g.mu.Lock()
	delete(g.peers, p.id)
	g.mu.Unlock()

	removed := g.queue.RemovePeer(p.id)
	rooms := g.registry.DropParticipant(p.id)
	status := websocket.CloseStatus(reason)
	g.log.Info("ws_disconnect",
		zap.String("peer_id", p.id),
		zap.Int("queue_removed", removed),
		zap.Strings("rooms_abandoned", rooms),
		zap.Int("close_status", int(status)),
	)
}

func (g *Gateway) dispatch(ctx context.Context, p *peer, in arenadto.Inbound) {
	switch in.Type {
	case arenadto.TypeJoinQueue:
		var req arenadto.JoinQueue
		if err := decode(in.Data, &req); err != nil {
			g.reject(ctx, p, err, nil)
			return
		}
		g.join(ctx, p, req)
	case arenadto.TypeLeaveQueue:
		var req arenadto.LeaveQueue
		_ = decode(in.Data, &req)
		if strings.TrimSpace(req.UserID) == "" {
			g.queue.RemovePeer(p.id)
			return
		}
		g.leave(p, req.UserID)
	case arenadto.TypeMakeMove:
		var req arenadto.MakeMove
		if err := decode(in.Data, &req); err != nil {
			g.reject(ctx, p, err, nil)
			return
		}
		if req.ToIndex == nil {
			g.reject(ctx, p, board.ErrInvalidMove, nil)
			return
		}
		if err := g.registry.RouteMove(ctx, req.RoomID, p.id, *req.ToIndex); err != nil {
			g.reject(ctx, p, err, map[string]string{"RoomID": req.RoomID})
		}
	default:
		g.reject(ctx, p, errBadRequest("unknown event type "+in.Type), nil)
	}
}

func (g *Gateway) join(ctx context.Context, p *peer, req arenadto.JoinQueue) {
	party := matchmaking.Party{
		UserID: strings.TrimSpace(req.UserID),
		Pseudo: strings.TrimSpace(req.Pseudo),
		Rating: req.Rating,
		Peer:   p,
	}
	if party.UserID == "" {
		g.reject(ctx, p, matchmaking.ErrInvalidParty, nil)
		return
	}
	if party.Rating <= 0 && g.ratings != nil {
		r, err := g.ratings.Rating(ctx, party.UserID)
		if err != nil {
			g.reject(ctx, p, err, nil)
			return
		}
		party.Rating = r
	}
	paired, err := g.queue.Enqueue(party)
	if err != nil {
		g.reject(ctx, p, err, nil)
		return
	}
	if !paired {
		g.send(ctx, p, arenadto.Event{Type: arenadto.TypeQueued, Data: arenadto.Queued{UserID: party.UserID, Waiting: g.queue.Len()}})
	}
}

// leave withdraws userID only when it was queued from this connection.
func (g *Gateway) leave(p *peer, userID string) {
	g.queue.RemoveIf(userID, p.id)
}

func (g *Gateway) reject(ctx context.Context, p *peer, err error, data map[string]string) {
	de := arenaerr.Classify(err, g.messages, data)
	var bad badRequestError
	if errors.As(err, &bad) {
		de = arenadto.DomainError{Code: arenadto.CodeBadRequest, Message: g.messages.Text("error.bad_request", map[string]string{"Reason": string(bad)}, "Malformed request")}
	}
	g.send(ctx, p, arenadto.Event{Type: arenaerr.SocketEvent(de.Code), Data: de.Body()})
}

func (g *Gateway) send(ctx context.Context, p *peer, ev arenadto.Event) {
	if err := p.Deliver(ctx, ev); err != nil {
		g.log.Debug("ws_write_error", zap.String("peer_id", p.id), zap.String("type", ev.Type), zap.Error(err))
	}
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}

// Close closes every open connection and waits for their handlers to finish
// or ctx to expire.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	peers := make([]*peer, 0, len(g.peers))
	for _, p := range g.peers {
		peers = append(peers, p)
	}
	g.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(reason string) error { return badRequestError(reason) }

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errBadRequest("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest(err.Error())
	}
	return nil
}
