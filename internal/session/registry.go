// Package session hosts live rooms: seating, move routing, delayed reveal of
// the turn change and room teardown on completion or disconnect.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/threeslide-arena/internal/board"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/records"
	"github.com/park285/threeslide-arena/pkg/arenadto"
	"go.uber.org/zap"
)

const (
	DefaultRevealDelay    = 500 * time.Millisecond
	defaultDeliverTimeout = 5 * time.Second
	roomIDLen             = 8
	roomIDAttempts        = 8
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidPair  = errors.New("invalid pair")
	ErrClosed       = errors.New("session registry closed")
)

// Recorder receives completion records; records.Reporter satisfies it.
type Recorder interface {
	Report(rec records.MatchRecord)
}

// Registry owns every live room.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool
	wg     sync.WaitGroup

	reveal   time.Duration
	timeout  time.Duration
	recorder Recorder
	starter  func() int
	log      *zap.Logger
}

type Option func(*Registry)

// WithRevealDelay sets the pause between a move and the turn-change (or
// game over) broadcast. Zero is allowed.
func WithRevealDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.reveal = d
		}
	}
}

func WithRecorder(rec Recorder) Option { return func(r *Registry) { r.recorder = rec } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithStarter overrides the seat chosen to move first.
func WithStarter(fn func() int) Option { return func(r *Registry) { r.starter = fn } }

func WithDeliverTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		reveal:  DefaultRevealDelay,
		timeout: defaultDeliverTimeout,
		starter: board.RandomSeat,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom seats a and b, picks a random starter and announces the match to
// both. It is the push queue's pairing sink.
func (r *Registry) CreateRoom(a, b matchmaking.Party) (*Room, error) {
	a.UserID, b.UserID = strings.TrimSpace(a.UserID), strings.TrimSpace(b.UserID)
	if a.UserID == "" || b.UserID == "" || a.UserID == b.UserID {
		return nil, ErrInvalidPair
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	id := r.newIDLocked()
	room := newRoom(id, participantOf(a), participantOf(b), r.starter()&1, r.timeout, r.log)
	room.announce()
	r.rooms[id] = room
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		room.run()
	}()

	st := room.State()
	r.log.Info("room_create",
		zap.String("room_id", id),
		zap.String("player1", a.UserID),
		zap.String("player2", b.UserID),
		zap.String("starter", st.Turn),
	)
	return room, nil
}

func participantOf(p matchmaking.Party) Participant {
	return Participant{UserID: p.UserID, Pseudo: p.Pseudo, Rating: p.Rating, Peer: p.Peer}
}

func (r *Registry) newIDLocked() string {
	for i := 0; i < roomIDAttempts; i++ {
		id := uuid.New().String()[:roomIDLen]
		if _, taken := r.rooms[id]; !taken {
			return id
		}
	}
	return uuid.NewString()
}

// RouteMove applies a move sent by peerID to roomID. Rejected moves return
// the board error and broadcast nothing.
func (r *Registry) RouteMove(ctx context.Context, roomID, peerID string, cell int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roomID = strings.TrimSpace(roomID)
	r.mu.RLock()
	room := r.rooms[roomID]
	r.mu.RUnlock()
	if room == nil {
		return ErrRoomNotFound
	}

	out, rec, err := room.move(peerID, cell, r.reveal)
	if err != nil {
		if errors.Is(err, board.ErrGameOver) {
			return ErrRoomNotFound
		}
		r.log.Debug("room_move_rejected", zap.String("room_id", roomID), zap.String("peer_id", peerID), zap.Int("cell", cell), zap.Error(err))
		return err
	}
	r.log.Info("room_move",
		zap.String("room_id", roomID),
		zap.String("user_id", out.Player),
		zap.Int("from", out.From),
		zap.Int("to", out.To),
	)
	if rec == nil {
		return nil
	}

	r.mu.Lock()
	if cur, ok := r.rooms[roomID]; ok && cur == room {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	r.log.Info("room_finish", zap.String("room_id", roomID), zap.String("winner", rec.WinnerID), zap.Int("moves", len(rec.Moves)))
	if r.recorder != nil {
		r.recorder.Report(*rec)
	}
	return nil
}

// DropParticipant abandons every room seating peerID and tells each remaining
// player once. It returns the abandoned room ids.
func (r *Registry) DropParticipant(peerID string) []string {
	if strings.TrimSpace(peerID) == "" {
		return nil
	}
	r.mu.Lock()
	var affected []*Room
	for id, room := range r.rooms {
		if room.seatOfPeer(peerID) >= 0 {
			affected = append(affected, room)
			delete(r.rooms, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(affected))
	for _, room := range affected {
		if !room.abandon() {
			continue
		}
		ids = append(ids, room.ID)
		left := room.seatOfPeer(peerID)
		other := room.Players[1-left]
		if other.peerID() != peerID {
			deliverTo(other, arenadto.Event{Type: arenadto.TypeOpponentLeft, Data: arenadto.OpponentLeft{RoomID: room.ID}}, r.timeout, r.log, room.ID)
		}
		r.log.Info("room_abandon", zap.String("room_id", room.ID), zap.String("left_user", room.Players[left].UserID))
	}
	sort.Strings(ids)
	return ids
}

// Room returns the live room with id.
func (r *Registry) Room(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[strings.TrimSpace(roomID)]
	return room, ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close abandons every live room without notice and waits for outboxes of
// finished rooms to drain.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		room.abandon()
	}
	r.wg.Wait()
}
