package session

import (
	"context"
	"sync"
	"time"

	"github.com/park285/threeslide-arena/internal/board"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/records"
	"github.com/park285/threeslide-arena/pkg/arenadto"
	"go.uber.org/zap"
)

// Status represents a room lifecycle state.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// outboxSize bounds queued deliveries per room; a full outbox applies
// backpressure to the mover.
const outboxSize = 64

// Participant is one seated player.
type Participant struct {
	UserID string
	Pseudo string
	Rating int
	Peer   matchmaking.Peer
}

// Name is the display name used on the wire.
func (p Participant) Name() string {
	if p.Pseudo != "" {
		return p.Pseudo
	}
	return p.UserID
}

func (p Participant) peerID() string {
	if p.Peer == nil {
		return ""
	}
	return p.Peer.ID()
}

type delivery struct {
	ev  arenadto.Event
	due time.Time
	to  int // seat, or -1 for both
}

// Room is one live session. Moves are serialised by mu; deliveries leave
// through a single outbox goroutine so clients observe them in order.
type Room struct {
	ID        string
	Players   [2]Participant
	CreatedAt time.Time

	mu      sync.Mutex
	machine *board.Machine
	status  Status

	out     chan delivery
	quit    chan struct{}
	done    chan struct{}
	timeout time.Duration
	log     *zap.Logger
}

// State is a point-in-time copy of a room.
type State struct {
	ID      string
	Players [2]Participant
	Board   board.Board
	Turn    string
	Status  Status
	Winner  string
	Moves   []int
}

func newRoom(id string, a, b Participant, starter int, deliverTimeout time.Duration, log *zap.Logger) *Room {
	return &Room{
		ID:        id,
		Players:   [2]Participant{a, b},
		CreatedAt: time.Now(),
		machine:   board.New(a.UserID, b.UserID, starter),
		status:    StatusOngoing,
		out:       make(chan delivery, outboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		timeout:   deliverTimeout,
		log:       log,
	}
}

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{
		ID:      r.ID,
		Players: r.Players,
		Board:   r.machine.Board(),
		Status:  r.status,
		Winner:  r.machine.Winner(),
		Moves:   r.machine.Moves(),
	}
	if !r.machine.Terminal() {
		st.Turn = r.machine.Turn()
	}
	return st
}

// History returns the oldest-first cells held by userID.
func (r *Room) History(userID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.History(userID)
}

func (r *Room) seatOfPeer(peerID string) int {
	for i, p := range r.Players {
		if peerID != "" && p.peerID() == peerID {
			return i
		}
	}
	return -1
}

// moverSeat prefers the turn holder's seat, so a connection seated twice
// plays whichever seat is to move.
func (r *Room) moverSeat(peerID string) int {
	if turn := r.seatOfUser(r.machine.Turn()); turn >= 0 && peerID != "" && r.Players[turn].peerID() == peerID {
		return turn
	}
	return r.seatOfPeer(peerID)
}

func (r *Room) seatOfUser(userID string) int {
	for i, p := range r.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) name(userID string) string {
	if i := r.seatOfUser(userID); i >= 0 {
		return r.Players[i].Name()
	}
	return userID
}

// wireBoard renders cells as display name or null.
func (r *Room) wireBoard(b board.Board) []*string {
	out := make([]*string, len(b))
	for i, c := range b {
		if c == "" {
			continue
		}
		n := r.name(c)
		out[i] = &n
	}
	return out
}

func (r *Room) wirePlayers() []arenadto.Player {
	out := make([]arenadto.Player, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, arenadto.Player{ID: p.UserID, Pseudo: p.Name(), Rating: p.Rating})
	}
	return out
}

// announce queues matchFound for both seats. Called before the room is
// visible to movers.
func (r *Room) announce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	current := r.name(r.machine.Turn())
	players := r.wirePlayers()
	for seat := range r.Players {
		r.enqueueLocked(delivery{
			ev: arenadto.Event{Type: arenadto.TypeMatchFound, Data: arenadto.MatchFound{
				RoomID:        r.ID,
				Players:       players,
				CurrentPlayer: current,
				Opponent:      r.Players[1-seat].Name(),
			}},
			due: now,
			to:  seat,
		})
	}
}

// move applies a move for the seat bound to peerID and queues its broadcasts.
// It returns a completion record when the move ended the game.
func (r *Room) move(peerID string, cell int, reveal time.Duration) (board.Outcome, *records.MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusOngoing {
		return board.Outcome{}, nil, board.ErrGameOver
	}
	seat := r.moverSeat(peerID)
	if seat < 0 {
		return board.Outcome{}, nil, board.ErrNotYourTurn
	}
	out, err := r.machine.Apply(r.Players[seat].UserID, cell)
	if err != nil {
		return board.Outcome{}, nil, err
	}

	now := time.Now()
	cells := r.wireBoard(r.machine.Board())
	r.enqueueLocked(delivery{
		ev:  arenadto.Event{Type: arenadto.TypeMoveMade, Data: arenadto.MoveMade{RoomID: r.ID, Board: cells, CurrentPlayer: r.Players[seat].Name()}},
		due: now,
		to:  -1,
	})
	if !out.Terminal {
		r.enqueueLocked(delivery{
			ev:  arenadto.Event{Type: arenadto.TypeMoveMade, Data: arenadto.MoveMade{RoomID: r.ID, Board: cells, CurrentPlayer: r.name(out.Next)}},
			due: now.Add(reveal),
			to:  -1,
		})
		return out, nil, nil
	}

	r.enqueueLocked(delivery{
		ev:  arenadto.Event{Type: arenadto.TypeGameOver, Data: arenadto.GameOver{RoomID: r.ID, Winner: r.name(out.Winner)}},
		due: now.Add(reveal),
		to:  -1,
	})
	r.status = StatusCompleted
	close(r.out)
	return out, r.recordLocked(now), nil
}

func (r *Room) recordLocked(ended time.Time) *records.MatchRecord {
	rec := &records.MatchRecord{
		MatchID:    r.ID,
		Status:     records.StatusCompleted,
		WinnerID:   r.machine.Winner(),
		Source:     records.SourceLive,
		Moves:      r.machine.Moves(),
		StartedAt:  r.CreatedAt,
		EndedAt:    ended,
		DurationMS: ended.Sub(r.CreatedAt).Milliseconds(),
	}
	for _, p := range r.Players {
		rec.Players = append(rec.Players, records.Player{UserID: p.UserID, Pseudo: p.Pseudo, Rating: p.Rating})
	}
	return rec
}

// abandon stops the outbox and waits for it to exit. It reports false when
// the room was no longer ongoing.
func (r *Room) abandon() bool {
	r.mu.Lock()
	if r.status != StatusOngoing {
		r.mu.Unlock()
		return false
	}
	r.status = StatusAbandoned
	close(r.quit)
	r.mu.Unlock()
	<-r.done
	return true
}

func (r *Room) enqueueLocked(d delivery) {
	select {
	case r.out <- d:
	case <-r.quit:
	}
}

// run drains the outbox until it is closed or the room is abandoned.
func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case d, ok := <-r.out:
			if !ok {
				return
			}
			if wait := time.Until(d.due); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-r.quit:
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case <-r.quit:
				return
			default:
			}
			r.deliver(d)
		}
	}
}

// deliver sends d to its seats, once per distinct peer.
func (r *Room) deliver(d delivery) {
	sent := ""
	for seat, p := range r.Players {
		if d.to >= 0 && d.to != seat {
			continue
		}
		if id := p.peerID(); id != "" {
			if id == sent {
				continue
			}
			sent = id
		}
		deliverTo(p, d.ev, r.timeout, r.log, r.ID)
	}
}

func deliverTo(p Participant, ev arenadto.Event, timeout time.Duration, log *zap.Logger, roomID string) {
	if p.Peer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Peer.Deliver(ctx, ev); err != nil {
		log.Debug("room_deliver_error",
			zap.String("room_id", roomID),
			zap.String("user_id", p.UserID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}
