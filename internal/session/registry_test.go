package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/threeslide-arena/internal/board"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/records"
	"github.com/park285/threeslide-arena/pkg/arenadto"
)

type fakePeer struct {
	id     string
	events chan arenadto.Event
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id, events: make(chan arenadto.Event, 64)}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Deliver(ctx context.Context, ev arenadto.Event) error {
	select {
	case p.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePeer) next(t *testing.T) arenadto.Event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("peer %s: no event", p.id)
	}
	return arenadto.Event{}
}

func (p *fakePeer) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("peer %s: unexpected event %s %+v", p.id, ev.Type, ev.Data)
	case <-time.After(d):
	}
}

type recorderStub struct {
	mu   sync.Mutex
	recs []records.MatchRecord
}

func (r *recorderStub) Report(rec records.MatchRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorderStub) all() []records.MatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]records.MatchRecord(nil), r.recs...)
}

type fixture struct {
	reg  *Registry
	rec  *recorderStub
	a, b *fakePeer
	room *Room
}

// newFixture seats alice (seat 0, moves first) and bob.
func newFixture(t *testing.T, reveal time.Duration) *fixture {
	t.Helper()
	rec := &recorderStub{}
	reg := NewRegistry(WithRevealDelay(reveal), WithRecorder(rec), WithStarter(func() int { return 0 }))
	t.Cleanup(reg.Close)
	a, b := newFakePeer("conn-a"), newFakePeer("conn-b")
	room, err := reg.CreateRoom(
		matchmaking.Party{UserID: "ua", Pseudo: "alice", Rating: 1000, Peer: a},
		matchmaking.Party{UserID: "ub", Pseudo: "bob", Rating: 1010, Peer: b},
	)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return &fixture{reg: reg, rec: rec, a: a, b: b, room: room}
}

func (f *fixture) drainMatchFound(t *testing.T) {
	t.Helper()
	for _, p := range []*fakePeer{f.a, f.b} {
		if ev := p.next(t); ev.Type != arenadto.TypeMatchFound {
			t.Fatalf("expected matchFound, got %s", ev.Type)
		}
	}
}

func (f *fixture) move(t *testing.T, p *fakePeer, cell int) {
	t.Helper()
	if err := f.reg.RouteMove(context.Background(), f.room.ID, p.id, cell); err != nil {
		t.Fatalf("move %s→%d: %v", p.id, cell, err)
	}
}

func TestCreateRoom_AnnouncesToBoth(t *testing.T) {
	f := newFixture(t, 0)
	if len(f.room.ID) != 8 {
		t.Fatalf("room id %q", f.room.ID)
	}
	if got, ok := f.reg.Room(f.room.ID); !ok || got != f.room || f.reg.Len() != 1 {
		t.Fatalf("room not registered")
	}

	evA, evB := f.a.next(t), f.b.next(t)
	mfA, ok := evA.Data.(arenadto.MatchFound)
	if !ok || evA.Type != arenadto.TypeMatchFound {
		t.Fatalf("unexpected event for a: %+v", evA)
	}
	mfB := evB.Data.(arenadto.MatchFound)
	if mfA.RoomID != f.room.ID || mfA.CurrentPlayer != "alice" || mfA.Opponent != "bob" || mfB.Opponent != "alice" {
		t.Fatalf("unexpected payloads: %+v / %+v", mfA, mfB)
	}
	if len(mfA.Players) != 2 || mfA.Players[1].Rating != 1010 {
		t.Fatalf("unexpected players: %+v", mfA.Players)
	}
}

func TestCreateRoom_Rejections(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.CreateRoom(matchmaking.Party{UserID: "u"}, matchmaking.Party{UserID: "u"}); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	reg.Close()
	if _, err := reg.CreateRoom(matchmaking.Party{UserID: "a"}, matchmaking.Party{UserID: "b"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRouteMove_RevealOrdering(t *testing.T) {
	reveal := 40 * time.Millisecond
	f := newFixture(t, reveal)
	f.drainMatchFound(t)

	start := time.Now()
	f.move(t, f.a, 4)
	for _, p := range []*fakePeer{f.a, f.b} {
		first := p.next(t)
		mm := first.Data.(arenadto.MoveMade)
		if first.Type != arenadto.TypeMoveMade || mm.CurrentPlayer != "alice" {
			t.Fatalf("first broadcast must name the mover: %+v", first)
		}
		if mm.Board[4] == nil || *mm.Board[4] != "alice" || mm.Board[0] != nil {
			t.Fatalf("unexpected board: %+v", mm.Board)
		}
		second := p.next(t)
		if second.Type != arenadto.TypeMoveMade || second.Data.(arenadto.MoveMade).CurrentPlayer != "bob" {
			t.Fatalf("second broadcast must name the next player: %+v", second)
		}
	}
	if elapsed := time.Since(start); elapsed < reveal {
		t.Fatalf("turn change revealed after %v, want ≥ %v", elapsed, reveal)
	}
}

func TestRouteMove_WrongTurnBroadcastsNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.drainMatchFound(t)

	if err := f.reg.RouteMove(context.Background(), f.room.ID, f.b.id, 0); !errors.Is(err, board.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if err := f.reg.RouteMove(context.Background(), f.room.ID, "stranger", 0); !errors.Is(err, board.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn for non-participant, got %v", err)
	}
	f.a.quiet(t, 50*time.Millisecond)
	f.b.quiet(t, 0)
	if st := f.room.State(); st.Turn != "ua" || len(st.Moves) != 0 {
		t.Fatalf("state changed: %+v", st)
	}
}

func TestRouteMove_SameConnectionPlaysBothSeats(t *testing.T) {
	reg := NewRegistry(WithRevealDelay(0), WithStarter(func() int { return 0 }))
	t.Cleanup(reg.Close)
	p := newFakePeer("conn-solo")
	room, err := reg.CreateRoom(
		matchmaking.Party{UserID: "ua", Pseudo: "alice", Peer: p},
		matchmaking.Party{UserID: "ub", Pseudo: "bob", Peer: p},
	)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for i := 0; i < 2; i++ {
		if ev := p.next(t); ev.Type != arenadto.TypeMatchFound {
			t.Fatalf("expected matchFound, got %s", ev.Type)
		}
	}

	for i, cell := range []int{0, 1, 3} {
		if err := reg.RouteMove(context.Background(), room.ID, p.id, cell); err != nil {
			t.Fatalf("move #%d to %d: %v", i, cell, err)
		}
		// one mover broadcast plus one turn reveal, not one per seat
		for j := 0; j < 2; j++ {
			if ev := p.next(t); ev.Type != arenadto.TypeMoveMade {
				t.Fatalf("move #%d: expected moveMade, got %s", i, ev.Type)
			}
		}
		p.quiet(t, 30*time.Millisecond)
	}
	if h := room.History("ub"); len(h) != 1 || h[0] != 1 {
		t.Fatalf("second seat history: %v", h)
	}
	if st := room.State(); st.Turn != "ub" || len(st.Moves) != 3 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestRouteMove_UnknownRoomAndInvalidCell(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.reg.RouteMove(context.Background(), "nope", f.a.id, 0); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if err := f.reg.RouteMove(context.Background(), f.room.ID, f.a.id, 9); !errors.Is(err, board.ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.reg.RouteMove(ctx, f.room.ID, f.a.id, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRouteMove_SlideKeepsThreePieces(t *testing.T) {
	f := newFixture(t, 0)
	for i, cell := range []int{0, 1, 5, 3, 7, 8} {
		p := f.a
		if i%2 == 1 {
			p = f.b
		}
		f.move(t, p, cell)
	}
	f.move(t, f.a, 2)

	if h := f.room.History("ua"); len(h) != 3 || h[0] != 5 || h[1] != 7 || h[2] != 2 {
		t.Fatalf("history after slide: %v", h)
	}
	st := f.room.State()
	if st.Board[0] != "" || st.Board[2] != "ua" || st.Status != StatusOngoing || st.Turn != "ub" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestRouteMove_WinEndsRoomAndReports(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.drainMatchFound(t)
	for i, cell := range []int{0, 3, 1, 4, 2} {
		p := f.a
		if i%2 == 1 {
			p = f.b
		}
		f.move(t, p, cell)
	}

	var last arenadto.Event
	for ev := f.b.next(t); ; ev = f.b.next(t) {
		if ev.Type == arenadto.TypeGameOver {
			last = ev
			break
		}
	}
	if last.Data.(arenadto.GameOver).Winner != "alice" {
		t.Fatalf("unexpected winner: %+v", last.Data)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("finished room still registered")
	}
	if err := f.reg.RouteMove(context.Background(), f.room.ID, f.b.id, 5); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after finish, got %v", err)
	}

	recs := f.rec.all()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	r := recs[0]
	if r.MatchID != f.room.ID || r.WinnerID != "ua" || r.Status != records.StatusCompleted || r.Source != records.SourceLive {
		t.Fatalf("unexpected record: %+v", r)
	}
	if fmt.Sprint(r.Moves) != "[0 3 1 4 2]" || len(r.Players) != 2 {
		t.Fatalf("unexpected record body: %+v", r)
	}
}

func TestDropParticipant_AbandonsWithoutRecord(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.drainMatchFound(t)
	f.move(t, f.a, 4)
	for _, p := range []*fakePeer{f.a, f.b} {
		if ev := p.next(t); ev.Type != arenadto.TypeMoveMade {
			t.Fatalf("expected immediate moveMade, got %s", ev.Type)
		}
	}

	ids := f.reg.DropParticipant(f.a.id)
	if len(ids) != 1 || ids[0] != f.room.ID {
		t.Fatalf("abandoned rooms: %v", ids)
	}
	ev := f.b.next(t)
	if ev.Type != arenadto.TypeOpponentLeft || ev.Data.(arenadto.OpponentLeft).RoomID != f.room.ID {
		t.Fatalf("expected opponentLeft, got %+v", ev)
	}
	f.b.quiet(t, 50*time.Millisecond)
	f.a.quiet(t, 0)

	if f.reg.Len() != 0 || f.room.State().Status != StatusAbandoned {
		t.Fatalf("room not abandoned")
	}
	if err := f.reg.RouteMove(context.Background(), f.room.ID, f.b.id, 0); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if n := len(f.rec.all()); n != 0 {
		t.Fatalf("abandoned room reported %d records", n)
	}
	if again := f.reg.DropParticipant(f.a.id); len(again) != 0 {
		t.Fatalf("second drop must be a no-op: %v", again)
	}
}

func TestRouteMove_ConcurrentMovesOneAccepted(t *testing.T) {
	f := newFixture(t, 0)
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for cell := 0; cell < board.Cells; cell++ {
		wg.Add(1)
		go func(cell int) {
			defer wg.Done()
			if err := f.reg.RouteMove(context.Background(), f.room.ID, f.a.id, cell); err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, board.ErrNotYourTurn) {
				t.Errorf("unexpected error: %v", err)
			}
		}(cell)
	}
	wg.Wait()
	if accepted.Load() != 1 {
		t.Fatalf("accepted %d concurrent moves", accepted.Load())
	}
	if st := f.room.State(); len(st.Moves) != 1 || st.Turn != "ub" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestRegistry_RoomsRunIndependently(t *testing.T) {
	reg := NewRegistry(WithRevealDelay(0), WithStarter(func() int { return 0 }))
	defer reg.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		a, b := newFakePeer(fmt.Sprintf("a%d", i)), newFakePeer(fmt.Sprintf("b%d", i))
		room, err := reg.CreateRoom(
			matchmaking.Party{UserID: "ua" + a.id, Peer: a},
			matchmaking.Party{UserID: "ub" + b.id, Peer: b},
		)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j, cell := range []int{0, 3, 1, 4, 2} {
				p := a
				if j%2 == 1 {
					p = b
				}
				if err := reg.RouteMove(context.Background(), room.ID, p.id, cell); err != nil {
					t.Errorf("room %s move %d: %v", room.ID, cell, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if reg.Len() != 0 {
		t.Fatalf("%d rooms still live", reg.Len())
	}
}
