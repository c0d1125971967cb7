package board

import (
	"errors"
	"math/rand"
	"testing"
)

func play(t *testing.T, m *Machine, moves ...int) Outcome {
	t.Helper()
	var out Outcome
	for i, cell := range moves {
		var err error
		out, err = m.Apply(m.Turn(), cell)
		if err != nil {
			t.Fatalf("move #%d to %d: %v", i, cell, err)
		}
	}
	return out
}

func TestApply_NotYourTurn(t *testing.T) {
	m := New("x", "o", 0)
	if _, err := m.Apply("o", 4); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if m.Board() != (Board{}) {
		t.Fatalf("board mutated on rejected move: %v", m.Board())
	}
	if m.Turn() != "x" {
		t.Fatalf("turn changed on rejected move")
	}
}

func TestApply_OccupiedAndOutOfRange(t *testing.T) {
	m := New("x", "o", 0)
	play(t, m, 4)
	if _, err := m.Apply("o", 4); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove on occupied cell, got %v", err)
	}
	for _, c := range []int{-1, 9, 42} {
		if _, err := m.Apply("o", c); !errors.Is(err, ErrInvalidMove) {
			t.Fatalf("cell %d: expected ErrInvalidMove, got %v", c, err)
		}
	}
	if got := m.History("o"); len(got) != 0 {
		t.Fatalf("history mutated on rejected moves: %v", got)
	}
}

func TestApply_PlacementThenSlideOldest(t *testing.T) {
	m := New("x", "o", 0)
	// x: 0,5,7  o: 2,6,3 (no line for either)
	play(t, m, 0, 2, 5, 6, 7, 3)
	if m.Pieces("x") != 3 || m.Pieces("o") != 3 {
		t.Fatalf("expected 3 pieces each, got x=%d o=%d", m.Pieces("x"), m.Pieces("o"))
	}

	out, err := m.Apply("x", 1)
	if err != nil {
		t.Fatalf("slide: %v", err)
	}
	if out.From != 0 || out.To != 1 {
		t.Fatalf("expected slide 0->1, got %d->%d", out.From, out.To)
	}
	b := m.Board()
	if b[0] != "" || b[1] != "x" {
		t.Fatalf("unexpected board after slide: %v", b)
	}
	if h := m.History("x"); len(h) != 3 || h[0] != 5 || h[1] != 7 || h[2] != 1 {
		t.Fatalf("expected history [5 7 1], got %v", h)
	}
	if out.Terminal || m.Turn() != "o" {
		t.Fatalf("expected turn to pass to o")
	}
}

// x on [0,4,8] slides its oldest piece to 1. The position is seeded directly because placing 0,4,8 in play
// already completes the diagonal.
func TestApply_SlideFromSeededDiagonal(t *testing.T) {
	m := New("x", "o", 0)
	m.cells = Board{0: "x", 4: "x", 8: "x", 2: "o", 3: "o"}
	m.history[0] = []int{0, 4, 8}
	m.history[1] = []int{2, 3}

	out, err := m.Apply("x", 1)
	if err != nil {
		t.Fatalf("slide: %v", err)
	}
	b := m.Board()
	want := Board{1: "x", 2: "o", 3: "o", 4: "x", 8: "x"}
	if b != want {
		t.Fatalf("board = %v, want %v", b, want)
	}
	if h := m.History("x"); len(h) != 3 || h[0] != 4 || h[1] != 8 || h[2] != 1 {
		t.Fatalf("expected history [4 8 1], got %v", h)
	}
	if out.Terminal {
		t.Fatalf("unexpected terminal state")
	}
}

func TestApply_SourceOwnershipMismatch(t *testing.T) {
	m := New("x", "o", 0)
	m.cells = Board{0: "o", 4: "x", 8: "x"}
	m.history[0] = []int{0, 4, 8}
	before := m.Board()
	_, err := m.Apply("x", 1)
	if !errors.Is(err, ErrInvalidMove) || !errors.Is(err, ErrSourceNotOwned) {
		t.Fatalf("expected ErrSourceNotOwned wrapping ErrInvalidMove, got %v", err)
	}
	if m.Board() != before {
		t.Fatalf("board mutated on rejected slide")
	}
	if h := m.History("x"); len(h) != 3 || h[0] != 0 {
		t.Fatalf("history mutated on rejected slide: %v", h)
	}
}

func TestApply_WinOnCompletingPlacement(t *testing.T) {
	m := New("x", "o", 0)
	out := play(t, m, 0, 3, 1, 4)
	if out.Terminal || m.Terminal() {
		t.Fatalf("terminal before the line is complete")
	}
	out = play(t, m, 2)
	if !out.Terminal || out.Winner != "x" || m.Winner() != "x" {
		t.Fatalf("expected x to win on top row, got %+v", out)
	}
	if out.Next != "" {
		t.Fatalf("terminal outcome must not name a next player")
	}
	if _, err := m.Apply("o", 5); !errors.Is(err, ErrGameOver) {
		t.Fatalf("expected ErrGameOver after win, got %v", err)
	}
}

func TestApply_WinBySlide(t *testing.T) {
	m := New("x", "o", 0)
	// x: 5,0,1  o: 3,7,6
	out := play(t, m, 5, 3, 0, 7, 1, 6)
	if out.Terminal {
		t.Fatalf("no line expected yet")
	}
	out = play(t, m, 2)
	if !out.Terminal || out.Winner != "x" || out.From != 5 {
		t.Fatalf("expected x to win by sliding 5->2, got %+v", out)
	}
}

func TestWinner_ExactlyEightLines(t *testing.T) {
	winning := 0
	for a := 0; a < Cells; a++ {
		for b := a + 1; b < Cells; b++ {
			for c := b + 1; c < Cells; c++ {
				var bd Board
				bd[a], bd[b], bd[c] = "p", "p", "p"
				if Winner(bd) == "p" {
					winning++
				}
			}
		}
	}
	if winning != 8 {
		t.Fatalf("expected exactly 8 winning triples, got %d", winning)
	}
	if Winner(Board{}) != "" {
		t.Fatalf("empty board has no winner")
	}
}

func TestRandomGames_SlideInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for game := 0; game < 200; game++ {
		m := New("x", "o", game%2)
		for ply := 0; ply < 60 && !m.Terminal(); ply++ {
			mover := m.Turn()
			before := m.Board()
			hist := m.History(mover)
			var empty []int
			for i, c := range before {
				if c == "" {
					empty = append(empty, i)
				}
			}
			target := empty[rng.Intn(len(empty))]
			out, err := m.Apply(mover, target)
			if err != nil {
				t.Fatalf("game %d ply %d: %v", game, ply, err)
			}
			after := m.Board()
			if len(hist) == MaxPieces {
				if out.From != hist[0] || after[hist[0]] != "" {
					t.Fatalf("slide did not free oldest cell %d: %+v", hist[0], out)
				}
				if m.Pieces(mover) != MaxPieces {
					t.Fatalf("piece count changed during movement phase")
				}
				changed := 0
				for i := range after {
					if after[i] != before[i] {
						changed++
					}
				}
				if changed != 2 {
					t.Fatalf("slide must touch exactly two cells, touched %d", changed)
				}
			}
			if after[target] != mover {
				t.Fatalf("target %d not occupied by mover", target)
			}
			if got := m.History(mover); len(got) != m.Pieces(mover) || len(got) > MaxPieces {
				t.Fatalf("history/piece mismatch: %v vs %d", got, m.Pieces(mover))
			}
		}
	}
}
