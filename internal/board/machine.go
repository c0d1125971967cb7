// Package board implements the sliding three-piece tic-tac-toe rules.
//
// Each player places up to three pieces. Once a player has three pieces on the
// board, every further move slides that player's oldest-placed piece to the
// chosen empty cell. Moves carry only the destination cell.
package board

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	Cells     = 9
	MaxPieces = 3
)

var (
	ErrNotYourTurn = errors.New("not your turn")
	ErrInvalidMove = errors.New("invalid move")
	ErrGameOver    = errors.New("game is over")

	// ErrSourceNotOwned wraps ErrInvalidMove for a slide whose oldest cell is
	// no longer held by the mover.
	ErrSourceNotOwned = fmt.Errorf("%w: oldest piece not owned", ErrInvalidMove)
)

// lines lists every winning combination.
var lines = [8][3]int{
	{0, 1, 2}, // rows
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6}, // columns
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8}, // diagonals
	{2, 4, 6},
}

// Board holds a player id per cell; "" is empty.
type Board [Cells]string

// Outcome describes the machine after a successful Apply.
type Outcome struct {
	Player   string // mover
	From     int    // -1 during placement
	To       int
	Next     string // turn holder after the move; "" when terminal
	Terminal bool
	Winner   string
}

// Machine is not safe for concurrent use; the owning room serialises access.
type Machine struct {
	players  [2]string
	cells    Board
	history  [2][]int
	turn     int
	terminal bool
	winner   string
	moves    []int
}

// New creates a machine where starter (0 or 1) moves first.
func New(first, second string, starter int) *Machine {
	return &Machine{
		players: [2]string{first, second},
		turn:    starter & 1,
		history: [2][]int{make([]int, 0, MaxPieces), make([]int, 0, MaxPieces)},
	}
}

// NewRandom creates a machine with a randomly chosen starter.
func NewRandom(first, second string) *Machine {
	return New(first, second, RandomSeat())
}

// RandomSeat returns 0 or 1 using crypto/rand.
func RandomSeat() int {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil {
		return int(n.Int64())
	}
	return 0
}

// Apply validates and applies a move to target for player.
// On error the machine is unchanged.
func (m *Machine) Apply(player string, target int) (Outcome, error) {
	if m.terminal {
		return Outcome{}, ErrGameOver
	}
	seat := m.turn
	if player != m.players[seat] {
		return Outcome{}, ErrNotYourTurn
	}
	if target < 0 || target >= Cells || m.cells[target] != "" {
		return Outcome{}, ErrInvalidMove
	}

	from := -1
	hist := m.history[seat]
	if len(hist) >= MaxPieces {
		from = hist[0]
		if m.cells[from] != player {
			return Outcome{}, ErrSourceNotOwned
		}
		m.cells[from] = ""
		hist = append(hist[:0], hist[1:]...)
	}
	m.cells[target] = player
	m.history[seat] = append(hist, target)
	m.moves = append(m.moves, target)

	out := Outcome{Player: player, From: from, To: target}
	if w := winnerOf(m.cells); w != "" {
		m.terminal = true
		m.winner = w
		out.Terminal = true
		out.Winner = w
		return out, nil
	}
	m.turn = 1 - seat
	out.Next = m.players[m.turn]
	return out, nil
}

func winnerOf(b Board) string {
	for _, l := range lines {
		a := b[l[0]]
		if a != "" && a == b[l[1]] && a == b[l[2]] {
			return a
		}
	}
	return ""
}

// Winner reports the owner of a completed line on b, or "".
func Winner(b Board) string { return winnerOf(b) }

func (m *Machine) Board() Board { return m.cells }

func (m *Machine) Players() [2]string { return m.players }

// TurnIndex is the seat (0 or 1) of the current turn holder.
func (m *Machine) TurnIndex() int { return m.turn }

// Turn is the player id of the current turn holder.
func (m *Machine) Turn() string { return m.players[m.turn] }

func (m *Machine) Terminal() bool { return m.terminal }

func (m *Machine) Winner() string { return m.winner }

// History returns a copy of the cells player occupies, oldest first.
func (m *Machine) History(player string) []int {
	for i, p := range m.players {
		if p == player {
			return append([]int(nil), m.history[i]...)
		}
	}
	return nil
}

// Moves returns every accepted destination cell in order.
func (m *Machine) Moves() []int { return append([]int(nil), m.moves...) }

// Pieces counts the cells owned by player.
func (m *Machine) Pieces(player string) int {
	n := 0
	for _, c := range m.cells {
		if c == player {
			n++
		}
	}
	return n
}
