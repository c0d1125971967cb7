package arenadto

import "encoding/json"

// Event types exchanged over the real-time channel.
const (
	TypeJoinQueue  = "joinQueue"
	TypeLeaveQueue = "leaveQueue"
	TypeMakeMove   = "makeMove"

	TypeQueued       = "queued"
	TypeMatchFound   = "matchFound"
	TypeMoveMade     = "moveMade"
	TypeGameOver     = "gameOver"
	TypeInvalidMove  = "invalidMove"
	TypeOpponentLeft = "opponentLeft"
	TypeError        = "error"
)

// Event is the outbound envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is the inbound envelope; Data is decoded per Type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinQueue struct {
	UserID string `json:"userId"`
	Pseudo string `json:"pseudo"`
	Rating int    `json:"rating"`
}

type LeaveQueue struct {
	UserID string `json:"userId"`
}

// MakeMove carries the target cell; a nil ToIndex means the field was absent.
type MakeMove struct {
	RoomID  string `json:"roomId"`
	ToIndex *int   `json:"toIndex"`
}

type Player struct {
	ID     string `json:"_id"`
	Pseudo string `json:"pseudo"`
	Rating int    `json:"elo"`
}

type Queued struct {
	UserID  string `json:"userId"`
	Waiting int    `json:"waiting"`
}

type MatchFound struct {
	RoomID        string   `json:"roomId"`
	Players       []Player `json:"players"`
	CurrentPlayer string   `json:"currentPlayer"`
	Opponent      string   `json:"opponent"`
}

// MoveMade carries the board as pseudo-or-null per cell.
type MoveMade struct {
	RoomID        string    `json:"roomId"`
	Board         []*string `json:"board"`
	CurrentPlayer string    `json:"currentPlayer"`
}

type GameOver struct {
	RoomID string `json:"roomId"`
	Winner string `json:"winner"`
}

type OpponentLeft struct {
	RoomID string `json:"roomId"`
}

// Message is the error body shared by REST responses and socket errors.
type Message struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
