package matchmaking

import (
	"context"
	"time"

	"github.com/park285/threeslide-arena/pkg/arenadto"
)

// Peer delivers events to one connected participant. Parties are compared by
// user id, never by peer identity.
type Peer interface {
	ID() string
	Deliver(ctx context.Context, ev arenadto.Event) error
}

// Party is a single user waiting to be matched.
type Party struct {
	PartyID  string
	UserID   string
	Pseudo   string
	Rating   int
	JoinedAt time.Time
	Peer     Peer // nil on the poll path
}

// MatchStatus mirrors the persisted match lifecycle.
type MatchStatus string

const (
	StatusWaiting   MatchStatus = "waiting"
	StatusOngoing   MatchStatus = "ongoing"
	StatusCompleted MatchStatus = "completed"
)

type MatchPlayer struct {
	UserID string `json:"id"`
	Pseudo string `json:"pseudo,omitempty"`
	Rating int    `json:"elo"`
}

// Match is the poll-path match document returned to searching callers.
type Match struct {
	ID        string        `json:"_id"`
	Players   []MatchPlayer `json:"players"`
	Status    MatchStatus   `json:"status"`
	Winner    string        `json:"winner,omitempty"`
	Range     int           `json:"range"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (m *Match) clone() *Match {
	c := *m
	c.Players = append([]MatchPlayer(nil), m.Players...)
	return &c
}

// Errors
var (
	ErrInvalidParty     = errf("invalid party")
	ErrAlreadyQueued    = errf("user already waiting in queue")
	ErrAlreadySearching = errf("user already searching")
	ErrLeft             = errf("search cancelled by leave")
	ErrClosed           = errf("matchmaking closed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
