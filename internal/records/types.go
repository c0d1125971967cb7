package records

import (
	"context"
	"errors"
	"time"
)

// Source tells which matchmaking path produced a record.
type Source string

const (
	SourceLive   Source = "live"
	SourceSearch Source = "search"
)

// Status mirrors the match lifecycle.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
)

type Player struct {
	UserID string `json:"id"`
	Pseudo string `json:"pseudo,omitempty"`
	Rating int    `json:"elo"`
}

// MatchRecord is the persisted state of one match.
type MatchRecord struct {
	MatchID    string    `json:"match_id"`
	Players    []Player  `json:"players"`
	Status     Status    `json:"status"`
	WinnerID   string    `json:"winner,omitempty"`
	Source     Source    `json:"source"`
	Moves      []int     `json:"moves"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// HasPlayer reports whether userID took part in the match.
func (r *MatchRecord) HasPlayer(userID string) bool {
	for _, p := range r.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (r *MatchRecord) clone() *MatchRecord {
	c := *r
	c.Players = append([]Player(nil), r.Players...)
	c.Moves = append([]int(nil), r.Moves...)
	return &c
}

var ErrInvalidRecord = errors.New("invalid match record")

// Store persists match records. Get-style methods return (nil, nil) when the
// record does not exist.
type Store interface {
	SaveMatch(ctx context.Context, rec *MatchRecord) error
	GetMatch(ctx context.Context, matchID string) (*MatchRecord, error)
	RecentByUser(ctx context.Context, userID string, limit int) ([]*MatchRecord, error)
}
