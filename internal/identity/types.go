package identity

import "errors"

// DefaultRating is assigned when the provider returns no rating.
const DefaultRating = 1000

// User is a provider account as seen by matchmaking.
type User struct {
	ID     string `json:"id"`
	Pseudo string `json:"pseudo"`
	Rating int    `json:"elo"`
}

// userWire accepts both "id" and "_id" spellings.
type userWire struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
	Pseudo  string `json:"pseudo"`
	Elo     *int   `json:"elo"`
}

func (w userWire) user() *User {
	u := &User{ID: w.ID, Pseudo: w.Pseudo, Rating: DefaultRating}
	if u.ID == "" {
		u.ID = w.MongoID
	}
	if w.Elo != nil {
		u.Rating = *w.Elo
	}
	return u
}

var (
	ErrAuthentication      = errors.New("authentication failure")
	ErrUnknownUser         = errors.New("unknown user")
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
)
