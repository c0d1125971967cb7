package matchmaking

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/threeslide-arena/internal/obslog"
	"go.uber.org/zap"
)

// PairFunc turns two dequeued parties into a session. It runs while the queue
// lock is held, so no other enqueue can observe the pair half-removed.
type PairFunc func(a, b Party) error

// Queue is the real-time FIFO queue. Pairing is first-come: skill is not
// checked on this path.
type Queue struct {
	mu      sync.Mutex
	waiting []*Party
	byUser  map[string]*Party
	pair    PairFunc
}

func NewQueue(pair PairFunc) *Queue {
	return &Queue{byUser: make(map[string]*Party), pair: pair}
}

// Enqueue adds p and, when two or more parties are waiting, pairs the two
// earliest arrivals. It reports whether a pairing happened.
func (q *Queue) Enqueue(p Party) (bool, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return false, ErrInvalidParty
	}
	if p.PartyID == "" {
		p.PartyID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.byUser[p.UserID]; dup {
		return false, ErrAlreadyQueued
	}
	party := p
	q.waiting = append(q.waiting, &party)
	q.byUser[party.UserID] = &party
	obslog.L().Info("queue_join", zap.String("user_id", party.UserID), zap.Int("waiting", len(q.waiting)))

	if len(q.waiting) < 2 || q.pair == nil {
		return false, nil
	}

	a, b := q.waiting[0], q.waiting[1]
	q.waiting = q.waiting[2:]
	delete(q.byUser, a.UserID)
	delete(q.byUser, b.UserID)

	if err := q.pair(*a, *b); err != nil {
		// put both back at the head in arrival order
		q.waiting = append([]*Party{a, b}, q.waiting...)
		q.byUser[a.UserID] = a
		q.byUser[b.UserID] = b
		obslog.L().Warn("queue_pair_error", zap.String("a", a.UserID), zap.String("b", b.UserID), zap.Error(err))
		return false, err
	}
	obslog.L().Info("queue_pair", zap.String("a", a.UserID), zap.String("b", b.UserID), zap.Int("waiting", len(q.waiting)))
	return true, nil
}

// Remove deletes the waiting party of userID. Removing an absent user is a no-op.
func (q *Queue) Remove(userID string) bool {
	userID = strings.TrimSpace(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.byUser[userID]
	if !ok {
		return false
	}
	q.removeLocked(p)
	obslog.L().Info("queue_leave", zap.String("user_id", userID))
	return true
}

func (q *Queue) removeLocked(p *Party) {
	delete(q.byUser, p.UserID)
	for i, w := range q.waiting {
		if w == p {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
}

// RemoveIf deletes the waiting party of userID only when it was queued
// through peerID. The check and the removal share one critical section.
func (q *Queue) RemoveIf(userID, peerID string) bool {
	userID = strings.TrimSpace(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.byUser[userID]
	if !ok || p.Peer == nil || p.Peer.ID() != peerID {
		return false
	}
	q.removeLocked(p)
	obslog.L().Info("queue_leave", zap.String("user_id", userID), zap.String("peer_id", peerID))
	return true
}

// RemovePeer drops every waiting party delivered through peerID.
func (q *Queue) RemovePeer(peerID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.waiting[:0]
	removed := 0
	for _, w := range q.waiting {
		if w.Peer != nil && w.Peer.ID() == peerID {
			delete(q.byUser, w.UserID)
			removed++
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(q.waiting); i++ {
		q.waiting[i] = nil
	}
	q.waiting = kept
	return removed
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Waiting returns a snapshot in arrival order.
func (q *Queue) Waiting() []Party {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Party, 0, len(q.waiting))
	for _, w := range q.waiting {
		out = append(out, *w)
	}
	return out
}
