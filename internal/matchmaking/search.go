package matchmaking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/threeslide-arena/internal/obslog"
	"go.uber.org/zap"
)

// waiter is one searching requester and its scheduled retry.
type waiter struct {
	party  Party
	match  *Match
	rng    int
	ticks  int
	timer  *time.Timer
	cancel context.CancelCauseFunc
	done   chan *Match
	// stopped is the cancellation token; a timer firing after stop is a no-op.
	stopped bool
}

// Searcher is the poll-path matchmaker. A requester either joins a waiting
// match within its rating range or opens its own and keeps widening the range
// until paired, cancelled, or the searcher closes.
type Searcher struct {
	mu      sync.Mutex
	policy  RangePolicy
	waiting []*waiter
	byUser  map[string]*waiter
	closed  bool

	onPaired func(Match)
}

type SearcherOption func(*Searcher)

// WithPairedHook registers fn to receive every newly formed match. fn runs
// outside the searcher lock.
func WithPairedHook(fn func(Match)) SearcherOption {
	return func(s *Searcher) { s.onPaired = fn }
}

func NewSearcher(policy RangePolicy, opts ...SearcherOption) *Searcher {
	s := &Searcher{policy: policy.normalized(), byUser: make(map[string]*waiter)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find blocks until p is paired. Cancelling ctx stops the search and removes p
// from the waiting set.
func (s *Searcher) Find(ctx context.Context, p Party) (*Match, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return nil, ErrInvalidParty
	}
	if p.PartyID == "" {
		p.PartyID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	w := &waiter{party: p, rng: s.policy.Initial, cancel: cancel, done: make(chan *Match, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := s.byUser[p.UserID]; dup {
		s.mu.Unlock()
		return nil, ErrAlreadySearching
	}
	if m := s.pairLocked(w); m != nil {
		s.mu.Unlock()
		s.notify(m)
		return m, nil
	}
	now := time.Now()
	w.match = &Match{
		ID:        uuid.NewString(),
		Players:   []MatchPlayer{{UserID: p.UserID, Pseudo: p.Pseudo, Rating: p.Rating}},
		Status:    StatusWaiting,
		Range:     w.rng,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.waiting = append(s.waiting, w)
	s.byUser[p.UserID] = w
	s.scheduleLocked(w)
	s.mu.Unlock()
	obslog.L().Info("search_open", zap.String("user_id", p.UserID), zap.Int("rating", p.Rating), zap.Int("range", w.rng))

	select {
	case m := <-w.done:
		return m, nil
	case <-wctx.Done():
	}

	s.mu.Lock()
	s.removeLocked(w)
	s.mu.Unlock()
	// a pairing may have landed between cancellation and removal
	select {
	case m := <-w.done:
		return m, nil
	default:
	}
	cause := context.Cause(wctx)
	if err := ctx.Err(); err != nil {
		cause = err
	}
	obslog.L().Info("search_stop", zap.String("user_id", p.UserID), zap.Int("range", w.rng), zap.NamedError("cause", cause))
	return nil, cause
}

// Leave cancels the search of userID. It is a no-op when userID is not searching.
func (s *Searcher) Leave(userID string) bool {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	w, ok := s.byUser[userID]
	if ok {
		s.removeLocked(w)
	}
	s.mu.Unlock()
	if ok {
		w.cancel(ErrLeft)
	}
	return ok
}

// Close stops every pending search.
func (s *Searcher) Close() {
	s.mu.Lock()
	s.closed = true
	list := s.waiting
	s.waiting = nil
	s.byUser = make(map[string]*waiter)
	for _, w := range list {
		s.stopLocked(w)
	}
	s.mu.Unlock()
	for _, w := range list {
		w.cancel(ErrClosed)
	}
}

// Searching returns the number of requesters currently waiting.
func (s *Searcher) Searching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// WaitingMatches returns snapshots of every open match in arrival order.
func (s *Searcher) WaitingMatches() []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Match, 0, len(s.waiting))
	for _, w := range s.waiting {
		out = append(out, *w.match.clone())
	}
	return out
}

func (s *Searcher) scheduleLocked(w *waiter) {
	w.timer = time.AfterFunc(s.policy.Delay, func() { s.tick(w) })
}

// tick widens w's range and retries the scan.
func (s *Searcher) tick(w *waiter) {
	s.mu.Lock()
	if w.stopped {
		s.mu.Unlock()
		return
	}
	w.ticks++
	w.rng = s.policy.At(w.ticks)
	w.match.Range = w.rng
	obslog.L().Info("search_expand", zap.String("user_id", w.party.UserID), zap.Int("range", w.rng), zap.Int("tick", w.ticks))
	m := s.pairLocked(w)
	if m == nil {
		s.scheduleLocked(w)
	}
	s.mu.Unlock()
	if m != nil {
		s.notify(m)
	}
}

// pairLocked scans the waiting matches in arrival order for the first one
// whose owner is within w's range. On success both waiters are removed and
// stopped in the same critical section and the joined match is returned.
func (s *Searcher) pairLocked(w *waiter) *Match {
	for _, cand := range s.waiting {
		if cand == w || cand.party.UserID == w.party.UserID {
			continue
		}
		if !WithinRange(w.party.Rating, cand.party.Rating, w.rng) {
			continue
		}
		s.removeLocked(cand)
		s.removeLocked(w)

		m := cand.match
		m.Players = append(m.Players, MatchPlayer{UserID: w.party.UserID, Pseudo: w.party.Pseudo, Rating: w.party.Rating})
		m.Status = StatusOngoing
		m.Range = w.rng
		m.UpdatedAt = time.Now()

		cand.done <- m.clone()
		if w.match != nil {
			// w had its own open match; it is discarded in favour of the older one
			w.done <- m.clone()
		}
		obslog.L().Info("search_pair",
			zap.String("match_id", m.ID),
			zap.String("owner", cand.party.UserID),
			zap.String("joiner", w.party.UserID),
			zap.Int("range", w.rng),
		)
		return m.clone()
	}
	return nil
}

func (s *Searcher) removeLocked(w *waiter) {
	s.stopLocked(w)
	if cur, ok := s.byUser[w.party.UserID]; ok && cur == w {
		delete(s.byUser, w.party.UserID)
	}
	for i, x := range s.waiting {
		if x == w {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			break
		}
	}
}

func (s *Searcher) stopLocked(w *waiter) {
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (s *Searcher) notify(m *Match) {
	if s.onPaired != nil {
		s.onPaired(*m)
	}
}
