package rating

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/threeslide-arena/internal/identity"
	"github.com/redis/go-redis/v9"
)

type fakeProvider struct {
	mu     sync.Mutex
	users  map[string]*identity.User
	tokens map[string]string
	calls  int
	down   bool
}

func (f *fakeProvider) Me(ctx context.Context, token string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return nil, identity.ErrUpstreamUnavailable
	}
	id, ok := f.tokens[token]
	if !ok {
		return nil, identity.ErrAuthentication
	}
	c := *f.users[id]
	return &c, nil
}

func (f *fakeProvider) User(ctx context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return nil, identity.ErrUpstreamUnavailable
	}
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrUnknownUser
	}
	c := *u
	return &c, nil
}

func (f *fakeProvider) setRating(id string, r int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id].Rating = r
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newProvider() *fakeProvider {
	return &fakeProvider{
		users:  map[string]*identity.User{"u1": {ID: "u1", Pseudo: "alice", Rating: 1000}},
		tokens: map[string]string{"tok": "u1"},
	}
}

func newDirectory(t *testing.T, p Provider) (*Directory, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewDirectory(p, rdb, time.Minute), mr
}

func TestRating_ReadThrough(t *testing.T) {
	p := newProvider()
	d, mr := newDirectory(t, p)
	ctx := context.Background()

	r, err := d.Rating(ctx, "u1")
	if err != nil || r != 1000 {
		t.Fatalf("rating: %d %v", r, err)
	}
	if !mr.Exists("rating:user:u1") {
		t.Fatalf("cache entry missing")
	}
	if ttl := mr.TTL("rating:user:u1"); ttl != time.Minute {
		t.Fatalf("ttl=%v", ttl)
	}

	p.setRating("u1", 1100)
	if r, _ := d.Rating(ctx, "u1"); r != 1000 || p.callCount() != 1 {
		t.Fatalf("expected cached 1000 with one provider call, got %d after %d calls", r, p.callCount())
	}

	mr.FastForward(2 * time.Minute)
	if r, _ := d.Rating(ctx, "u1"); r != 1100 {
		t.Fatalf("expected refreshed rating after ttl, got %d", r)
	}

	p.setRating("u1", 1200)
	if err := d.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if r, _ := d.Rating(ctx, "u1"); r != 1200 {
		t.Fatalf("expected 1200 after invalidate, got %d", r)
	}
}

func TestAuthenticate_RefreshesCache(t *testing.T) {
	p := newProvider()
	d, mr := newDirectory(t, p)
	ctx := context.Background()

	u, err := d.Authenticate(ctx, "tok")
	if err != nil || u.ID != "u1" {
		t.Fatalf("authenticate: %+v %v", u, err)
	}
	if !mr.Exists("rating:user:u1") {
		t.Fatalf("authenticate must cache the user")
	}
	if _, err := d.Authenticate(ctx, "nope"); !errors.Is(err, identity.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if _, err := d.Rating(ctx, "ghost"); !errors.Is(err, identity.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestRating_RedisDownFallsBackToProvider(t *testing.T) {
	p := newProvider()
	d, mr := newDirectory(t, p)
	mr.Close()

	r, err := d.Rating(context.Background(), "u1")
	if err != nil || r != 1000 {
		t.Fatalf("expected provider fallback, got %d %v", r, err)
	}

	p.mu.Lock()
	p.down = true
	p.mu.Unlock()
	if _, err := d.Rating(context.Background(), "u1"); !errors.Is(err, identity.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestDirectory_PassThroughWithoutRedis(t *testing.T) {
	p := newProvider()
	d := NewDirectory(p, nil, 0)
	for i := 0; i < 3; i++ {
		if _, err := d.Rating(context.Background(), "u1"); err != nil {
			t.Fatalf("rating: %v", err)
		}
	}
	if p.callCount() != 3 {
		t.Fatalf("pass-through must hit the provider each time, calls=%d", p.callCount())
	}
	if err := d.Invalidate(context.Background(), "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}
