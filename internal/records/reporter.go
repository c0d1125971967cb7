package records

import (
	"context"
	"sync"
	"time"

	"github.com/park285/threeslide-arena/internal/obslog"
	"go.uber.org/zap"
)

const defaultPersistTimeout = 5 * time.Second

// Reporter saves records in the background. A failed save is logged and
// never surfaces to the caller.
type Reporter struct {
	store   Store
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewReporter(store Store, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	return &Reporter{store: store, timeout: timeout}
}

// Report schedules rec for saving and returns immediately.
func (r *Reporter) Report(rec MatchRecord) {
	if r == nil || r.store == nil {
		return
	}
	c := rec.clone()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.SaveMatch(ctx, c); err != nil {
			obslog.L().Error("match_persist_error",
				zap.String("match_id", c.MatchID),
				zap.String("status", string(c.Status)),
				zap.String("source", string(c.Source)),
				zap.Error(err),
			)
			return
		}
		obslog.L().Debug("match_persisted", zap.String("match_id", c.MatchID), zap.String("status", string(c.Status)))
	}()
}

// Wait blocks until every scheduled save finished or ctx is done.
func (r *Reporter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
