package matchmaking

import "time"

// WithinRange reports whether two ratings are at most r apart.
func WithinRange(a, b, r int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= r
}

// RangePolicy widens the accepted rating gap by Step after every Delay.
type RangePolicy struct {
	Initial int
	Step    int
	Delay   time.Duration
}

func DefaultRangePolicy() RangePolicy {
	return RangePolicy{Initial: 50, Step: 50, Delay: 10 * time.Second}
}

// At returns the range after tick widenings. There is no upper bound.
func (p RangePolicy) At(tick int) int {
	if tick < 0 {
		tick = 0
	}
	return p.Initial + tick*p.Step
}

func (p RangePolicy) normalized() RangePolicy {
	d := DefaultRangePolicy()
	if p.Initial < 0 {
		p.Initial = d.Initial
	}
	if p.Step <= 0 {
		p.Step = d.Step
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	return p
}
