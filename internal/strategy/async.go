package strategy

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// AsyncConstant dispatches at a fixed rate r (spec section 4.1):
// t0, t0+1/r, t0+2/r, .... With InitialBurst b > 0 the first b entries are
// all t0 and the entries after them continue at t0+1/r, t0+2/r, ..., so the
// pool fills immediately before settling into steady-state pacing.
type AsyncConstant struct {
	Rate               float64
	InitialBurst       int
	MaxWorkerProcesses int
	MaxConcurrency     int

	t0      time.Time
	emitted int
	started bool
}

func (a *AsyncConstant) Label() string { return fmt.Sprintf("async_constant@%.2f", a.Rate) }

func (a *AsyncConstant) Next() (time.Time, bool) {
	if !a.started {
		a.t0 = time.Now()
		a.started = true
	}
	n := a.emitted
	a.emitted++
	if n < a.InitialBurst {
		return a.t0, true
	}
	steps := n
	if a.InitialBurst > 0 {
		steps = n - a.InitialBurst + 1
	}
	offset := time.Duration(float64(steps) / a.Rate * float64(time.Second))
	return a.t0.Add(offset), true
}

func (a *AsyncConstant) Mode() Mode          { return Async }
func (a *AsyncConstant) ProcessesLimit() int { return availableCPUs(a.MaxWorkerProcesses) }
func (a *AsyncConstant) ProcessingRequestsLimit() (int, bool) {
	if a.MaxConcurrency > 0 {
		return a.MaxConcurrency, false
	}
	return 0, true
}
func (a *AsyncConstant) QueuedRequestsLimit() int {
	limit, unbounded := a.ProcessingRequestsLimit()
	if unbounded {
		limit = a.ProcessesLimit() * 8
	}
	return defaultQueuedLimit(limit, a.ProcessesLimit())
}

// AsyncPoisson dispatches with exponentially distributed inter-arrival
// times around rate r, modeling a Poisson process (spec section 4.1):
// t0, t0+d1, t0+d1+d2, ... where di ~ Exp(r).
type AsyncPoisson struct {
	Rate               float64
	MaxWorkerProcesses int
	MaxConcurrency     int
	Seed               int64

	rng     *rand.Rand
	current time.Time
	started bool
}

func (p *AsyncPoisson) Label() string { return fmt.Sprintf("async_poisson@%.2f", p.Rate) }

func (p *AsyncPoisson) Next() (time.Time, bool) {
	if !p.started {
		p.current = time.Now()
		p.started = true
		seed := p.Seed
		if seed == 0 {
			seed = p.current.UnixNano()
		}
		p.rng = rand.New(rand.NewSource(seed))
		return p.current, true
	}
	// Exp(rate): -ln(U)/rate, U ~ Uniform(0,1).
	u := p.rng.Float64()
	for u == 0 {
		u = p.rng.Float64()
	}
	delay := time.Duration(-math.Log(u) / p.Rate * float64(time.Second))
	p.current = p.current.Add(delay)
	return p.current, true
}

func (p *AsyncPoisson) Mode() Mode          { return Async }
func (p *AsyncPoisson) ProcessesLimit() int { return availableCPUs(p.MaxWorkerProcesses) }
func (p *AsyncPoisson) ProcessingRequestsLimit() (int, bool) {
	if p.MaxConcurrency > 0 {
		return p.MaxConcurrency, false
	}
	return 0, true
}
func (p *AsyncPoisson) QueuedRequestsLimit() int {
	limit, unbounded := p.ProcessingRequestsLimit()
	if unbounded {
		limit = p.ProcessesLimit() * 8
	}
	return defaultQueuedLimit(limit, p.ProcessesLimit())
}
