package strategy

// Profile is an ordered (possibly adaptive) composition of strategies
// executed as one Benchmarker run (spec section 4.1, glossary).
type Profile interface {
	// Next returns the next Strategy to run, or ok=false once the profile
	// is exhausted.
	Next() (Strategy, bool)

	// CompletedStrategy is called by the Benchmarker after a strategy's
	// run finishes, with the observed successful-request rate and mean
	// concurrency from the aggregator's compiled summary, so adaptive
	// profiles can choose their next strategy (spec section 4.6).
	CompletedStrategy(observedRate, observedConcurrency float64)
}

// StaticProfile runs a fixed, pre-built list of strategies in order.
type StaticProfile struct {
	Strategies []Strategy
	index      int
}

func (p *StaticProfile) Next() (Strategy, bool) {
	if p.index >= len(p.Strategies) {
		return nil, false
	}
	s := p.Strategies[p.index]
	p.index++
	return s, true
}

func (p *StaticProfile) CompletedStrategy(float64, float64) {}

// SweepProfile composes one Synchronous run, one Throughput run, then
// Size-2 AsyncConstant runs whose rates interpolate between the observed
// synchronous rate and the observed throughput rate (spec section 4.1).
type SweepProfile struct {
	Size               int
	MaxWorkerProcesses int
	MaxConcurrency     int

	produced       int
	syncRate       float64
	throughputRate float64
}

// NewSweepProfile builds a Sweep of the given size; size must be >= 2.
func NewSweepProfile(size, maxWorkerProcesses, maxConcurrency int) *SweepProfile {
	if size < 2 {
		size = 2
	}
	return &SweepProfile{Size: size, MaxWorkerProcesses: maxWorkerProcesses, MaxConcurrency: maxConcurrency}
}

func (s *SweepProfile) Next() (Strategy, bool) {
	if s.produced >= s.Size {
		return nil, false
	}
	idx := s.produced
	s.produced++

	switch {
	case idx == 0:
		return Synchronous{}, true
	case idx == 1:
		return Throughput{MaxWorkerProcesses: s.MaxWorkerProcesses, MaxConcurrency: s.MaxConcurrency}, true
	default:
		denom := float64(s.Size - 1)
		frac := float64(idx-1) / denom
		rate := s.syncRate + frac*(s.throughputRate-s.syncRate)
		if rate <= 0 {
			rate = 1
		}
		return &AsyncConstant{
			Rate:               rate,
			MaxWorkerProcesses: s.MaxWorkerProcesses,
			MaxConcurrency:     s.MaxConcurrency,
		}, true
	}
}

func (s *SweepProfile) CompletedStrategy(observedRate, _ float64) {
	switch s.produced {
	case 1:
		s.syncRate = observedRate
	case 2:
		s.throughputRate = observedRate
	}
}
