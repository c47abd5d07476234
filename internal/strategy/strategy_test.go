package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronous_DispatchesASAPSingleStream(t *testing.T) {
	s := Synchronous{}
	assert.Equal(t, Sync, s.Mode())
	assert.Equal(t, 1, s.ProcessesLimit())
	limit, unbounded := s.ProcessingRequestsLimit()
	assert.Equal(t, 1, limit)
	assert.False(t, unbounded)

	ts, ok := s.Next()
	assert.True(t, ok)
	assert.True(t, IsASAP(ts))
}

func TestConcurrent_LimitsMatchStreamCount(t *testing.T) {
	c := Concurrent{Streams: 4}
	assert.Equal(t, 4, c.ProcessesLimit())
	limit, unbounded := c.ProcessingRequestsLimit()
	assert.Equal(t, 4, limit)
	assert.False(t, unbounded)
}

func TestThroughput_UnboundedConcurrencyWithoutCap(t *testing.T) {
	th := Throughput{}
	_, unbounded := th.ProcessingRequestsLimit()
	assert.True(t, unbounded)
	assert.GreaterOrEqual(t, th.ProcessesLimit(), 1)
}

func TestThroughput_RespectsMaxConcurrency(t *testing.T) {
	th := Throughput{MaxConcurrency: 16}
	limit, unbounded := th.ProcessingRequestsLimit()
	assert.Equal(t, 16, limit)
	assert.False(t, unbounded)
}

func TestAsyncConstant_InitialBurstCollapsesToT0(t *testing.T) {
	a := &AsyncConstant{Rate: 10, InitialBurst: 3}
	first, _ := a.Next()
	second, _ := a.Next()
	third, _ := a.Next()
	fourth, _ := a.Next()

	assert.True(t, first.Equal(second))
	assert.True(t, second.Equal(third))
	assert.True(t, fourth.After(third))
	assert.InDelta(t, 100*time.Millisecond, fourth.Sub(first), float64(5*time.Millisecond))
}

func TestAsyncConstant_SteadyStatePacingMatchesRate(t *testing.T) {
	a := &AsyncConstant{Rate: 5}
	t0, _ := a.Next()
	t1, _ := a.Next()
	t2, _ := a.Next()

	assert.InDelta(t, 200*time.Millisecond, t1.Sub(t0), float64(5*time.Millisecond))
	assert.InDelta(t, 400*time.Millisecond, t2.Sub(t0), float64(5*time.Millisecond))
}

func TestAsyncPoisson_MeanInterArrivalApproachesExpectedRate(t *testing.T) {
	p := &AsyncPoisson{Rate: 20, Seed: 42}

	prev, _ := p.Next()
	var total time.Duration
	const n = 2000
	for i := 0; i < n; i++ {
		next, ok := p.Next()
		assert.True(t, ok)
		assert.True(t, next.After(prev) || next.Equal(prev))
		total += next.Sub(prev)
		prev = next
	}

	meanSeconds := total.Seconds() / n
	assert.InDelta(t, 1.0/20, meanSeconds, 0.01)
}

func TestSweepProfile_InterpolatesRatesBetweenSyncAndThroughput(t *testing.T) {
	sp := NewSweepProfile(4, 0, 0)

	first, ok := sp.Next()
	assert.True(t, ok)
	assert.IsType(t, Synchronous{}, first)
	sp.CompletedStrategy(2.0, 1.0)

	second, ok := sp.Next()
	assert.True(t, ok)
	assert.IsType(t, Throughput{}, second)
	sp.CompletedStrategy(10.0, 8.0)

	third, ok := sp.Next()
	require.True(t, ok)
	ac, isAsync := third.(*AsyncConstant)
	require.True(t, isAsync)
	expectedFrac := 1.0 / 3.0
	expectedRate := 2.0 + expectedFrac*(10.0-2.0)
	assert.InDelta(t, expectedRate, ac.Rate, 1e-9)

	fourth, ok := sp.Next()
	require.True(t, ok)
	ac2 := fourth.(*AsyncConstant)
	assert.InDelta(t, 10.0, ac2.Rate, 1e-9)

	_, ok = sp.Next()
	assert.False(t, ok)
}

func TestSweepProfile_ClampsMinimumSizeToTwo(t *testing.T) {
	sp := NewSweepProfile(1, 0, 0)
	assert.Equal(t, 2, sp.Size)
}

func TestStaticProfile_RunsStrategiesInOrderThenExhausts(t *testing.T) {
	sp := &StaticProfile{Strategies: []Strategy{Synchronous{}, Concurrent{Streams: 2}}}

	first, ok := sp.Next()
	assert.True(t, ok)
	assert.Equal(t, "synchronous", first.Label())

	second, ok := sp.Next()
	assert.True(t, ok)
	assert.Equal(t, "concurrent", second.Label())

	_, ok = sp.Next()
	assert.False(t, ok)
}

func TestAsyncConstant_LabelIncludesRate(t *testing.T) {
	a := &AsyncConstant{Rate: 12.5}
	assert.Equal(t, "async_constant@12.50", a.Label())
}

func TestAsyncPoisson_NeverReturnsNonPositiveDelay(t *testing.T) {
	p := &AsyncPoisson{Rate: 100, Seed: 7}
	prev, _ := p.Next()
	for i := 0; i < 500; i++ {
		next, _ := p.Next()
		assert.False(t, math.IsNaN(float64(next.Sub(prev))))
		assert.True(t, next.After(prev))
		prev = next
	}
}
