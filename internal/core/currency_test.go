package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"invoicehub/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedRates counts fetches and fails while err is set.
type scriptedRates struct {
	mu    sync.Mutex
	rates core.RateTable
	err   error
	calls int
}

func (s *scriptedRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rates, nil
}

func (s *scriptedRates) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type blockingRates struct{}

func (blockingRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type memorySnapshots struct {
	saved core.RateTable
}

func (m *memorySnapshots) LoadRates(ctx context.Context) (core.RateTable, error) {
	return m.saved, nil
}

func (m *memorySnapshots) SaveRates(ctx context.Context, rates core.RateTable) error {
	m.saved = rates
	return nil
}

func TestCurrency_RoundTripWithinEpsilon(t *testing.T) {
	clock := newFakeClock(testStart)
	svc := core.NewCurrencyService(staticRates{"USD": d("1"), "INR": d("83.37"), "EUR": d("0.9213")}, nil, time.Hour, time.Second, clock.Now, zap.NewNop())
	ctx := context.Background()

	for _, cur := range []string{"USD", "EUR", "INR", "eur"} {
		for _, amt := range []string{"0.01", "123.45", "99999.99"} {
			inr := svc.ConvertToINR(ctx, d(amt), cur)
			back := svc.ConvertFromINR(ctx, inr, cur)
			assert.True(t, back.Sub(d(amt)).Abs().LessThan(core.Epsilon), "%s %s came back as %s", amt, cur, back)
		}
	}
	requireDecimal(t, "10", svc.ConvertToINR(ctx, d("10"), "INR"))
}

func TestCurrency_MissingRateConvertsOneToOne(t *testing.T) {
	clock := newFakeClock(testStart)
	svc := core.NewCurrencyService(staticRates{"USD": d("1"), "INR": d("80")}, nil, time.Hour, time.Second, clock.Now, zap.NewNop())
	ctx := context.Background()

	requireDecimal(t, "1", svc.RateToINR(ctx, "XYZ"))
	requireDecimal(t, "42", svc.ConvertToINR(ctx, d("42"), "XYZ"))
	requireDecimal(t, "42", svc.ConvertFromINR(ctx, d("42"), "XYZ"))
	requireDecimal(t, "80", svc.RateToINR(ctx, "usd"))
}

func TestCurrency_RefreshesHourly(t *testing.T) {
	clock := newFakeClock(testStart)
	src := &scriptedRates{rates: core.RateTable{"USD": d("1"), "INR": d("80")}}
	svc := core.NewCurrencyService(src, nil, time.Hour, time.Second, clock.Now, zap.NewNop())
	ctx := context.Background()

	svc.Snapshot(ctx)
	svc.Snapshot(ctx)
	assert.Equal(t, 1, src.calls)

	clock.Advance(59 * time.Minute)
	svc.Snapshot(ctx)
	assert.Equal(t, 1, src.calls)

	clock.Advance(time.Minute)
	snap := svc.Snapshot(ctx)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, "api", snap.Source)
	assert.True(t, snap.FetchedAt.Equal(clock.Now()))
}

func TestCurrency_Fallbacks(t *testing.T) {
	ctx := context.Background()
	down := errors.New("rate api down")

	t.Run("keeps last good table", func(t *testing.T) {
		clock := newFakeClock(testStart)
		src := &scriptedRates{rates: core.RateTable{"USD": d("1"), "INR": d("80")}}
		svc := core.NewCurrencyService(src, nil, time.Hour, time.Second, clock.Now, zap.NewNop())
		requireDecimal(t, "80", svc.RateToINR(ctx, "USD"))

		src.fail(down)
		clock.Advance(2 * time.Hour)
		requireDecimal(t, "80", svc.RateToINR(ctx, "USD"))
		assert.ErrorIs(t, svc.Refresh(ctx), down)
		assert.Equal(t, "api", svc.Snapshot(ctx).Source)
	})

	t.Run("shared snapshot before defaults", func(t *testing.T) {
		clock := newFakeClock(testStart)
		snaps := &memorySnapshots{saved: core.RateTable{"USD": d("1"), "INR": d("90")}}
		svc := core.NewCurrencyService(&scriptedRates{err: down}, snaps, time.Hour, time.Second, clock.Now, zap.NewNop())
		snap := svc.Snapshot(ctx)
		assert.Equal(t, "snapshot", snap.Source)
		requireDecimal(t, "90", svc.RateToINR(ctx, "USD"))
	})

	t.Run("hardcoded defaults last", func(t *testing.T) {
		clock := newFakeClock(testStart)
		svc := core.NewCurrencyService(&scriptedRates{err: down}, &memorySnapshots{}, time.Hour, time.Second, clock.Now, zap.NewNop())
		snap := svc.Snapshot(ctx)
		assert.Equal(t, "default", snap.Source)
		requireDecimal(t, "83", svc.RateToINR(ctx, "USD"))
	})

	t.Run("successful fetch is shared", func(t *testing.T) {
		clock := newFakeClock(testStart)
		snaps := &memorySnapshots{}
		svc := core.NewCurrencyService(staticRates{"USD": d("1"), "INR": d("81")}, snaps, time.Hour, time.Second, clock.Now, zap.NewNop())
		svc.Snapshot(ctx)
		require.NotNil(t, snaps.saved)
		requireDecimal(t, "81", snaps.saved["INR"])
	})
}

func TestCurrency_FetchTimesOut(t *testing.T) {
	clock := newFakeClock(testStart)
	svc := core.NewCurrencyService(blockingRates{}, nil, time.Hour, 20*time.Millisecond, clock.Now, zap.NewNop())

	start := time.Now()
	err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "default", svc.Snapshot(context.Background()).Source)
}

// gatedRates serves rates, blocking every fetch after the first until release is closed.
type gatedRates struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n > 1 {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return core.RateTable{"USD": d("1"), "INR": d("80")}, nil
}

func TestCurrency_SlowRefreshDoesNotBlockConversions(t *testing.T) {
	clock := newFakeClock(testStart)
	src := &gatedRates{entered: make(chan struct{}), release: make(chan struct{})}
	svc := core.NewCurrencyService(src, nil, time.Hour, 5*time.Second, clock.Now, zap.NewNop())
	ctx := context.Background()
	requireDecimal(t, "80", svc.RateToINR(ctx, "USD"))

	clock.Advance(time.Hour)
	refreshed := make(chan struct{})
	go func() {
		svc.Snapshot(ctx)
		close(refreshed)
	}()
	<-src.entered

	converted := make(chan string, 1)
	go func() { converted <- svc.ConvertToINR(ctx, d("2"), "USD").String() }()
	select {
	case got := <-converted:
		assert.Equal(t, "160", got)
	case <-time.After(time.Second):
		t.Fatal("conversion waited for the rate fetch")
	}

	close(src.release)
	<-refreshed
	assert.Equal(t, 2, src.calls)
}
