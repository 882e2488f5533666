package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"invoicehub/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RateTable maps currency codes to their rate against the rate API's base currency.
type RateTable map[string]decimal.Decimal

// RateSource fetches the current rate table.
type RateSource interface {
	FetchRates(ctx context.Context) (RateTable, error)
}

// RateSnapshotStore persists the last good rate table so other replicas (and restarts) can
// fall back to it.
type RateSnapshotStore interface {
	LoadRates(ctx context.Context) (RateTable, error)
	SaveRates(ctx context.Context, rates RateTable) error
}

// DefaultRates is the last-resort approximate table, based on USD.
func DefaultRates() RateTable {
	return RateTable{
		"USD": decimal.NewFromInt(1),
		"INR": decimal.NewFromInt(83),
		"EUR": decimal.RequireFromString("0.92"),
		"GBP": decimal.RequireFromString("0.79"),
		"AED": decimal.RequireFromString("3.67"),
		"SGD": decimal.RequireFromString("1.34"),
		"AUD": decimal.RequireFromString("1.52"),
		"CAD": decimal.RequireFromString("1.36"),
		"JPY": decimal.NewFromInt(150),
	}
}

// RateSnapshot is a copy of the cache at one point in time.
type RateSnapshot struct {
	Rates     RateTable
	FetchedAt time.Time
	Source    string
}

// ToINR converts amount in currency to INR. Missing rates convert 1:1.
func (s RateSnapshot) ToINR(amount decimal.Decimal, currency string) decimal.Decimal {
	r, ok := s.crossRate(currency, ReferenceCurrency)
	if !ok {
		return amount
	}
	return amount.Mul(r)
}

// FromINR converts an INR amount into currency. Missing rates convert 1:1.
func (s RateSnapshot) FromINR(amountINR decimal.Decimal, currency string) decimal.Decimal {
	r, ok := s.crossRate(ReferenceCurrency, currency)
	if !ok {
		return amountINR
	}
	return amountINR.Mul(r)
}

// crossRate returns how many units of to one unit of from buys.
func (s RateSnapshot) crossRate(from, to string) (decimal.Decimal, bool) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), true
	}
	rf, okf := s.Rates[from]
	rt, okt := s.Rates[to]
	if !okf || !okt || rf.IsZero() {
		return decimal.Decimal{}, false
	}
	return rt.Div(rf), true
}

// CurrencyService converts between company currencies and INR using a cached rate table.
// Conversions never fail: a missing rate degrades to 1:1 and logs a warning.
type CurrencyService interface {
	Snapshot(ctx context.Context) RateSnapshot
	ConvertToINR(ctx context.Context, amount decimal.Decimal, currency string) decimal.Decimal
	ConvertFromINR(ctx context.Context, amountINR decimal.Decimal, currency string) decimal.Decimal
	// RateToINR returns the multiplier from currency to INR.
	RateToINR(ctx context.Context, currency string) decimal.Decimal
	// Refresh forces a fetch regardless of the refresh interval.
	Refresh(ctx context.Context) error
}

type currencyService struct {
	source    RateSource
	snapshots RateSnapshotStore
	interval  time.Duration
	timeout   time.Duration
	clock     Clock
	log       *zap.Logger

	inflight singleflight.Group

	mu          sync.Mutex
	rates       RateTable
	fetchedAt   time.Time
	lastAttempt time.Time
	origin      string
}

// NewCurrencyService builds the rate cache. snapshots may be nil.
func NewCurrencyService(source RateSource, snapshots RateSnapshotStore, interval, timeout time.Duration, clock Clock, log *zap.Logger) CurrencyService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &currencyService{
		source:    source,
		snapshots: snapshots,
		interval:  interval,
		timeout:   timeout,
		clock:     clock,
		log:       log,
	}
}

// Snapshot returns the cached table, refreshing it first when the interval has passed. Only
// the caller that claims a due refresh waits for the fetch; others keep the table they have.
// Callers with no table at all share one fetch.
func (s *currencyService) Snapshot(ctx context.Context) RateSnapshot {
	now := s.clock()
	s.mu.Lock()
	due := len(s.rates) == 0 || now.Sub(s.lastAttempt) >= s.interval
	if due {
		s.lastAttempt = now
	}
	s.mu.Unlock()

	if due {
		if err := s.refresh(ctx); err != nil {
			s.log.Warn("exchange rate fetch failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return RateSnapshot{Rates: copyRates(s.rates), FetchedAt: s.fetchedAt, Source: s.origin}
}

func (s *currencyService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.lastAttempt = s.clock()
	s.mu.Unlock()
	return s.refresh(ctx)
}

// refresh fetches without holding s.mu. On failure an empty cache is filled from the
// fallback chain; a populated one is kept.
func (s *currencyService) refresh(ctx context.Context) error {
	_, err, _ := s.inflight.Do("rates", func() (any, error) {
		rates, err := s.fetch(ctx)
		if err == nil {
			s.mu.Lock()
			s.rates = rates
			s.fetchedAt = s.clock()
			s.origin = "api"
			s.mu.Unlock()
			if s.snapshots != nil {
				if err := s.snapshots.SaveRates(ctx, rates); err != nil {
					s.log.Warn("failed to save rate snapshot", zap.Error(err))
				}
			}
			return nil, nil
		}

		s.mu.Lock()
		have := len(s.rates) > 0
		s.mu.Unlock()
		if !have {
			fallback, origin := s.fallback(ctx)
			s.mu.Lock()
			if len(s.rates) == 0 {
				s.rates = fallback
				s.origin = origin
			}
			s.mu.Unlock()
		}
		return nil, err
	})
	return err
}

func (s *currencyService) fetch(ctx context.Context) (RateTable, error) {
	if s.source == nil {
		return nil, errNoRateSource
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rates, err := s.source.FetchRates(fetchCtx)
	if err != nil {
		metrics.RateFetchFailures.Inc()
		return nil, err
	}
	return rates, nil
}

// fallback returns the shared snapshot, else the hardcoded table.
func (s *currencyService) fallback(ctx context.Context) (RateTable, string) {
	if s.snapshots != nil {
		rates, err := s.snapshots.LoadRates(ctx)
		if err == nil && len(rates) > 0 {
			return rates, "snapshot"
		}
		if err != nil {
			s.log.Warn("failed to load rate snapshot", zap.Error(err))
		}
	}
	return DefaultRates(), "default"
}

func (s *currencyService) ConvertToINR(ctx context.Context, amount decimal.Decimal, currency string) decimal.Decimal {
	snap := s.Snapshot(ctx)
	if _, ok := snap.crossRate(currency, ReferenceCurrency); !ok {
		s.log.Warn("no exchange rate, converting 1:1", zap.String("currency", currency))
	}
	return snap.ToINR(amount, currency)
}

func (s *currencyService) ConvertFromINR(ctx context.Context, amountINR decimal.Decimal, currency string) decimal.Decimal {
	snap := s.Snapshot(ctx)
	if _, ok := snap.crossRate(ReferenceCurrency, currency); !ok {
		s.log.Warn("no exchange rate, converting 1:1", zap.String("currency", currency))
	}
	return snap.FromINR(amountINR, currency)
}

func (s *currencyService) RateToINR(ctx context.Context, currency string) decimal.Decimal {
	r, ok := s.Snapshot(ctx).crossRate(currency, ReferenceCurrency)
	if !ok {
		s.log.Warn("no exchange rate, using 1:1", zap.String("currency", currency))
		return decimal.NewFromInt(1)
	}
	return r
}

func copyRates(in RateTable) RateTable {
	out := make(RateTable, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var errNoRateSource = errors.New("no rate source configured")
