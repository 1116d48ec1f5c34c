package rates

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/shopspring/decimal"
)

// Floors are the minimum USDT->fiat rates ever served.
var Floors = map[domain.Fiat]decimal.Decimal{
	domain.USD: decimal.RequireFromString("1.05"),
	domain.EUR: decimal.RequireFromString("0.89"),
	domain.GBP: decimal.RequireFromString("0.79"),
}

// Source fetches raw rates. Missing currencies fall back to their floor.
type Source func(ctx context.Context) (map[domain.Fiat]decimal.Decimal, error)

// Snapshot is one consistent set of rates.
type Snapshot struct {
	Rates     map[domain.Fiat]decimal.Decimal
	FetchedAt time.Time
}

func (s Snapshot) Rate(f domain.Fiat) decimal.Decimal {
	return s.Rates[f]
}

// Provider serves the latest snapshot and refreshes it from a Source.
type Provider struct {
	mu      sync.RWMutex
	source  Source
	current Snapshot
	now     func() time.Time
}

func NewProvider(source Source) *Provider {
	if source == nil {
		source = SimulatedSource()
	}
	p := &Provider{source: source, now: time.Now}
	p.current = Snapshot{Rates: clamp(nil), FetchedAt: p.now()}
	return p
}

// Refresh fetches new rates and swaps the whole snapshot at once. On a source
// error the previous snapshot stays in place.
func (p *Provider) Refresh(ctx context.Context) (Snapshot, error) {
	raw, err := p.source(ctx)
	if err != nil {
		return p.Current(), fmt.Errorf("rate source failed: %w", err)
	}
	snap := Snapshot{Rates: clamp(raw), FetchedAt: p.now()}

	p.mu.Lock()
	p.current = snap
	p.mu.Unlock()
	return snap, nil
}

func (p *Provider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func clamp(raw map[domain.Fiat]decimal.Decimal) map[domain.Fiat]decimal.Decimal {
	out := make(map[domain.Fiat]decimal.Decimal, len(Floors))
	for fiat, floor := range Floors {
		r, ok := raw[fiat]
		if !ok || r.LessThan(floor) {
			r = floor
		}
		out[fiat] = r
	}
	return out
}

// SimulatedSource quotes each currency slightly above its floor, with up to
// 0.009 of jitter at three decimals.
func SimulatedSource() Source {
	return func(ctx context.Context) (map[domain.Fiat]decimal.Decimal, error) {
		out := make(map[domain.Fiat]decimal.Decimal, len(Floors))
		for fiat, floor := range Floors {
			jitter := decimal.NewFromFloat(rand.Float64() * 0.009)
			out[fiat] = floor.Add(jitter).Truncate(3)
		}
		return out, nil
	}
}

// StaticSource always returns the same rates.
func StaticSource(r map[domain.Fiat]decimal.Decimal) Source {
	return func(ctx context.Context) (map[domain.Fiat]decimal.Decimal, error) {
		return r, nil
	}
}

// Convert returns the fiat amount for usdt at rate, rounded to cents.
func Convert(usdt, rate decimal.Decimal) decimal.Decimal {
	return usdt.Mul(rate).Round(2)
}
