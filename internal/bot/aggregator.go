package bot

import (
	"sync"
	"time"

	"topstepx-engine/internal/domain"
)

// DefaultBarInterval is the fixed window a BarAggregator synthesizes OHLC
// bars over when the broker does not push historical bars directly.
const DefaultBarInterval = time.Minute

// BarAggregator turns a quote tick stream into fixed-interval OHLC bars,
// keyed by symbol, with a mu-guarded map[string]... in the same shape the
// teacher uses for its per-symbol state, generalized from a flat price
// window to a bucketed OHLC accumulator since strategies consume Bar,
// not a bare price.
type BarAggregator struct {
	interval time.Duration

	mu      sync.Mutex
	current map[string]*domain.Bar
}

func NewBarAggregator(interval time.Duration) *BarAggregator {
	if interval <= 0 {
		interval = DefaultBarInterval
	}
	return &BarAggregator{interval: interval, current: make(map[string]*domain.Bar)}
}

// Ingest folds a quote into the in-progress bar for its symbol. It returns
// the just-closed bar and true when the quote's timestamp has crossed into
// a new interval bucket, in which case the quote also seeds the next bar.
func (a *BarAggregator) Ingest(q domain.Quote) (*domain.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := q.Timestamp.Truncate(a.interval)
	cur, ok := a.current[q.Symbol]
	if !ok {
		a.current[q.Symbol] = newBar(q, bucket)
		return nil, false
	}

	if !bucket.After(cur.Timestamp) {
		cur.High = max(cur.High, q.LastPrice)
		cur.Low = min(cur.Low, q.LastPrice)
		cur.Close = q.LastPrice
		return nil, false
	}

	closed := cur
	a.current[q.Symbol] = newBar(q, bucket)
	return closed, true
}

func newBar(q domain.Quote, bucket time.Time) *domain.Bar {
	return &domain.Bar{
		Symbol:    q.Symbol,
		Open:      q.LastPrice,
		High:      q.LastPrice,
		Low:       q.LastPrice,
		Close:     q.LastPrice,
		Timestamp: bucket,
	}
}
