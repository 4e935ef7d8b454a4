// Package contracts implements the contract registry (C7): cached contract
// metadata keyed by normalized symbol and by contract id, with explicit TTL
// refresh and table-driven alias matching for the broker's quote-symbol vs
// chart-symbol mismatch. Shared read-mostly; writes serialized behind a
// single refresh path, following the teacher's gateway.Manager's
// single-writer-many-readers RWMutex idiom.
package contracts

import (
	"context"
	"strings"
	"sync"
	"time"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/result"
)

// DefaultTTL is the cache lifetime after which GetBySymbol refreshes the
// cache synchronously before answering; GetByID does not check it and
// fetches only on a cache miss.
const DefaultTTL = 5 * time.Minute

// Fetcher pulls fresh contract metadata from the broker REST client.
// Implemented by broker/rest.Client; kept as an interface here so the
// registry has no import-cycle dependency on the REST layer.
type Fetcher interface {
	ListContracts(ctx context.Context, live bool) result.Result[[]domain.Contract]
	SearchContracts(ctx context.Context, query string) result.Result[[]domain.Contract]
	ContractByID(ctx context.Context, id string) result.Result[domain.Contract]
}

// AliasTable is a table-driven cross-mapping of broker quote aliases (e.g.
// EP <-> ES/MES). Configured, never inferred, per spec §4.7.
type AliasTable map[string][]string

// Registry caches contracts and exposes symbol-normalized lookups.
type Registry struct {
	fetcher Fetcher
	aliases AliasTable

	mu        sync.RWMutex
	bySymbol  map[string]domain.Contract // normalized symbol -> contract
	byID      map[string]domain.Contract
	fetchedAt time.Time
}

// New builds a Registry. aliases may be nil (no cross-mapping configured).
func New(fetcher Fetcher, aliases AliasTable) *Registry {
	if aliases == nil {
		aliases = AliasTable{}
	}
	return &Registry{
		fetcher:  fetcher,
		aliases:  aliases,
		bySymbol: make(map[string]domain.Contract),
		byID:     make(map[string]domain.Contract),
	}
}

// NormalizeSymbol uppercases and strips non-alphanumerics, per spec §4.7.
func NormalizeSymbol(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Refresh pulls the full live-contract list from the broker and replaces
// the cache. Single-writer: callers should serialize calls to Refresh
// themselves (e.g. one background ticker) since it swaps both maps.
func (r *Registry) Refresh(ctx context.Context) error {
	res := r.fetcher.ListContracts(ctx, true)
	if !res.IsOk() {
		return res.Err()
	}

	bySymbol := make(map[string]domain.Contract, len(res.Value()))
	byID := make(map[string]domain.Contract, len(res.Value()))
	for _, c := range res.Value() {
		bySymbol[NormalizeSymbol(c.Symbol)] = c
		byID[c.ID] = c
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.byID = byID
	r.fetchedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *Registry) stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.fetchedAt) > DefaultTTL
}

// GetBySymbol returns the contract for an exact normalized-symbol match,
// refreshing first if the cache is stale or empty.
func (r *Registry) GetBySymbol(ctx context.Context, symbol string) result.Result[domain.Contract] {
	if r.stale() {
		if err := r.Refresh(ctx); err != nil {
			// fall through to whatever is cached; a stale cache beats no
			// answer when the broker is briefly unreachable.
			_ = err
		}
	}

	norm := NormalizeSymbol(symbol)
	r.mu.RLock()
	c, ok := r.bySymbol[norm]
	r.mu.RUnlock()
	if ok {
		return result.Ok(c)
	}
	return result.Fail[domain.Contract](result.Err(result.KindNotFound, "contract not found for symbol %s", symbol))
}

// GetByID returns the contract for an exact contract id.
func (r *Registry) GetByID(ctx context.Context, id string) result.Result[domain.Contract] {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return result.Ok(c)
	}

	res := r.fetcher.ContractByID(ctx, id)
	if res.IsOk() {
		r.mu.Lock()
		r.byID[id] = res.Value()
		r.bySymbol[NormalizeSymbol(res.Value().Symbol)] = res.Value()
		r.mu.Unlock()
	}
	return res
}

// List returns all cached contracts, optionally filtered to live ones.
func (r *Registry) List(live bool) []domain.Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Contract, 0, len(r.byID))
	for _, c := range r.byID {
		if live && !c.Live {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Search proxies a live broker symbol search.
func (r *Registry) Search(ctx context.Context, query string) result.Result[[]domain.Contract] {
	return r.fetcher.SearchContracts(ctx, query)
}

// Matches implements the quote-symbol vs chart-symbol matching strategy:
// exact -> prefix (base vs contract-month form) -> shared alphabetic base
// of length >= 2 -> configured alias table.
func (r *Registry) Matches(quoteSymbol, chartSymbol string) bool {
	q := NormalizeSymbol(dottedLastSegment(quoteSymbol))
	c := NormalizeSymbol(dottedLastSegment(chartSymbol))

	if q == c {
		return true
	}
	if strings.HasPrefix(c, q) || strings.HasPrefix(q, c) {
		return true
	}

	qBase := alphabeticPrefix(q)
	cBase := alphabeticPrefix(c)
	if len(qBase) >= 2 && qBase == cBase {
		return true
	}

	for _, aliases := range r.aliases {
		hasQ, hasC := false, false
		for _, a := range aliases {
			na := NormalizeSymbol(a)
			if na == q || strings.HasPrefix(q, na) {
				hasQ = true
			}
			if na == cBase || strings.HasPrefix(c, na) {
				hasC = true
			}
		}
		if hasQ && hasC {
			return true
		}
	}
	return false
}

// dottedLastSegment returns the token after the last '.' in a dotted
// contract id (e.g. "F.US.MES" -> "MES"); inputs with no dot pass through.
func dottedLastSegment(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func alphabeticPrefix(s string) string {
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	return s[:i]
}
