package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taxScope/internal/model"
)

// ErrPriceUnavailable means no source could price the token at the requested time.
var ErrPriceUnavailable = errors.New("price unavailable")

// Source is one pricing strategy consulted by the resolver.
type Source interface {
	Name() string
	Price(ctx context.Context, req model.PriceRequest) (decimal.Decimal, error)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Stablecoins   []string
	LookupTimeout time.Duration
	CacheTTL      time.Duration
}

// Resolver prices tokens using the stablecoin shortcut and then each source in order.
type Resolver struct {
	stablecoins map[string]struct{}
	sources     []Source
	timeout     time.Duration
	quotes      *gocache.Cache
	logger      *zap.Logger
}

// NewResolver builds a resolver over sources, consulted in the given order.
func NewResolver(cfg ResolverConfig, sources []Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Resolver{
		stablecoins: StablecoinSet(cfg.Stablecoins),
		sources:     sources,
		timeout:     cfg.LookupTimeout,
		quotes:      gocache.New(ttl, 2*ttl),
		logger:      logger,
	}
}

// StablecoinSet normalises a list of stablecoin addresses into a set.
func StablecoinSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		addr = model.NormalizeAddress(addr)
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return set
}

// IsStablecoin reports whether token is priced at a fixed 1.00 USD.
func (r *Resolver) IsStablecoin(token string) bool {
	_, ok := r.stablecoins[model.NormalizeAddress(token)]
	return ok
}

// Price resolves the USD price of req.Token at req.Timestamp. Source failures and
// timeouts count as misses; when every source misses the error wraps ErrPriceUnavailable.
func (r *Resolver) Price(ctx context.Context, req model.PriceRequest) (model.PriceQuote, error) {
	req.Token = model.NormalizeAddress(req.Token)
	if r.IsStablecoin(req.Token) {
		return model.PriceQuote{Token: req.Token, Timestamp: req.Timestamp, PriceUSD: decimal.NewFromInt(1), Source: "stablecoin"}, nil
	}

	key := quoteKey(req)
	if cached, ok := r.quotes.Get(key); ok {
		return cached.(model.PriceQuote), nil
	}

	for _, src := range r.sources {
		price, err := r.query(ctx, src, req)
		if err != nil {
			r.logger.Debug("price source miss",
				zap.String("source", src.Name()),
				zap.String("token", req.Token),
				zap.Time("at", req.Timestamp),
				zap.Error(err),
			)
			continue
		}
		if !price.IsPositive() {
			continue
		}
		quote := model.PriceQuote{Token: req.Token, Timestamp: req.Timestamp, PriceUSD: price, Source: src.Name()}
		r.quotes.Set(key, quote, gocache.DefaultExpiration)
		return quote, nil
	}

	return model.PriceQuote{}, fmt.Errorf("%w: %s at %s", ErrPriceUnavailable, req.Token, req.Timestamp.UTC().Format(time.RFC3339))
}

func (r *Resolver) query(ctx context.Context, src Source, req model.PriceRequest) (decimal.Decimal, error) {
	if r.timeout <= 0 {
		return src.Price(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return src.Price(callCtx, req)
}

func quoteKey(req model.PriceRequest) string {
	return req.Token + "|" + strconv.FormatInt(req.Timestamp.Unix(), 10) + "|" + strconv.FormatUint(req.BlockNumber, 10)
}
