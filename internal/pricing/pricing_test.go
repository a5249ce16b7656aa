package pricing

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/metadata"
	"taxScope/internal/model"
)

const (
	aero = "0x940181a94a35a4569e4529a3cdfb74e38fd98631"
	usdc = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	weth = "0x4200000000000000000000000000000000000006"
)

type stubSource struct {
	name  string
	price decimal.Decimal
	err   error
	calls int32
	block bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Price(ctx context.Context, _ model.PriceRequest) (decimal.Decimal, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block {
		<-ctx.Done()
		return decimal.Zero, ctx.Err()
	}
	return s.price, s.err
}

func TestResolverStablecoinShortcut(t *testing.T) {
	src := &stubSource{name: "feed", price: decimal.NewFromInt(5)}
	r := NewResolver(ResolverConfig{Stablecoins: []string{usdc}}, []Source{src}, nil)

	quote, err := r.Price(context.Background(), model.PriceRequest{Token: usdc, Timestamp: time.Unix(1735689600, 0)})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !quote.PriceUSD.Equal(decimal.NewFromInt(1)) || quote.Source != "stablecoin" {
		t.Fatalf("quote mismatch: %+v", quote)
	}
	if src.calls != 0 {
		t.Fatalf("stablecoin must not query sources")
	}
}

func TestResolverFallbackOrderAndCache(t *testing.T) {
	pool := &stubSource{name: "pool", err: errors.New("no pool")}
	feed := &stubSource{name: "feed", price: decimal.RequireFromString("2.5")}
	r := NewResolver(ResolverConfig{}, []Source{pool, feed}, nil)

	req := model.PriceRequest{Token: aero, Timestamp: time.Unix(1735689600, 0), BlockNumber: 10}
	quote, err := r.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Source != "feed" || quote.PriceUSD.String() != "2.5" {
		t.Fatalf("quote mismatch: %+v", quote)
	}

	again, err := r.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !again.PriceUSD.Equal(quote.PriceUSD) || feed.calls != 1 || pool.calls != 1 {
		t.Fatalf("cached answer expected, calls pool=%d feed=%d", pool.calls, feed.calls)
	}
}

func TestResolverUnavailableAndTimeout(t *testing.T) {
	slow := &stubSource{name: "slow", block: true}
	zero := &stubSource{name: "zero", price: decimal.Zero}
	r := NewResolver(ResolverConfig{LookupTimeout: 5 * time.Millisecond}, []Source{slow, zero}, nil)

	_, err := r.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(1735689600, 0)})
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
	if slow.calls != 1 || zero.calls != 1 {
		t.Fatalf("every source should be tried once")
	}
}

func TestNearestPrefersEarlierOnTie(t *testing.T) {
	at := time.Unix(1000, 0)
	samples := []model.PriceSample{
		{Timestamp: time.Unix(1060, 0), PriceUSD: decimal.NewFromInt(3)},
		{Timestamp: time.Unix(940, 0), PriceUSD: decimal.NewFromInt(2)},
		{Timestamp: time.Unix(2000, 0), PriceUSD: decimal.NewFromInt(9)},
	}
	got, ok := Nearest(samples, at, 2*time.Minute)
	if !ok || !got.PriceUSD.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("nearest = %+v ok=%v", got, ok)
	}
	if _, ok := Nearest(samples, at, 30*time.Second); ok {
		t.Fatalf("no sample should be within 30s")
	}
}

func TestStaticFeedSource(t *testing.T) {
	feed := NewStaticFeed([]model.PriceSample{
		{Token: aero, Timestamp: time.Unix(3600, 0), PriceUSD: decimal.RequireFromString("1.2")},
		{Token: aero, Timestamp: time.Unix(0, 0), PriceUSD: decimal.RequireFromString("1.0")},
		{Token: weth, Timestamp: time.Unix(0, 0), PriceUSD: decimal.RequireFromString("3000")},
	})
	src := NewFeedSource("static", feed, 30*time.Minute)

	price, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(3000, 0)})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.String() != "1.2" {
		t.Fatalf("price = %s, want 1.2", price)
	}
	if _, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(7200, 0)}); err == nil {
		t.Fatalf("expected miss outside tolerance")
	}
}

type stubReader struct {
	r0, r1 *big.Int
	sqrt   *big.Int
}

func (s stubReader) Reserves(context.Context, string, uint64) (*big.Int, *big.Int, error) {
	return s.r0, s.r1, nil
}

func (s stubReader) SqrtPriceX96(context.Context, string, uint64) (*big.Int, error) {
	return s.sqrt, nil
}

func TestPoolSourceReserves(t *testing.T) {
	reg := metadata.NewRegistry([]model.ContractMeta{
		{Address: "0x3333333333333333333333333333333333333333", Role: model.RolePool, PoolType: model.PoolTypeVAMM, Token0: aero, Token1: usdc},
	}, []model.TokenMeta{
		{Address: aero, Decimals: 18},
		{Address: usdc, Decimals: 6},
	})
	reserveAero, _ := new(big.Int).SetString("1000000000000000000000", 10)
	reader := stubReader{r0: reserveAero, r1: big.NewInt(2_000_000_000)}
	src := NewPoolSource(reg, reader, []string{usdc}, nil)

	price, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(0, 0), BlockNumber: 5})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("price = %s, want 2", price)
	}

	if _, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(0, 0)}); err == nil {
		t.Fatalf("expected error without block number")
	}
}

func TestPoolSourceConcentratedInverted(t *testing.T) {
	reg := metadata.NewRegistry([]model.ContractMeta{
		{Address: "0x3333333333333333333333333333333333333333", Role: model.RolePool, PoolType: model.PoolTypeCL, Token0: weth, Token1: aero},
	}, []model.TokenMeta{
		{Address: weth, Decimals: 18},
		{Address: aero, Decimals: 18},
	})
	// sqrtP = 2 * 2^96 means one WETH buys four AERO.
	sqrt := new(big.Int).Lsh(big.NewInt(2), 96)
	anchor := &stubSource{name: "feed", price: decimal.NewFromInt(3000)}
	src := NewPoolSource(reg, stubReader{sqrt: sqrt}, nil, anchor)

	price, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: time.Unix(0, 0), BlockNumber: 5})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("price = %s, want 750", price)
	}
}

func TestSqrtPriceToPrice(t *testing.T) {
	one := new(big.Int).Lsh(big.NewInt(1), 96)
	if got := SqrtPriceToPrice(one, 18, 18); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("price = %s, want 1", got)
	}
	if got := SqrtPriceToPrice(one, 18, 6); !got.Equal(decimal.New(1, 12)) {
		t.Fatalf("price = %s, want 1e12", got)
	}
}

func TestCoinGeckoFeedFetchAndCache(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Path != "/coins/base/contract/"+aero+"/market_chart/range" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("vs_currency") != "usd" {
			t.Errorf("missing vs_currency")
		}
		if r.Header.Get("x-cg-demo-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":[[1735689600000,1.25],[1735693200000,1.5]]}`))
	}))
	defer server.Close()

	feed := NewCoinGeckoFeed(CoinGeckoConfig{
		BaseURL:    server.URL,
		APIKey:     "secret",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, NewMemoryCache(time.Hour), nil)
	src := NewFeedSource("coingecko", feed, 20*time.Minute)

	at := time.Unix(1735692900, 0)
	price, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: at})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.String() != "1.5" {
		t.Fatalf("price = %s, want 1.5", price)
	}
	if _, err := src.Price(context.Background(), model.PriceRequest{Token: aero, Timestamp: at}); err != nil {
		t.Fatalf("cached price: %v", err)
	}
	if hits != 2 {
		t.Fatalf("hits = %d, want 2", hits)
	}
}

func TestCoinGeckoFeedPermanentError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if !strings.HasPrefix(r.URL.Path, "/coins/ethereum/") {
			t.Errorf("native token should use coin id path, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	feed := NewCoinGeckoFeed(CoinGeckoConfig{BaseURL: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond}, nil, nil)
	_, err := feed.Samples(context.Background(), model.NativeToken, time.Unix(1735689600, 0), time.Unix(1735690000, 0))
	if err == nil {
		t.Fatalf("expected error")
	}
	if hits != 1 {
		t.Fatalf("hits = %d, 404 must not be retried", hits)
	}
}
