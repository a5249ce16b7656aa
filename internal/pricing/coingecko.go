package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"taxScope/internal/model"
	"taxScope/internal/retry"
)

const day = 24 * time.Hour

// CoinGeckoConfig configures the CoinGecko market chart client.
type CoinGeckoConfig struct {
	BaseURL    string
	APIKey     string
	KeyHeader  string
	Platform   string
	NativeID   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

// CoinGeckoFeed fetches historical prices from the market_chart/range endpoints,
// one UTC day per request, caching each day window.
type CoinGeckoFeed struct {
	cfg    CoinGeckoConfig
	client *http.Client
	cache  SampleCache
	logger *zap.Logger
	now    func() time.Time
}

// NewCoinGeckoFeed builds a feed client. A nil cache disables caching.
func NewCoinGeckoFeed(cfg CoinGeckoConfig, cache SampleCache, logger *zap.Logger) *CoinGeckoFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Platform == "" {
		cfg.Platform = "base"
	}
	if cfg.NativeID == "" {
		cfg.NativeID = "ethereum"
	}
	if cfg.KeyHeader == "" {
		cfg.KeyHeader = "x-cg-demo-api-key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * day
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinGeckoFeed{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (f *CoinGeckoFeed) Samples(ctx context.Context, token string, from, to time.Time) ([]model.PriceSample, error) {
	token = model.NormalizeAddress(token)
	var out []model.PriceSample
	for dayStart := from.UTC().Truncate(day); !dayStart.After(to); dayStart = dayStart.Add(day) {
		samples, err := f.window(ctx, token, dayStart)
		if err != nil {
			return nil, err
		}
		for _, sample := range samples {
			if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
				continue
			}
			out = append(out, sample)
		}
	}
	return out, nil
}

func (f *CoinGeckoFeed) window(ctx context.Context, token string, dayStart time.Time) ([]model.PriceSample, error) {
	key := fmt.Sprintf("coingecko:%s:%s:%d", f.cfg.Platform, token, dayStart.Unix())
	if f.cache != nil {
		cached, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			f.logger.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	samples, err := f.fetch(ctx, token, dayStart, dayStart.Add(day))
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		ttl := f.cfg.CacheTTL
		// The current day is still filling in.
		if dayStart.Add(day).After(f.now()) {
			ttl = 10 * time.Minute
		}
		if err := f.cache.Set(ctx, key, samples, ttl); err != nil {
			f.logger.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return samples, nil
}

func (f *CoinGeckoFeed) endpoint(token string, from, to time.Time) string {
	var path string
	if token == model.NativeToken {
		path = "/coins/" + url.PathEscape(f.cfg.NativeID) + "/market_chart/range"
	} else {
		path = "/coins/" + url.PathEscape(f.cfg.Platform) + "/contract/" + url.PathEscape(token) + "/market_chart/range"
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	return strings.TrimRight(f.cfg.BaseURL, "/") + path + "?" + q.Encode()
}

type marketChart struct {
	Prices [][]json.Number `json:"prices"`
}

func (f *CoinGeckoFeed) fetch(ctx context.Context, token string, from, to time.Time) ([]model.PriceSample, error) {
	endpoint := f.endpoint(token, from, to)
	var chart marketChart

	err := retry.Do(ctx, f.cfg.MaxRetries, f.cfg.RetryDelay, 10*time.Second, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if f.cfg.APIKey != "" {
			req.Header.Set(f.cfg.KeyHeader, f.cfg.APIKey)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("coingecko returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&chart); err != nil {
			return retry.Permanent(fmt.Errorf("decode market chart: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch %s: %w", token, err)
	}

	out := make([]model.PriceSample, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		if len(point) < 2 {
			continue
		}
		ms, err := point[0].Int64()
		if err != nil {
			msFloat, ferr := point[0].Float64()
			if ferr != nil {
				continue
			}
			ms = int64(msFloat)
		}
		price, err := decimal.NewFromString(point[1].String())
		if err != nil {
			continue
		}
		out = append(out, model.PriceSample{
			Token:     token,
			Timestamp: time.UnixMilli(ms).UTC(),
			PriceUSD:  price,
			Source:    "coingecko",
		})
	}
	return out, nil
}
