package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

// Feed returns external price samples for a token within [from, to].
type Feed interface {
	Samples(ctx context.Context, token string, from, to time.Time) ([]model.PriceSample, error)
}

// FeedSource picks the sample nearest to the requested time within a tolerance.
type FeedSource struct {
	name      string
	feed      Feed
	tolerance time.Duration
}

// NewFeedSource wraps a feed as a price source.
func NewFeedSource(name string, feed Feed, tolerance time.Duration) *FeedSource {
	return &FeedSource{name: name, feed: feed, tolerance: tolerance}
}

func (s *FeedSource) Name() string { return s.name }

func (s *FeedSource) Price(ctx context.Context, req model.PriceRequest) (decimal.Decimal, error) {
	at := req.Timestamp.UTC()
	samples, err := s.feed.Samples(ctx, model.NormalizeAddress(req.Token), at.Add(-s.tolerance), at.Add(s.tolerance))
	if err != nil {
		return decimal.Zero, err
	}
	sample, ok := Nearest(samples, at, s.tolerance)
	if !ok {
		return decimal.Zero, fmt.Errorf("no sample within %s", s.tolerance)
	}
	return sample.PriceUSD, nil
}

// Nearest returns the sample closest to at whose distance does not exceed
// tolerance. Equal distances resolve to the earlier sample.
func Nearest(samples []model.PriceSample, at time.Time, tolerance time.Duration) (model.PriceSample, bool) {
	var best model.PriceSample
	var bestDist time.Duration
	found := false
	for _, sample := range samples {
		dist := sample.Timestamp.Sub(at)
		if dist < 0 {
			dist = -dist
		}
		if dist > tolerance {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && sample.Timestamp.Before(best.Timestamp)) {
			best = sample
			bestDist = dist
			found = true
		}
	}
	return best, found
}

// StaticFeed serves samples loaded from a dataset.
type StaticFeed struct {
	byToken map[string][]model.PriceSample
}

// NewStaticFeed indexes samples by token, sorted by time.
func NewStaticFeed(samples []model.PriceSample) *StaticFeed {
	byToken := make(map[string][]model.PriceSample)
	for _, sample := range samples {
		sample.Token = model.NormalizeAddress(sample.Token)
		byToken[sample.Token] = append(byToken[sample.Token], sample)
	}
	for token := range byToken {
		list := byToken[token]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.Before(list[j].Timestamp)
		})
	}
	return &StaticFeed{byToken: byToken}
}

func (f *StaticFeed) Samples(_ context.Context, token string, from, to time.Time) ([]model.PriceSample, error) {
	list := f.byToken[model.NormalizeAddress(token)]
	start := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(from)
	})
	end := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(to)
	})
	if start >= end {
		return nil, nil
	}
	out := make([]model.PriceSample, end-start)
	copy(out, list[start:end])
	return out, nil
}
