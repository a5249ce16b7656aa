package metadata

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"taxScope/internal/dex"
	"taxScope/internal/model"
)

// TransferTokens returns every token address that emitted a Transfer log in txs, sorted.
func TransferTokens(events *dex.EventSet, txs []model.RawTransaction) []string {
	seen := make(map[string]struct{})
	for _, tx := range txs {
		for _, log := range tx.Logs {
			kind, ok := events.Identify(log)
			if !ok || kind != dex.EventTransfer {
				continue
			}
			seen[model.NormalizeAddress(log.Address)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// FetchMissingTokens loads on-chain ERC20 metadata for tokens the registry does not
// know yet. Tokens that fail are left unknown and fall back to default decimals.
func FetchMissingTokens(ctx context.Context, reg *Registry, caller dex.ContractCaller, tokens []string, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetched := 0
	for _, token := range tokens {
		if _, ok := reg.Token(token); ok {
			continue
		}
		if _, ok := reg.Contract(token); ok {
			// LP and position tokens are never valued.
			continue
		}
		meta, err := dex.FetchTokenMeta(ctx, caller, token, logger)
		if err != nil {
			logger.Warn("token metadata fetch failed", zap.String("token", token), zap.Error(err))
			continue
		}
		reg.AddToken(meta)
		fetched++
	}
	return fetched
}
