package metadata

import (
	"sort"
	"sync"

	"taxScope/internal/model"
	"taxScope/internal/storage"
)

// Lookup answers protocol metadata questions by contract address.
type Lookup interface {
	Contract(address string) (model.ContractMeta, bool)
	Token(address string) (model.TokenMeta, bool)
}

// Registry is an in-memory Lookup built from the protocol indexer datasets.
type Registry struct {
	mu           sync.RWMutex
	contracts    map[string]model.ContractMeta
	tokens       map[string]model.TokenMeta
	poolsByToken map[string][]string
}

// NewRegistry indexes contract and token records by lowercase address.
func NewRegistry(contracts []model.ContractMeta, tokens []model.TokenMeta) *Registry {
	r := &Registry{
		contracts:    make(map[string]model.ContractMeta, len(contracts)),
		tokens:       make(map[string]model.TokenMeta, len(tokens)),
		poolsByToken: make(map[string][]string),
	}
	for _, c := range contracts {
		r.AddContract(c)
	}
	for _, t := range tokens {
		r.AddToken(t)
	}
	return r
}

// LoadRegistry reads the contracts dataset and, when tokensPath is set, the tokens dataset.
func LoadRegistry(contractsPath, tokensPath string) (*Registry, error) {
	var contracts []model.ContractMeta
	if contractsPath != "" {
		loaded, err := storage.ReadJSONL[model.ContractMeta](contractsPath)
		if err != nil {
			return nil, err
		}
		contracts = loaded
	}
	var tokens []model.TokenMeta
	if tokensPath != "" {
		loaded, err := storage.ReadJSONL[model.TokenMeta](tokensPath)
		if err != nil {
			return nil, err
		}
		tokens = loaded
	}
	return NewRegistry(contracts, tokens), nil
}

// AddContract registers or replaces a contract record.
func (r *Registry) AddContract(c model.ContractMeta) {
	c.Address = model.NormalizeAddress(c.Address)
	c.Token0 = model.NormalizeAddress(c.Token0)
	c.Token1 = model.NormalizeAddress(c.Token1)
	c.Pool = model.NormalizeAddress(c.Pool)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.Address] = c
	if c.Role != model.RolePool {
		return
	}
	for _, token := range []string{c.Token0, c.Token1} {
		if token == "" {
			continue
		}
		pools := r.poolsByToken[token]
		idx := sort.SearchStrings(pools, c.Address)
		if idx < len(pools) && pools[idx] == c.Address {
			continue
		}
		pools = append(pools, "")
		copy(pools[idx+1:], pools[idx:])
		pools[idx] = c.Address
		r.poolsByToken[token] = pools
	}
}

// AddToken registers or replaces a token record.
func (r *Registry) AddToken(t model.TokenMeta) {
	t.Address = model.NormalizeAddress(t.Address)
	r.mu.Lock()
	r.tokens[t.Address] = t
	r.mu.Unlock()
}

// Contract returns the record for a protocol contract.
func (r *Registry) Contract(address string) (model.ContractMeta, bool) {
	r.mu.RLock()
	c, ok := r.contracts[model.NormalizeAddress(address)]
	r.mu.RUnlock()
	return c, ok
}

// Token returns token metadata. The native pseudo-token is always known.
func (r *Registry) Token(address string) (model.TokenMeta, bool) {
	address = model.NormalizeAddress(address)
	if address == model.NativeToken {
		return model.TokenMeta{Address: model.NativeToken, Decimals: model.NativeDecimals, Symbol: model.NativeSymbol, Name: "Ether"}, true
	}
	r.mu.RLock()
	t, ok := r.tokens[address]
	r.mu.RUnlock()
	return t, ok
}

// PoolsForToken returns the pools that hold token, in ascending address order.
func (r *Registry) PoolsForToken(token string) []model.ContractMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := r.poolsByToken[model.NormalizeAddress(token)]
	out := make([]model.ContractMeta, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, r.contracts[addr])
	}
	return out
}

// Counts reports the number of contracts and tokens loaded.
func (r *Registry) Counts() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts), len(r.tokens)
}
