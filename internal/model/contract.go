package model

// ContractRole identifies what a protocol contract does.
type ContractRole string

const (
	RolePool   ContractRole = "pool"
	RoleGauge  ContractRole = "gauge"
	RoleLock   ContractRole = "lock"
	RoleVoter  ContractRole = "voter"
	RoleReward ContractRole = "reward"
)

// PoolType distinguishes constant-product pools from concentrated liquidity pools.
type PoolType string

const (
	PoolTypeVAMM PoolType = "vamm"
	PoolTypeCL   PoolType = "cl"
)

// ContractMeta is one record of the protocol indexer's contract dataset.
type ContractMeta struct {
	Address      string       `json:"address"`
	Role         ContractRole `json:"role"`
	PoolType     PoolType     `json:"pool_type,omitempty"`
	Stable       bool         `json:"stable,omitempty"`
	Token0       string       `json:"token0,omitempty"`
	Token1       string       `json:"token1,omitempty"`
	Pool         string       `json:"pool,omitempty"`
	TickSpacing  int32        `json:"tick_spacing,omitempty"`
	Symbol       string       `json:"symbol,omitempty"`
	CreatedBlock uint64       `json:"created_block,omitempty"`
}

// IsPool reports whether the contract is a liquidity pool.
func (c ContractMeta) IsPool() bool {
	return c.Role == RolePool
}
