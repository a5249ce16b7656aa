package model

// Native ether is tracked as a pseudo-token.
const (
	NativeToken    = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	NativeSymbol   = "ETH"
	NativeDecimals = 18
)

// DefaultDecimals applies to tokens with no metadata.
const DefaultDecimals = 18

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

