package model

type Chain string

const (
	ChainBase     Chain = "base"
	ChainEthereum Chain = "ethereum"
)

func (c Chain) String() string {
	return string(c)
}

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
)

func (n Network) String() string {
	return string(n)
}

// ChainID returns the EVM chain id for a chain/network pair, or 0 if unknown.
func ChainID(chain Chain, network Network) int64 {
	switch {
	case chain == ChainBase && network == NetworkMainnet:
		return 8453
	case chain == ChainBase && network == NetworkSepolia:
		return 84532
	case chain == ChainEthereum && network == NetworkMainnet:
		return 1
	case chain == ChainEthereum && network == NetworkSepolia:
		return 11155111
	default:
		return 0
	}
}
