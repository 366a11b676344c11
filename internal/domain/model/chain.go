package model

import "strings"

type Chain string

const (
	ChainSolana Chain = "solana"
)

func (c Chain) String() string {
	return string(c)
}

// Network is a Solana cluster.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
	NetworkTestnet Network = "testnet"
)

// ParseNetwork lowercases s and maps the "mainnet-beta" cluster name to
// NetworkMainnet. The result is not validated.
func ParseNetwork(s string) Network {
	n := strings.ToLower(strings.TrimSpace(s))
	if n == "mainnet-beta" {
		return NetworkMainnet
	}
	return Network(n)
}

func (n Network) Valid() bool {
	switch n {
	case NetworkMainnet, NetworkDevnet, NetworkTestnet:
		return true
	}
	return false
}

func (n Network) String() string {
	return string(n)
}

// AddressSource records where a watched address was declared.
type AddressSource string

const (
	AddressSourceEnv  AddressSource = "env"
	AddressSourceFile AddressSource = "file"
)
