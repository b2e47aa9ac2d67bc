package naming

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ens "github.com/wealdtech/go-ens/v3"
	"github.com/wealdtech/go-ens/v3/contracts/reverseresolver"
)

// DefaultBasenameResolver is the Basenames L2Resolver on Base mainnet.
const DefaultBasenameResolver = "0xC6d566A56A1aFf6508b41f6c90ff131615583BCD"

// nameCaller is the read side of a reverse resolver contract.
type nameCaller interface {
	Name(opts *bind.CallOpts, node [32]byte) (string, error)
}

// BasenameResolver reads primary names from the Basenames L2 resolver using
// ENSIP-19 reverse nodes (<addr>.<coinType>.reverse).
type BasenameResolver struct {
	caller   nameCaller
	coinType string
}

func NewBasenameResolver(resolverAddress string, backend bind.ContractBackend, chainID int64) (*BasenameResolver, error) {
	if !common.IsHexAddress(resolverAddress) {
		return nil, fmt.Errorf("invalid basename resolver address %q", resolverAddress)
	}
	contract, err := reverseresolver.NewContract(common.HexToAddress(resolverAddress), backend)
	if err != nil {
		return nil, fmt.Errorf("bind basename resolver: %w", err)
	}
	return &BasenameResolver{caller: contract, coinType: CoinType(chainID)}, nil
}

func (r *BasenameResolver) Source() model.AliasSource {
	return model.AliasSourceBasename
}

func (r *BasenameResolver) Lookup(ctx context.Context, address string) (string, error) {
	node, err := ReverseNode(address, r.coinType)
	if err != nil {
		return "", err
	}
	name, err := r.caller.Name(&bind.CallOpts{Context: ctx}, node)
	if err != nil {
		return "", fmt.Errorf("basename reverse lookup: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// CoinType is the ENSIP-11 coin type for an EVM chain id, in hex.
func CoinType(chainID int64) string {
	return fmt.Sprintf("%x", uint32(0x80000000)|uint32(chainID))
}

// ReverseNode is namehash("<addr>.<coinType>.reverse").
func ReverseNode(address, coinType string) ([32]byte, error) {
	if !common.IsHexAddress(address) {
		return [32]byte{}, fmt.Errorf("invalid address %q", address)
	}
	addr := hex.EncodeToString(common.HexToAddress(address).Bytes())
	return ens.NameHash(fmt.Sprintf("%s.%s.reverse", addr, coinType))
}
