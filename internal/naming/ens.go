package naming

import (
	"context"
	"fmt"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/wealdtech/go-ens/v3/contracts/registry"
	"github.com/wealdtech/go-ens/v3/contracts/reverseresolver"
)

// ENSRegistry is the ENS registry on Ethereum mainnet.
const ENSRegistry = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

type registryCaller interface {
	Resolver(opts *bind.CallOpts, node [32]byte) (common.Address, error)
}

// ENSResolver reads primary names from the mainnet ENS registry. Every
// contract call carries the lookup context.
type ENSResolver struct {
	registry registryCaller
	nameAt   func(resolver common.Address) (nameCaller, error)
}

func NewENSResolver(backend bind.ContractBackend) (*ENSResolver, error) {
	reg, err := registry.NewContract(common.HexToAddress(ENSRegistry), backend)
	if err != nil {
		return nil, fmt.Errorf("bind ens registry: %w", err)
	}
	return &ENSResolver{
		registry: reg,
		nameAt: func(resolver common.Address) (nameCaller, error) {
			c, err := reverseresolver.NewContract(resolver, backend)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}, nil
}

func (r *ENSResolver) Source() model.AliasSource {
	return model.AliasSourceENS
}

func (r *ENSResolver) Lookup(ctx context.Context, address string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	node, err := ReverseNode(address, "addr")
	if err != nil {
		return "", err
	}
	opts := &bind.CallOpts{Context: ctx}

	resolver, err := r.registry.Resolver(opts, node)
	if err != nil {
		return "", fmt.Errorf("ens resolver lookup: %w", err)
	}
	if resolver == (common.Address{}) {
		return "", ErrNotFound
	}
	caller, err := r.nameAt(resolver)
	if err != nil {
		return "", fmt.Errorf("bind ens reverse resolver: %w", err)
	}
	name, err := caller.Name(opts, node)
	if err != nil {
		if isNoRecord(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ens reverse lookup: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// isNoRecord matches call errors that mean the resolver has nothing for the
// node, as opposed to a transport failure.
func isNoRecord(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"execution reverted", "no resolution", "not a resolver"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
