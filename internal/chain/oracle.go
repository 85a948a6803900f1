package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Oracle reads the protocol's price oracle. Prices are in the oracle's base
// currency unit (8 decimals).
type Oracle struct {
	client  *Client
	address common.Address
}

// NewOracle creates an Oracle reader.
func NewOracle(client *Client, address common.Address) *Oracle {
	return &Oracle{client: client, address: address}
}

// ReadOraclePrice implements domain.OracleReader.
func (o *Oracle) ReadOraclePrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	vals, err := o.client.call(ctx, oracleABI, o.address, "getAssetPrice", asset)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: getAssetPrice returned %d values: %w", len(vals), domain.ErrReadError)
	}
	return asBig(vals[0])
}

// ReadOraclePrices implements domain.OracleReader with one batched call.
func (o *Oracle) ReadOraclePrices(ctx context.Context, assets []common.Address) ([]*big.Int, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	vals, err := o.client.call(ctx, oracleABI, o.address, "getAssetsPrices", assets)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: getAssetsPrices returned %d values: %w", len(vals), domain.ErrReadError)
	}
	prices, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: getAssetsPrices: %w: %T", errUnexpectedType, vals[0])
	}
	return prices, nil
}

var _ domain.OracleReader = (*Oracle)(nil)
