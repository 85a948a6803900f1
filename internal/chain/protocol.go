package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Protocol reads lending-pool state through the pool and its data provider.
type Protocol struct {
	client       *Client
	pool         common.Address
	dataProvider common.Address
	concurrency  int

	mu       sync.Mutex
	reserves []common.Address
}

// NewProtocol creates a Protocol reader.
func NewProtocol(client *Client, pool, dataProvider common.Address, concurrency int) *Protocol {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Protocol{
		client:       client,
		pool:         pool,
		dataProvider: dataProvider,
		concurrency:  concurrency,
	}
}

// ReadAccountSummary implements domain.ProtocolReader.
func (p *Protocol) ReadAccountSummary(ctx context.Context, user common.Address) (domain.AccountSummary, error) {
	vals, err := p.client.call(ctx, poolABI, p.pool, "getUserAccountData", user)
	if err != nil {
		return domain.AccountSummary{}, err
	}
	if len(vals) != 6 {
		return domain.AccountSummary{}, fmt.Errorf("chain: getUserAccountData returned %d values: %w", len(vals), domain.ErrReadError)
	}
	var out [6]*big.Int
	for i, v := range vals {
		if out[i], err = asBig(v); err != nil {
			return domain.AccountSummary{}, err
		}
	}
	return domain.AccountSummary{
		TotalCollateralBase: out[0],
		TotalDebtBase:       out[1],
		HealthFactor:        out[5],
	}, nil
}

// ReadDetailedReserves implements domain.ProtocolReader. It reads the user's
// balances in every listed reserve.
func (p *Protocol) ReadDetailedReserves(ctx context.Context, user common.Address) ([]domain.UserReserve, error) {
	assets, err := p.reservesList(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.UserReserve, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, asset := range assets {
		g.Go(func() error {
			r, err := p.readUserReserve(gctx, asset, user)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Protocol) readUserReserve(ctx context.Context, asset, user common.Address) (domain.UserReserve, error) {
	vals, err := p.client.call(ctx, dataProviderABI, p.dataProvider, "getUserReserveData", asset, user)
	if err != nil {
		return domain.UserReserve{}, err
	}
	if len(vals) != 9 {
		return domain.UserReserve{}, fmt.Errorf("chain: getUserReserveData returned %d values: %w", len(vals), domain.ErrReadError)
	}
	aToken, err := asBig(vals[0])
	if err != nil {
		return domain.UserReserve{}, err
	}
	stable, err := asBig(vals[1])
	if err != nil {
		return domain.UserReserve{}, err
	}
	variable, err := asBig(vals[2])
	if err != nil {
		return domain.UserReserve{}, err
	}
	usage, err := asBool(vals[8])
	if err != nil {
		return domain.UserReserve{}, err
	}
	return domain.UserReserve{
		Asset:             asset,
		CollateralBalance: aToken,
		StableDebt:        stable,
		VariableDebt:      variable,
		UsageAsCollateral: usage,
	}, nil
}

// ReadReserveConfig implements domain.ProtocolReader. The symbol is read from
// the token contract on a best-effort basis.
func (p *Protocol) ReadReserveConfig(ctx context.Context, asset common.Address) (domain.ReserveConfig, error) {
	vals, err := p.client.call(ctx, dataProviderABI, p.dataProvider, "getReserveConfigurationData", asset)
	if err != nil {
		return domain.ReserveConfig{}, err
	}
	if len(vals) != 10 {
		return domain.ReserveConfig{}, fmt.Errorf("chain: getReserveConfigurationData returned %d values: %w", len(vals), domain.ErrReadError)
	}
	var nums [4]*big.Int
	for i := range nums {
		if nums[i], err = asBig(vals[i]); err != nil {
			return domain.ReserveConfig{}, err
		}
	}
	collateral, err := asBool(vals[5])
	if err != nil {
		return domain.ReserveConfig{}, err
	}

	cfg := domain.ReserveConfig{
		Asset:                   asset,
		Decimals:                uint8(nums[0].Uint64()),
		LTVBps:                  nums[1].Uint64(),
		LiquidationThresholdBps: nums[2].Uint64(),
		LiquidationBonusBps:     nums[3].Uint64(),
		CollateralEnabled:       collateral,
	}
	if sym, err := p.client.call(ctx, erc20ABI, asset, "symbol"); err == nil && len(sym) == 1 {
		if s, ok := sym[0].(string); ok {
			cfg.Symbol = s
		}
	}
	return cfg, nil
}

// ReadReservesList implements domain.ProtocolReader. It always reads the
// chain and refreshes the list used by ReadDetailedReserves.
func (p *Protocol) ReadReservesList(ctx context.Context) ([]common.Address, error) {
	vals, err := p.client.call(ctx, poolABI, p.pool, "getReservesList")
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: getReservesList returned %d values: %w", len(vals), domain.ErrReadError)
	}
	assets, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("chain: getReservesList: %w: %T", errUnexpectedType, vals[0])
	}
	p.mu.Lock()
	p.reserves = assets
	p.mu.Unlock()
	return append([]common.Address(nil), assets...), nil
}

// ReadUserEMode implements domain.ProtocolReader.
func (p *Protocol) ReadUserEMode(ctx context.Context, user common.Address) (uint8, error) {
	vals, err := p.client.call(ctx, poolABI, p.pool, "getUserEMode", user)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("chain: getUserEMode returned %d values: %w", len(vals), domain.ErrReadError)
	}
	id, err := asBig(vals[0])
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() || id.Uint64() > 255 {
		return 255, nil
	}
	return uint8(id.Uint64()), nil
}

func (p *Protocol) reservesList(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	cached := p.reserves
	p.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return p.ReadReservesList(ctx)
}

var _ domain.ProtocolReader = (*Protocol)(nil)
